package vulkan

// pipelineFamily names one shader program family. Matmul families are
// further split into tile-size and alignment variants by pipelineKind;
// every other family has exactly one variant. The inventory mirrors
// ggml's vk_pipeline_* globals for its Vulkan backend.
type pipelineFamily int

const (
	familyMatMulF32 pipelineFamily = iota
	familyMatMulF16
	familyMatMulF16F32
	familyMatMulSplitKReduce
	familyDMMVF16
	familyDMMVF16F32
	familyDMMVQ4_0
	familyDMMVQ4_0F32
	familyDequantQ4_0
	familyF32ToF16
	familyMulF32
)

func (f pipelineFamily) String() string {
	names := [...]string{
		"matmul_f32", "matmul_f16", "matmul_f16_f32", "matmul_split_k_reduce",
		"dequant_mul_mat_vec_f16", "dequant_mul_mat_vec_f16_f32",
		"dequant_mul_mat_vec_q4_0", "dequant_mul_mat_vec_q4_0_f32",
		"dequant_q4_0", "f32_to_f16", "mul_f32",
	}
	if int(f) < 0 || int(f) >= len(names) {
		return "unknown"
	}
	return names[f]
}

// isTiledMatMul reports whether f is one of the three matmul families that
// are further specialized by tile size and K-alignment.
func (f pipelineFamily) isTiledMatMul() bool {
	switch f {
	case familyMatMulF32, familyMatMulF16, familyMatMulF16F32:
		return true
	default:
		return false
	}
}

// pipelineKind identifies one compiled pipeline. Tile and Aligned are only
// meaningful when Family.isTiledMatMul(); every other family's callers pass
// the zero value for both. Variant selection is modeled as an exhaustive
// match over this tagged struct rather than a flat integer per concrete
// shader, so adding a tile or alignment variant never touches the
// existing cases.
type pipelineKind struct {
	Family  pipelineFamily
	Tile    tileSize
	Aligned bool
}

func matMulKind(family pipelineFamily, tile tileSize, aligned bool) pipelineKind {
	return pipelineKind{Family: family, Tile: tile, Aligned: aligned}
}

func plainKind(family pipelineFamily) pipelineKind {
	return pipelineKind{Family: family}
}

func (k pipelineKind) String() string {
	if !k.Family.isTiledMatMul() {
		return k.Family.String()
	}
	suffix := tileSuffix(k.Tile)
	if k.Aligned {
		return k.Family.String() + "_aligned_" + suffix
	}
	return k.Family.String() + "_" + suffix
}

func tileSuffix(t tileSize) string {
	switch t {
	case tileSmall:
		return "s"
	case tileMedium:
		return "m"
	default:
		return "l"
	}
}

func (k pipelineKind) shaderFile() string {
	if k.Family.isTiledMatMul() {
		if k.Aligned {
			return k.Family.String() + "_aligned_" + tileSuffix(k.Tile) + ".spv"
		}
		return k.Family.String() + "_" + tileSuffix(k.Tile) + ".spv"
	}
	return k.Family.String() + ".spv"
}

// pipelineSpec is one resolved pipeline descriptor: the SPIR-V blob to
// load, the push-constant byte size, the descriptor-set binding count, and
// the work-group denominator the dispatcher divides the problem size by
// when computing dispatch extents.
type pipelineSpec struct {
	Kind             pipelineKind
	ShaderFile       string
	PushConstants    int
	Bindings         int
	GroupDenominator int
}

// specFor resolves the static fields of kind via a switch rather than a
// flat registry table, since the matmul families are combinatorial (3
// type combos × 2 alignments × 3 tiles = 18 variants) and enumerating
// every combination by hand would drift from pipelineRegistry.
func specFor(kind pipelineKind) pipelineSpec {
	spec := pipelineSpec{Kind: kind, ShaderFile: kind.shaderFile()}
	switch {
	case kind.Family.isTiledMatMul():
		spec.Bindings = 3
		spec.PushConstants = 28 // m, n, k, strideA, strideB, strideD, ceil_div(strideA, splitK)
		spec.GroupDenominator = tileDim(kind.Tile)
	case kind.Family == familyMatMulSplitKReduce:
		spec.Bindings = 2
		spec.PushConstants = 16 // M, N, splitK, pad
		spec.GroupDenominator = 32
	case kind.Family == familyDMMVF16 || kind.Family == familyDMMVF16F32 ||
		kind.Family == familyDMMVQ4_0 || kind.Family == familyDMMVQ4_0F32:
		spec.Bindings = 3
		spec.PushConstants = 4 // ncols
		spec.GroupDenominator = 64
	case kind.Family == familyDequantQ4_0:
		spec.Bindings = 2
		spec.PushConstants = 16 // rows, K, K, K
		spec.GroupDenominator = 32
	case kind.Family == familyF32ToF16:
		spec.Bindings = 2
		spec.PushConstants = 4 // count
		spec.GroupDenominator = 64
	case kind.Family == familyMulF32:
		spec.Bindings = 3
		spec.PushConstants = 32 // ne00, ne01, ne00, ne00, ne00, 0, i1*ne10, 0
		spec.GroupDenominator = 64
	}
	return spec
}

// tileDim returns the square work-group tile dimension for t: small (32),
// medium (64), large (128). The tiled matmul families use this both as
// their dispatch denominator and, via tileAlign, as the K-alignment
// threshold that picks the aligned kernel variant.
func tileDim(t tileSize) int {
	switch t {
	case tileSmall:
		return 32
	case tileMedium:
		return 64
	default:
		return 128
	}
}

// tileAlign is the K-alignment boundary checked when choosing between the
// aligned and unaligned kernel for a tile size.
func tileAlign(t tileSize) int64 { return int64(tileDim(t)) }

// pipelineRegistry enumerates every concrete pipeline kind this backend
// can load, used by the descriptor-pool-mode probe to size its trial
// allocation and by pipelines_test.go to check the inventory is complete.
func pipelineRegistry() []pipelineSpec {
	var out []pipelineSpec
	for _, family := range []pipelineFamily{familyMatMulF32, familyMatMulF16, familyMatMulF16F32} {
		for _, tile := range []tileSize{tileSmall, tileMedium, tileLarge} {
			for _, aligned := range []bool{false, true} {
				out = append(out, specFor(matMulKind(family, tile, aligned)))
			}
		}
	}
	for _, family := range []pipelineFamily{
		familyMatMulSplitKReduce,
		familyDMMVF16, familyDMMVF16F32, familyDMMVQ4_0, familyDMMVQ4_0F32,
		familyDequantQ4_0, familyF32ToF16, familyMulF32,
	} {
		out = append(out, specFor(plainKind(family)))
	}
	return out
}

// pushConstantsMatMul is the push-constant layout for the primary matmul
// dispatch, field order matching ggml's vk_mat_mat_push_constants: m, n, k,
// then the row strides of A, B, and D, then ceil_div(strideA, splitK) — the
// per-slice K extent each split-K work-group reduces over, sent even when
// splitK==1 (where it equals strideA).
type pushConstantsMatMul struct {
	M, N, K    uint32
	StrideA    uint32
	StrideB    uint32
	StrideD    uint32
	SplitKStep uint32
}

// pushConstantsSplitKReduce is the push-constant layout for the split-K
// reduction pass, field order matching ggml_vk_mat_mat's reduce dispatch.
type pushConstantsSplitKReduce struct {
	M, N   uint32
	SplitK uint32
	_      uint32
}

// pushConstantsMatVec is the single-field push-constant layout the
// dequantize_mul_mat_vec kernels take.
type pushConstantsMatVec struct {
	Ncols uint32
}

// pushConstantsDequant is the push-constant layout for both the standalone
// dequant_q4_0 kernel and the dequantize stage mulMat runs ahead of a
// quantized matmul: rows, K, K, K (the last two are padding matching the
// dequant kernel's declared layout).
type pushConstantsDequant struct {
	Rows, K0, K1, K2 uint32
}

// pushConstantsMul is the mul_f32 push-constant layout: (ne00, ne01, ne00,
// ne00, ne00, 0, i1·ne10, 0). Offset1 is recomputed by the caller for
// every (i2, i3) batch to implement src1 broadcasting.
type pushConstantsMul struct {
	Ne00, Ne01      uint32
	Nb00, Nb01, Nb1 uint32
	Offset0         uint32
	Offset1         uint32
	_               uint32
}
