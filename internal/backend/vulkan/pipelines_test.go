package vulkan

import "testing"

func TestPipelineRegistryHasTwentySixEntries(t *testing.T) {
	reg := pipelineRegistry()
	if len(reg) != 26 {
		t.Fatalf("pipelineRegistry has %d entries; want 26 (3 matmul families x 3 tiles x 2 alignments, plus 8 plain kinds)", len(reg))
	}
	seen := map[pipelineKind]bool{}
	for _, p := range reg {
		if seen[p.Kind] {
			t.Fatalf("duplicate pipeline kind %v", p.Kind)
		}
		seen[p.Kind] = true
		if p.ShaderFile == "" {
			t.Errorf("pipeline %v has empty shader file", p.Kind)
		}
	}
}

func TestMatMulShaderNamingMatchesSpec(t *testing.T) {
	cases := []struct {
		kind pipelineKind
		want string
	}{
		{matMulKind(familyMatMulF32, tileSmall, false), "matmul_f32_s.spv"},
		{matMulKind(familyMatMulF32, tileSmall, true), "matmul_f32_aligned_s.spv"},
		{matMulKind(familyMatMulF16, tileMedium, false), "matmul_f16_m.spv"},
		{matMulKind(familyMatMulF16F32, tileLarge, true), "matmul_f16_f32_aligned_l.spv"},
	}
	for _, c := range cases {
		if got := c.kind.shaderFile(); got != c.want {
			t.Errorf("shaderFile(%v) = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestDequantMulMatVecShaderNaming(t *testing.T) {
	cases := []struct {
		family pipelineFamily
		want   string
	}{
		{familyDMMVF16, "dequant_mul_mat_vec_f16.spv"},
		{familyDMMVF16F32, "dequant_mul_mat_vec_f16_f32.spv"},
		{familyDMMVQ4_0, "dequant_mul_mat_vec_q4_0.spv"},
		{familyDMMVQ4_0F32, "dequant_mul_mat_vec_q4_0_f32.spv"},
	}
	for _, c := range cases {
		if got := plainKind(c.family).shaderFile(); got != c.want {
			t.Errorf("shaderFile(%v) = %q, want %q", c.family, got, c.want)
		}
	}
}

func TestFusedMatVecDenominatorDoublesPlainDequant(t *testing.T) {
	fused := specFor(plainKind(familyDMMVQ4_0))
	plain := specFor(plainKind(familyDequantQ4_0))
	if fused.GroupDenominator != 2*plain.GroupDenominator {
		t.Fatalf("fused dmmv_q4_0 denominator = %d; want 2x plain dequant_q4_0 denominator %d",
			fused.GroupDenominator, plain.GroupDenominator)
	}
}

func TestTileDimMatchesFootprints(t *testing.T) {
	if tileDim(tileSmall) != 32 || tileDim(tileMedium) != 64 || tileDim(tileLarge) != 128 {
		t.Fatalf("tileDim mismatch: small=%d medium=%d large=%d", tileDim(tileSmall), tileDim(tileMedium), tileDim(tileLarge))
	}
}
