//go:build vulkan

package vulkan

import (
	"unsafe"

	"github.com/ashgrove/vkcompute/internal/tensor"
)

func (d *device) runSelfTestCase(c SelfTestCase) SelfTestResult {
	src0 := syntheticTensor(c.M, c.K, c.Type, 0.5)
	src1 := syntheticTensor(c.N, c.K, tensor.TypeF32, -0.25)
	dst := &tensor.Tensor{
		Op:   tensor.OpMulMat,
		Type: tensor.TypeF32,
		Ne:   [4]int64{c.M, c.N, 1, 1},
		Nb:   [4]int64{4, 4 * c.M, 4 * c.M * c.N, 4 * c.M * c.N},
		Src:  [2]*tensor.Tensor{src0, src1},
	}
	out := make([]float32, c.M*c.N)
	dst.Data = unsafe.Pointer(&out[0])
	dst.Backend = tensor.BackendGPU

	if err := d.mulMat(dst); err != nil {
		return SelfTestResult{Case: c, Err: err}
	}

	if !d.opts.CheckKernels {
		return SelfTestResult{Case: c}
	}

	a, err := toFloat32Rows(src0, c.M, c.K)
	if err != nil {
		return SelfTestResult{Case: c, Err: err}
	}
	b, err := toFloat32Rows(src1, c.N, c.K)
	if err != nil {
		return SelfTestResult{Case: c, Err: err}
	}
	ref := referenceMatMul(a, b, c.M, c.N, c.K)
	var maxDiff float32
	for i := range ref {
		diff := ref[i] - out[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	return SelfTestResult{Case: c, MaxAbsDiff: maxDiff}
}

func syntheticTensor(rows, cols int64, typ tensor.Type, scale float32) *tensor.Tensor {
	n := rows * cols
	switch typ {
	case tensor.TypeQ4_0:
		blocks := (n + tensor.QK4_0 - 1) / tensor.QK4_0
		raw := make([]byte, blocks*tensor.Q4_0BlockBytes)
		return &tensor.Tensor{
			Type: typ,
			Ne:   [4]int64{cols, rows, 1, 1},
			Nb:   [4]int64{1, tensor.Q4_0BlockBytes * cols / tensor.QK4_0, 0, 0},
			Data: unsafe.Pointer(&raw[0]),
		}
	default:
		data := make([]float32, n)
		for i := range data {
			data[i] = (float32(i%7) + 1) * scale
		}
		return &tensor.Tensor{
			Type: tensor.TypeF32,
			Ne:   [4]int64{cols, rows, 1, 1},
			Nb:   [4]int64{4, 4 * cols, 0, 0},
			Data: unsafe.Pointer(&data[0]),
		}
	}
}

// referenceMatMul is a plain CPU row-major matmul used only to check
// kernel correctness when Options.CheckKernels is set, adapted to this
// module's row-major [k,m]x[k,n]->[m,n] convention.
func referenceMatMul(a, b []float32, m, n, k int64) []float32 {
	out := make([]float32, m*n)
	for row := int64(0); row < m; row++ {
		for col := int64(0); col < n; col++ {
			var sum float32
			for i := int64(0); i < k; i++ {
				sum += a[row*k+i] * b[col*k+i]
			}
			out[col*m+row] = sum
		}
	}
	return out
}

// toFloat32Rows materializes t's rows*k elements as plain float32, decoding
// Q4_0 blocks with DequantQ4_0Block so the CPU reference path can compare
// against a quantized src0 the same way it compares against a float one.
func toFloat32Rows(t *tensor.Tensor, rows, k int64) ([]float32, error) {
	if t.Type != tensor.TypeQ4_0 {
		return unsafe.Slice((*float32)(t.Data), rows*k), nil
	}
	blocksPerRow := (k + tensor.QK4_0 - 1) / tensor.QK4_0
	raw := unsafe.Slice((*byte)(t.Data), rows*blocksPerRow*tensor.Q4_0BlockBytes)
	out := make([]float32, rows*k)
	block := make([]float32, tensor.QK4_0)
	for row := int64(0); row < rows; row++ {
		for b := int64(0); b < blocksPerRow; b++ {
			off := (row*blocksPerRow + b) * tensor.Q4_0BlockBytes
			if err := tensor.DequantQ4_0Block(raw[off:off+tensor.Q4_0BlockBytes], block); err != nil {
				return nil, err
			}
			copy(out[row*k+b*tensor.QK4_0:], block)
		}
	}
	return out, nil
}
