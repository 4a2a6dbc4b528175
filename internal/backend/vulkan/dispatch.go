//go:build vulkan

package vulkan

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/ashgrove/vkcompute/internal/tensor"
)

func (d *device) HostMalloc(size int) (uintptr, error) { return d.pinned.HostMalloc(size) }

func (d *device) HostFree(ptr uintptr) error { return d.pinned.HostFree(ptr) }

// TransformTensor uploads a host 2-D tensor into a freshly allocated
// device-local buffer and rewrites t to reference it. Rank above 2 is
// rejected rather than treated as an assertion failure.
func (d *device) TransformTensor(hostData uintptr, t *tensor.Tensor) error {
	if t.Ne[2] > 1 || t.Ne[3] > 1 {
		return ErrBadUsage
	}
	if !t.Contiguous() {
		return ErrUnsupportedOp
	}

	size := alignStorage(t.RowBytes()*t.Ne[1], d.minStorageAlign)
	buf, err := d.allocDeviceLocal(size, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)|vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
	if err != nil {
		return err
	}

	if err := d.transferSync(d.transferQs[0], hostData, buf, t.RowBytes()*t.Ne[1], transferHostToDevice); err != nil {
		d.destroyBuffer(buf)
		return err
	}

	t.Data = unsafe.Pointer(buf)
	t.Backend = tensor.BackendGPU
	return nil
}

// FreeData releases the device buffer TransformTensor allocated.
func (d *device) FreeData(t *tensor.Tensor) error {
	if t.Data == nil {
		return nil
	}
	buf := (*Buffer)(t.Data)
	err := d.destroyBuffer(buf)
	t.Data = nil
	t.Backend = tensor.BackendCPU
	return err
}

// ComputeForward is the operator dispatcher: it routes MUL_MAT to mulMat
// and MUL to mulElementwise, returning false for anything else so the
// host tensor graph falls back to CPU. Any phase other than COMPUTE is
// treated as already handled (no-op success), and multi-threaded hosts
// only let worker 0 execute (GPU dispatch is never split across host
// threads).
func (d *device) ComputeForward(params *tensor.ComputeParams, t *tensor.Tensor) (bool, error) {
	if params != nil {
		if params.Phase != tensor.PhaseCompute {
			return true, nil
		}
		if params.WorkerIdx != 0 {
			return true, nil
		}
	}

	switch t.Op {
	case tensor.OpMulMat:
		if t.Backend != tensor.BackendGPU && t.Backend != tensor.BackendGPUSplit {
			return false, nil
		}
		if !CanMulMat(t) {
			return false, nil
		}
		if err := d.mulMat(t); err != nil {
			return false, err
		}
		return true, nil
	case tensor.OpMul:
		if t.Backend != tensor.BackendGPU && t.Backend != tensor.BackendGPUSplit {
			return false, nil
		}
		if err := d.mulElementwise(t); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// CanMulMat is the MUL_MAT acceptance gate ComputeForward applies before
// routing to the GPU: the destination type must be one this backend can
// produce (f16 destinations are unimplemented), both operand types must
// have a matching shader family, and either src0 is already GPU-resident
// or the problem is large enough in every dimension to be worth the
// upload cost, mirroring ggml_vk_can_mul_mat's size/backend heuristic.
func CanMulMat(t *tensor.Tensor) bool {
	if t.Type == tensor.TypeF16 {
		return false
	}
	src0, src1 := t.Src[0], t.Src[1]
	if src0 == nil || src1 == nil {
		return false
	}
	if !operandTypesSupported(src0.Type, src1.Type) {
		return false
	}
	if src0.Backend == tensor.BackendGPU || src0.Backend == tensor.BackendGPUSplit {
		return true
	}
	return src0.Ne[1] >= 32 && src1.Ne[1] >= 32 && src0.Ne[0] >= 32
}

// mulElementwise dispatches dst = src0 * src1 for the MUL op, broadcasting
// src1 over src0's higher dimensions when src1's trailing dims are 1, the
// same broadcast rule ggml_vk_op_f32 applies: one dispatch per (i2, i3)
// batch with a push-constant-encoded row offset into src1.
func (d *device) mulElementwise(dst *tensor.Tensor) error {
	src0, src1 := dst.Src[0], dst.Src[1]
	if src0 == nil || src1 == nil {
		return ErrBadUsage
	}
	if !src0.Contiguous() || !src1.Contiguous() {
		return ErrUnsupportedOp
	}
	if src1.Backend != tensor.BackendGPU && src1.Backend != tensor.BackendGPUSplit {
		return ErrBadUsage
	}

	ne00, ne01, ne02, ne03 := src0.Ne[0], src0.Ne[1], src0.Ne[2], src0.Ne[3]
	ne10, ne11, ne12, ne13 := src1.Ne[0], src1.Ne[1], src1.Ne[2], src1.Ne[3]

	n := src0.NElements()
	sizeX := alignStorage(n*4, d.minStorageAlign)

	// src1 is already GPU-resident (TransformTensor's invariant), so its
	// Data field is a *Buffer handle, not a host pointer — bind it
	// directly instead of staging another upload.
	bufY := (*Buffer)(src1.Data)

	bufX, err := d.pool.Acquire(sizeX, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
	if err != nil {
		return err
	}
	defer d.pool.Release(bufX)
	bufD, err := d.pool.Acquire(sizeX, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
	if err != nil {
		return err
	}
	defer d.pool.Release(bufD)

	if err := d.transferSync(d.transferQs[0], uintptr(src0.Data), bufX, n*4, transferHostToDevice); err != nil {
		return err
	}

	p, err := d.pipelines.Get(plainKind(familyMulF32))
	if err != nil {
		return err
	}
	set := p.nextSet()
	writes := []vk.WriteDescriptorSet{
		descriptorWrite(set, 0, bufX.handle, sizeX),
		descriptorWrite(set, 1, bufY.handle, bufY.Size),
		descriptorWrite(set, 2, bufD.handle, sizeX),
	}
	vk.UpdateDescriptorSets(d.handle, uint32(len(writes)), writes, 0, nil)

	seq, err := d.computeQueue.NewSequence()
	if err != nil {
		return err
	}
	vk.CmdBindPipeline(seq.Commands[0], vk.PipelineBindPointCompute, p.pipeline)
	vk.CmdBindDescriptorSets(seq.Commands[0], vk.PipelineBindPointCompute, p.layout, 0, 1, []vk.DescriptorSet{set}, 0, nil)

	perBatch := ne00 * ne01
	groups := uint32((perBatch + int64(p.spec.GroupDenominator) - 1) / int64(p.spec.GroupDenominator))
	for i3 := int64(0); i3 < ne03; i3++ {
		for i2 := int64(0); i2 < ne02; i2++ {
			i1 := (i3%ne13)*ne12*ne11 + (i2%ne12)*ne11
			pc := pushConstantsMul{
				Ne00: uint32(ne00), Ne01: uint32(ne01),
				Nb00: uint32(ne00), Nb01: uint32(ne00), Nb1: uint32(ne00),
				Offset0: 0, Offset1: uint32(i1 * ne10),
			}
			vk.CmdPushConstants(seq.Commands[0], p.layout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, uint32(p.spec.PushConstants), unsafePtr(&pc))
			vk.CmdDispatch(seq.Commands[0], groups, 1, 1)
		}
	}
	sem, err := d.createSemaphore()
	if err != nil {
		return err
	}
	seq.SignalOn(sem)
	defer vk.DestroySemaphore(d.handle, sem, nil)

	if err := d.computeQueue.Submit(seq, nil); err != nil {
		return err
	}

	if err := d.transferSyncWait(d.transferQs[0], uintptr(dst.Data), bufD, n*4, transferDeviceToHost, sem, vk.PipelineStageFlags(vk.PipelineStageTransferBit)); err != nil {
		return err
	}
	return d.finishOp()
}
