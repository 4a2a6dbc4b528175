//go:build vulkan

package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/ashgrove/vkcompute/internal/tensor"
)

// matmulPlan captures the shape and pipeline decisions for one MUL_MAT
// dispatch, mirroring the fields ggml_vk_mat_mat/ggml_vk_mat_mat_id thread
// through in ggml's Vulkan backend.
type matmulPlan struct {
	M, N, K       int64
	Batch         int64
	tile          tileSize
	splitK        int
	isVec         bool
	pipeline      pipelineKind
	needsDequantX bool
	strideX       int64 // row stride of bufX in elements; 0 means "packed, equal to K"
}

func planMatMul(d *device, dst *tensor.Tensor) (matmulPlan, error) {
	src0, src1 := dst.Src[0], dst.Src[1]
	if src0 == nil || src1 == nil {
		return matmulPlan{}, ErrBadUsage
	}

	m := src0.Ne[1]
	k := src0.Ne[0]
	n := src1.Ne[1]
	batch := src1.Ne[2] * src1.Ne[3]
	if batch < 1 {
		batch = 1
	}

	plan := matmulPlan{M: m, N: n, K: k, Batch: batch}

	// The dedicated mat-vec specialization only applies when N==1 and the
	// left operand needs dequantizing or is f16; a plain f32xf32
	// matrix-vector product still runs the tiled path with N==1 (it will
	// simply pick the small tile).
	if n == 1 && (src0.Type.IsQuantized() || src0.Type.IsFloat16()) {
		plan.isVec = true
		family, err := dmmvFamily(src0.Type, src1.Type)
		if err != nil {
			return matmulPlan{}, err
		}
		plan.pipeline = plainKind(family)
		return plan, nil
	}

	plan.tile = selectTileSize(m, n)
	plan.splitK = guessSplitK(m, n, k)

	family, err := matMulFamily(src0.Type, src1.Type)
	if err != nil {
		return matmulPlan{}, err
	}
	aligned := k == alignStorage(k, tileAlign(plan.tile))
	plan.pipeline = matMulKind(family, plan.tile, aligned)
	plan.needsDequantX = src0.Type.IsQuantized()
	return plan, nil
}

// matMulFamily picks the matmul shader family from the (x-is-16-bit,
// y-is-16-bit) combination of src0/src1 types. A quantized src0 is
// dequantized to fp16 before the matmul dispatch, so it counts as "x is
// 16-bit" for this decision. The (false, true) combination — a plain f32
// weight multiplied by an f16 activation — never has a shader and is
// rejected.
func matMulFamily(src0Type, src1Type tensor.Type) (pipelineFamily, error) {
	x16 := src0Type.IsFloat16() || src0Type.IsQuantized()
	y16 := src1Type.IsFloat16()
	switch {
	case !x16 && y16:
		return 0, ErrBadUsage
	case !x16 && !y16:
		return familyMatMulF32, nil
	case x16 && y16:
		return familyMatMulF16, nil
	default:
		return familyMatMulF16F32, nil
	}
}

// dmmvFamily picks the fused dequantize-mul-mat-vec shader from src0's
// type and whether src1 is fp16.
func dmmvFamily(src0Type, src1Type tensor.Type) (pipelineFamily, error) {
	y16 := src1Type.IsFloat16()
	switch {
	case src0Type.IsQuantized() && y16:
		return familyDMMVQ4_0, nil
	case src0Type.IsQuantized() && !y16:
		return familyDMMVQ4_0F32, nil
	case src0Type.IsFloat16() && y16:
		return familyDMMVF16, nil
	case src0Type.IsFloat16() && !y16:
		return familyDMMVF16F32, nil
	default:
		return 0, ErrBadUsage
	}
}

// operandTypesSupported reports whether some shader family exists for the
// (src0Type, src1Type) combination, checking both the tiled matmul
// families and the fused dequantize-mul-mat-vec families.
func operandTypesSupported(src0Type, src1Type tensor.Type) bool {
	if _, err := matMulFamily(src0Type, src1Type); err == nil {
		return true
	}
	if _, err := dmmvFamily(src0Type, src1Type); err == nil {
		return true
	}
	return false
}

// mulMat executes dst = src0 * src1 (ggml's MUL_MAT convention: src0 is
// the [k,m] weight matrix, src1 is the [k,n] activation matrix, dst is
// [m,n]), pipelining uploads, compute, and downloads across three queues.
func (d *device) mulMat(dst *tensor.Tensor) error {
	plan, err := planMatMul(d, dst)
	if err != nil {
		return err
	}
	if dst.Type == tensor.TypeF16 {
		// f16-dst matmul is unimplemented.
		return ErrUnsupportedOp
	}

	if plan.isVec {
		return d.mulMatVec(dst, plan)
	}

	src0, src1 := dst.Src[0], dst.Src[1]

	elemD := int64(4) // dst is always f32 in this module's scope
	rowBytesX := src0.RowBytes()
	rowBytesY := src1.RowBytes()
	sizeY := alignStorage(rowBytesY*plan.N, d.minStorageAlign)
	sizeD := alignStorage(plan.M*plan.N*elemD, d.minStorageAlign)

	var bufX *Buffer
	var bufQx *Buffer
	var xPlan copyPlan
	if plan.needsDequantX {
		sizeQx := alignStorage(rowBytesX*plan.M, d.minStorageAlign)
		bufQx, err = d.pool.Acquire(sizeQx, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
		if err != nil {
			return err
		}
		defer d.pool.Release(bufQx)

		sizeXf16 := alignStorage(plan.M*plan.K*2, d.minStorageAlign)
		bufX, err = d.pool.Acquire(sizeXf16, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit))
		if err != nil {
			return err
		}
	} else {
		// bufX's row pitch is padded to the device's storage alignment so
		// the upload below can zero-fill the padded columns rather than
		// leave them uninitialized; recordMatMulDispatch is told the real
		// stride via plan.strideX instead of assuming the pitch equals K.
		xPlan = planCopy(rowBytesX, plan.M, plan.M, d.minStorageAlign)
		sizeX := alignStorage(xPlan.PaddedPitch*xPlan.Rows, d.minStorageAlign)
		bufX, err = d.pool.Acquire(sizeX, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
		if err != nil {
			return err
		}
		plan.strideX = xPlan.PaddedPitch / int64(src0.Type.BlockBytes())
	}
	defer d.pool.Release(bufX)

	// bufY and bufD are pipelined submitBatchSize-deep: every batch within
	// one SubmitBatch chunk gets its own distinct slot, so a dispatch
	// targeting slot i never races the still-pending download reading
	// slot i from an earlier batch in the same chunk.
	var bufY, bufD [submitBatchSize]*Buffer
	for i := range bufY {
		bufY[i], err = d.pool.Acquire(sizeY, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
		if err != nil {
			return err
		}
		defer d.pool.Release(bufY[i])

		bufD[i], err = d.pool.Acquire(sizeD, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
		if err != nil {
			return err
		}
		defer d.pool.Release(bufD[i])
	}

	var splitBuf [submitBatchSize]*Buffer
	if plan.splitK > 1 {
		sizeSplit := alignStorage(plan.M*plan.N*int64(plan.splitK)*elemD, d.minStorageAlign)
		for i := range splitBuf {
			splitBuf[i], err = d.pool.Acquire(sizeSplit, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit))
			if err != nil {
				return err
			}
			defer d.pool.Release(splitBuf[i])
		}
	}

	pipeline, err := d.pipelines.Get(plan.pipeline)
	if err != nil {
		return err
	}

	if plan.needsDequantX {
		// X is dequantized once before the batch loop since this module
		// does not support the mul_mat_id expert-routing variant where
		// the weight operand varies per batch. dequantizeX blocks until
		// the dispatch retires so the batch loop never reads bufX before
		// the dequantize pass has written it.
		if err := d.transferSync(d.transferQs[0], uintptr(src0.Data), bufQx, rowBytesX*plan.M, transferHostToDevice); err != nil {
			return err
		}
		if err := d.dequantizeX(bufQx, bufX, plan.M, plan.K); err != nil {
			return err
		}
	} else {
		if err := d.transferSync2D(d.transferQs[0], uintptr(src0.Data), bufX, xPlan, transferHostToDevice); err != nil {
			return err
		}
	}

	// Batches submit in chunks of submitBatchSize via SubmitBatch; each
	// batch's compute dispatch signals its own semaphore, and the matching
	// download waits on it instead of racing the still-running dispatch —
	// the matmul -> download edge the unbatched version dropped entirely.
	for chunkStart := int64(0); chunkStart < plan.Batch; chunkStart += submitBatchSize {
		chunkEnd := chunkStart + submitBatchSize
		if chunkEnd > plan.Batch {
			chunkEnd = plan.Batch
		}

		seqs := make([]*Sequence, 0, chunkEnd-chunkStart)
		sems := make([]vk.Semaphore, 0, chunkEnd-chunkStart)

		for batch := chunkStart; batch < chunkEnd; batch++ {
			slot := batch - chunkStart
			trq := d.transferQs[batch%2]

			if err := d.transferSync(trq, uintptr(src1.Data)+uintptr(batch*rowBytesY*plan.N), bufY[slot], rowBytesY*plan.N, transferHostToDevice); err != nil {
				return err
			}

			seq, err := d.computeQueue.NewSequence()
			if err != nil {
				return err
			}
			if !d.sharedQueue && d.computeFamily != trq.family {
				recordOwnershipTransfer(seq, bufY[slot], trq.family, d.computeFamily)
			}

			target := bufD[slot]
			if plan.splitK > 1 {
				target = splitBuf[slot]
			}
			d.recordMatMulDispatch(seq, pipeline, bufX, bufY[slot], target, plan)

			if plan.splitK > 1 {
				recordComputeBarrier(seq, splitBuf[slot])
				if err := d.recordSplitKReduce(seq, splitBuf[slot], bufD[slot], plan); err != nil {
					return err
				}
			}

			sem, err := d.createSemaphore()
			if err != nil {
				return err
			}
			seq.SignalOn(sem)

			seqs = append(seqs, seq)
			sems = append(sems, sem)
		}

		if err := d.computeQueue.SubmitBatch(seqs, nil); err != nil {
			for _, sem := range sems {
				vk.DestroySemaphore(d.handle, sem, nil)
			}
			return err
		}

		for i := range seqs {
			batch := chunkStart + int64(i)
			slot := batch - chunkStart
			nextTrq := d.transferQs[(batch+1)%2]

			err := d.transferSyncWait(nextTrq, uintptr(dst.Data)+uintptr(batch*plan.M*plan.N*elemD), bufD[slot], plan.M*plan.N*elemD, transferDeviceToHost, sems[i], vk.PipelineStageFlags(vk.PipelineStageTransferBit))
			vk.DestroySemaphore(d.handle, sems[i], nil)
			if err != nil {
				return err
			}
		}
	}

	return d.finishOp()
}

// recordComputeBarrier inserts a compute-to-compute buffer memory barrier
// so a dispatch reading buf observes the writes of an earlier dispatch
// recorded into the same sequence, needed between the split-K matmul pass
// and its reduce pass since two CmdDispatch calls on the same buffer carry
// no implicit ordering guarantee.
func recordComputeBarrier(seq *Sequence, buf *Buffer) {
	barrier := vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessShaderWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessShaderReadBit),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              buf.handle,
		Offset:              0,
		Size:                vk.DeviceSize(buf.Size),
	}
	vk.CmdPipelineBarrier(seq.Commands[0],
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 0, nil, 1, []vk.BufferMemoryBarrier{barrier}, 0, nil)
}

func (d *device) recordMatMulDispatch(seq *Sequence, p *compiledPipeline, bufX, bufY, bufD *Buffer, plan matmulPlan) {
	set := p.nextSet()
	writes := []vk.WriteDescriptorSet{
		descriptorWrite(set, 0, bufX.handle, bufX.Size),
		descriptorWrite(set, 1, bufY.handle, bufY.Size),
		descriptorWrite(set, 2, bufD.handle, bufD.Size),
	}
	vk.UpdateDescriptorSets(d.handle, uint32(len(writes)), writes, 0, nil)

	vk.CmdBindPipeline(seq.Commands[0], vk.PipelineBindPointCompute, p.pipeline)
	vk.CmdBindDescriptorSets(seq.Commands[0], vk.PipelineBindPointCompute, p.layout, 0, 1, []vk.DescriptorSet{set}, 0, nil)

	strideA := plan.K
	if plan.strideX > 0 {
		strideA = plan.strideX
	}
	splitK := int64(plan.splitK)
	if splitK < 1 {
		splitK = 1
	}
	splitKStep := (strideA + splitK - 1) / splitK
	pc := pushConstantsMatMul{
		M: uint32(plan.M), N: uint32(plan.N), K: uint32(plan.K),
		StrideA: uint32(strideA), StrideB: uint32(plan.K), StrideD: uint32(plan.M),
		SplitKStep: uint32(splitKStep),
	}
	vk.CmdPushConstants(seq.Commands[0], p.layout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, uint32(p.spec.PushConstants), unsafePtr(&pc))

	// split_k folds into the X extent rather than a third dispatch
	// dimension: each of the splitK work-group rows along X reduces its own
	// K-slice of width splitKStep into a distinct M-sized band of splitBuf.
	groupsX := uint32((plan.M*splitK + int64(p.spec.GroupDenominator) - 1) / int64(p.spec.GroupDenominator))
	groupsY := uint32((plan.N + int64(p.spec.GroupDenominator) - 1) / int64(p.spec.GroupDenominator))
	vk.CmdDispatch(seq.Commands[0], groupsX, groupsY, 1)
}

// dequantizeX runs the dequant_q4_0 pipeline to unpack bufQx (rows of
// Q4_0 blocks) into bufXf16 (fp16), on the compute queue.
func (d *device) dequantizeX(bufQx, bufXf16 *Buffer, rows, k int64) error {
	p, err := d.pipelines.Get(plainKind(familyDequantQ4_0))
	if err != nil {
		return err
	}
	set := p.nextSet()
	writes := []vk.WriteDescriptorSet{
		descriptorWrite(set, 0, bufQx.handle, bufQx.Size),
		descriptorWrite(set, 1, bufXf16.handle, bufXf16.Size),
	}
	vk.UpdateDescriptorSets(d.handle, uint32(len(writes)), writes, 0, nil)

	seq, err := d.computeQueue.NewSequence()
	if err != nil {
		return err
	}
	vk.CmdBindPipeline(seq.Commands[0], vk.PipelineBindPointCompute, p.pipeline)
	vk.CmdBindDescriptorSets(seq.Commands[0], vk.PipelineBindPointCompute, p.layout, 0, 1, []vk.DescriptorSet{set}, 0, nil)

	pc := pushConstantsDequant{Rows: uint32(rows), K0: uint32(k), K1: uint32(k), K2: uint32(k)}
	vk.CmdPushConstants(seq.Commands[0], p.layout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, uint32(p.spec.PushConstants), unsafePtr(&pc))

	elements := rows * k
	groups := uint32((elements + int64(p.spec.GroupDenominator) - 1) / int64(p.spec.GroupDenominator))
	vk.CmdDispatch(seq.Commands[0], groups, 1, 1)
	if err := d.computeQueue.Submit(seq, nil); err != nil {
		return err
	}
	// Blocks until the dequantize dispatch retires: the batch loop that
	// follows reads bufXf16 from a separate submission with no semaphore
	// of its own, so this call must not return before the write lands.
	return d.computeQueue.WaitIdle()
}

func (d *device) recordSplitKReduce(seq *Sequence, splitBuf, bufD *Buffer, plan matmulPlan) error {
	p, err := d.pipelines.Get(plainKind(familyMatMulSplitKReduce))
	if err != nil {
		return err
	}
	set := p.nextSet()
	writes := []vk.WriteDescriptorSet{
		descriptorWrite(set, 0, splitBuf.handle, splitBuf.Size),
		descriptorWrite(set, 1, bufD.handle, bufD.Size),
	}
	vk.UpdateDescriptorSets(d.handle, uint32(len(writes)), writes, 0, nil)

	vk.CmdBindPipeline(seq.Commands[0], vk.PipelineBindPointCompute, p.pipeline)
	vk.CmdBindDescriptorSets(seq.Commands[0], vk.PipelineBindPointCompute, p.layout, 0, 1, []vk.DescriptorSet{set}, 0, nil)

	pc := pushConstantsSplitKReduce{M: uint32(plan.M), N: uint32(plan.N), SplitK: uint32(plan.splitK)}
	vk.CmdPushConstants(seq.Commands[0], p.layout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, uint32(p.spec.PushConstants), unsafePtr(&pc))

	groups := uint32((plan.M*plan.N + int64(p.spec.GroupDenominator) - 1) / int64(p.spec.GroupDenominator))
	vk.CmdDispatch(seq.Commands[0], groups, 1, 1)
	return nil
}

// mulMatVec is the matrix-vector specialization (n==1), which fuses
// dequantization into the same dispatch rather than materializing a
// dequantized copy of src0 first.
func (d *device) mulMatVec(dst *tensor.Tensor, plan matmulPlan) error {
	src0, src1 := dst.Src[0], dst.Src[1]

	sizeX := alignStorage(src0.RowBytes()*plan.M, d.minStorageAlign)
	sizeY := alignStorage(src1.RowBytes(), d.minStorageAlign)
	sizeD := alignStorage(plan.M*4, d.minStorageAlign)

	bufX, err := d.pool.Acquire(sizeX, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
	if err != nil {
		return err
	}
	defer d.pool.Release(bufX)
	bufY, err := d.pool.Acquire(sizeY, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
	if err != nil {
		return err
	}
	defer d.pool.Release(bufY)
	bufD, err := d.pool.Acquire(sizeD, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
	if err != nil {
		return err
	}
	defer d.pool.Release(bufD)

	if err := d.transferSync(d.transferQs[0], uintptr(src0.Data), bufX, src0.RowBytes()*plan.M, transferHostToDevice); err != nil {
		return err
	}
	if err := d.transferSync(d.transferQs[1], uintptr(src1.Data), bufY, src1.RowBytes(), transferHostToDevice); err != nil {
		return err
	}

	p, err := d.pipelines.Get(plan.pipeline)
	if err != nil {
		return err
	}

	seq, err := d.computeQueue.NewSequence()
	if err != nil {
		return err
	}
	if err := d.recordMatVecDispatch(seq, p, bufX, bufY, bufD, plan); err != nil {
		return err
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

	if err := d.transferSyncWait(d.transferQs[0], uintptr(dst.Data), bufD, plan.M*4, transferDeviceToHost, sem, vk.PipelineStageFlags(vk.PipelineStageTransferBit)); err != nil {
		return err
	}
	return d.finishOp()
}

// recordMatVecDispatch issues the dequantize_mul_mat_vec dispatch with a
// (M, 1, 1) work-group grid and a single ncols=K push constant, distinct
// from recordMatMulDispatch's tiled grid and seven-field push-constant
// layout.
func (d *device) recordMatVecDispatch(seq *Sequence, p *compiledPipeline, bufX, bufY, bufD *Buffer, plan matmulPlan) error {
	set := p.nextSet()
	writes := []vk.WriteDescriptorSet{
		descriptorWrite(set, 0, bufX.handle, bufX.Size),
		descriptorWrite(set, 1, bufY.handle, bufY.Size),
		descriptorWrite(set, 2, bufD.handle, bufD.Size),
	}
	vk.UpdateDescriptorSets(d.handle, uint32(len(writes)), writes, 0, nil)

	vk.CmdBindPipeline(seq.Commands[0], vk.PipelineBindPointCompute, p.pipeline)
	vk.CmdBindDescriptorSets(seq.Commands[0], vk.PipelineBindPointCompute, p.layout, 0, 1, []vk.DescriptorSet{set}, 0, nil)

	pc := pushConstantsMatVec{Ncols: uint32(plan.K)}
	vk.CmdPushConstants(seq.Commands[0], p.layout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, uint32(p.spec.PushConstants), unsafePtr(&pc))

	vk.CmdDispatch(seq.Commands[0], uint32(plan.M), 1, 1)
	return nil
}

func descriptorWrite(set vk.DescriptorSet, binding uint32, buf vk.Buffer, size int64) vk.WriteDescriptorSet {
	return vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		PBufferInfo: []vk.DescriptorBufferInfo{
			{Buffer: buf, Offset: 0, Range: vk.DeviceSize(size)},
		},
	}
}

func unsafePtr(p any) unsafe.Pointer {
	switch v := p.(type) {
	case *pushConstantsMatMul:
		return unsafe.Pointer(v)
	case *pushConstantsSplitKReduce:
		return unsafe.Pointer(v)
	case *pushConstantsMatVec:
		return unsafe.Pointer(v)
	case *pushConstantsDequant:
		return unsafe.Pointer(v)
	case *pushConstantsMul:
		return unsafe.Pointer(v)
	default:
		panic(fmt.Sprintf("vulkan: unsafePtr: unsupported type %T", p))
	}
}
