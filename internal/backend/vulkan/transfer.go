//go:build vulkan

package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// transferDirection names which way a copy moves relative to the device.
type transferDirection int

const (
	transferHostToDevice transferDirection = iota
	transferDeviceToHost
)

// copyPlan describes one 2-D (row-major) host<->device copy, already
// padded to the device's row-pitch alignment. Rows beyond srcRows (when
// the host tensor's row count is not a multiple of the quantization block
// size) are zero-filled rather than left uninitialized, matching
// ggml_vk_buffer_write_2d's zero-padding rule.
type copyPlan struct {
	RowBytes    int64
	PaddedPitch int64
	Rows        int64
	SrcRows     int64
}

func planCopy(rowBytes, rows, srcRows, alignment int64) copyPlan {
	return copyPlan{
		RowBytes:    rowBytes,
		PaddedPitch: padPitch(rowBytes, alignment),
		Rows:        rows,
		SrcRows:     srcRows,
	}
}

// transferSync performs a blocking host<->device copy through a one-shot
// staging buffer when hostPtr is not already pinned, or directly through
// its mapped pinned buffer when it is (the zero-copy path).
func (d *device) transferSync(q *Queue, hostPtr uintptr, dev *Buffer, size int64, dir transferDirection) error {
	return d.transferSyncWait(q, hostPtr, dev, size, dir, nil, 0)
}

// transferSyncWait behaves like transferSync, except when wait is non-nil
// the GPU-side copy does not begin until wait is signaled. This chains a
// compute dispatch's completion into the download that reads its output —
// the matmul -> download edge the batched pipeline needs — without the
// host blocking between the compute submission and this call. The host
// still blocks on this copy's own completion before returning.
func (d *device) transferSyncWait(q *Queue, hostPtr uintptr, dev *Buffer, size int64, dir transferDirection, wait vk.Semaphore, waitStage vk.PipelineStageFlags) error {
	if entry, ok := d.pinned.lookup(hostPtr); ok {
		return d.copyPinned(q, entry, dev, size, dir, wait, waitStage)
	}

	staging, err := d.allocStaging(size)
	if err != nil {
		return err
	}
	defer d.destroyBuffer(staging)

	var mapped unsafe.Pointer
	if ret := vk.MapMemory(d.handle, staging.memory, 0, vk.DeviceSize(size), 0, &mapped); ret != vk.Success {
		return fmt.Errorf("vulkan: map staging buffer: result %d", ret)
	}

	if dir == transferHostToDevice {
		copyRaw(mapped, unsafe.Pointer(hostPtr), size)
	}

	fence, err := d.createFence()
	if err != nil {
		vk.UnmapMemory(d.handle, staging.memory)
		return err
	}
	defer vk.DestroyFence(d.handle, fence, nil)

	seq, err := q.NewSequence()
	if err != nil {
		vk.UnmapMemory(d.handle, staging.memory)
		return err
	}
	if wait != nil {
		seq.WaitOn(wait, waitStage)
	}

	region := vk.BufferCopy{SrcOffset: 0, DstOffset: 0, Size: vk.DeviceSize(size)}
	if dir == transferHostToDevice {
		vk.CmdCopyBuffer(seq.Commands[0], staging.handle, dev.handle, 1, []vk.BufferCopy{region})
	} else {
		vk.CmdCopyBuffer(seq.Commands[0], dev.handle, staging.handle, 1, []vk.BufferCopy{region})
	}

	if err := q.Submit(seq, fence); err != nil {
		vk.UnmapMemory(d.handle, staging.memory)
		return err
	}
	vk.WaitForFences(d.handle, 1, []vk.Fence{fence}, vk.True, ^uint64(0))

	if dir == transferDeviceToHost {
		copyRaw(unsafe.Pointer(hostPtr), mapped, size)
	}
	vk.UnmapMemory(d.handle, staging.memory)
	return nil
}

// transferSync2D performs a row-major 2-D host<->device copy through a
// staging buffer sized to plan.PaddedPitch*plan.Rows. On upload, rows at
// or beyond plan.SrcRows are zero-filled rather than read from hostPtr,
// matching ggml_vk_buffer_write_2d's zero-padding rule for quantized
// blocks that don't evenly divide the tensor's row count.
func (d *device) transferSync2D(q *Queue, hostPtr uintptr, dev *Buffer, plan copyPlan, dir transferDirection) error {
	total := plan.PaddedPitch * plan.Rows

	staging, err := d.allocStaging(total)
	if err != nil {
		return err
	}
	defer d.destroyBuffer(staging)

	var mapped unsafe.Pointer
	if ret := vk.MapMemory(d.handle, staging.memory, 0, vk.DeviceSize(total), 0, &mapped); ret != vk.Success {
		return fmt.Errorf("vulkan: map staging buffer: result %d", ret)
	}

	if dir == transferHostToDevice {
		for row := int64(0); row < plan.Rows; row++ {
			dstRow := unsafe.Add(mapped, row*plan.PaddedPitch)
			if row < plan.SrcRows {
				srcRow := unsafe.Pointer(hostPtr + uintptr(row*plan.RowBytes))
				copyRaw(dstRow, srcRow, plan.RowBytes)
			} else {
				zeroRaw(dstRow, plan.RowBytes)
			}
			if plan.PaddedPitch > plan.RowBytes {
				zeroRaw(unsafe.Add(dstRow, plan.RowBytes), plan.PaddedPitch-plan.RowBytes)
			}
		}
	}

	fence, err := d.createFence()
	if err != nil {
		vk.UnmapMemory(d.handle, staging.memory)
		return err
	}
	defer vk.DestroyFence(d.handle, fence, nil)

	seq, err := q.NewSequence()
	if err != nil {
		vk.UnmapMemory(d.handle, staging.memory)
		return err
	}

	region := vk.BufferCopy{SrcOffset: 0, DstOffset: 0, Size: vk.DeviceSize(total)}
	if dir == transferHostToDevice {
		vk.CmdCopyBuffer(seq.Commands[0], staging.handle, dev.handle, 1, []vk.BufferCopy{region})
	} else {
		vk.CmdCopyBuffer(seq.Commands[0], dev.handle, staging.handle, 1, []vk.BufferCopy{region})
	}

	if err := q.Submit(seq, fence); err != nil {
		vk.UnmapMemory(d.handle, staging.memory)
		return err
	}
	vk.WaitForFences(d.handle, 1, []vk.Fence{fence}, vk.True, ^uint64(0))

	if dir == transferDeviceToHost {
		for row := int64(0); row < plan.Rows && row < plan.SrcRows; row++ {
			srcRow := unsafe.Add(mapped, row*plan.PaddedPitch)
			dstRow := unsafe.Pointer(hostPtr + uintptr(row*plan.RowBytes))
			copyRaw(dstRow, srcRow, plan.RowBytes)
		}
	}
	vk.UnmapMemory(d.handle, staging.memory)
	return nil
}

func (d *device) copyPinned(q *Queue, entry pinnedEntry, dev *Buffer, size int64, dir transferDirection, wait vk.Semaphore, waitStage vk.PipelineStageFlags) error {
	fence, err := d.createFence()
	if err != nil {
		return err
	}
	defer vk.DestroyFence(d.handle, fence, nil)

	seq, err := q.NewSequence()
	if err != nil {
		return err
	}
	if wait != nil {
		seq.WaitOn(wait, waitStage)
	}

	region := vk.BufferCopy{SrcOffset: 0, DstOffset: 0, Size: vk.DeviceSize(size)}
	if dir == transferHostToDevice {
		vk.CmdCopyBuffer(seq.Commands[0], entry.buffer, dev.handle, 1, []vk.BufferCopy{region})
	} else {
		vk.CmdCopyBuffer(seq.Commands[0], dev.handle, entry.buffer, 1, []vk.BufferCopy{region})
	}

	if err := q.Submit(seq, fence); err != nil {
		return err
	}
	vk.WaitForFences(d.handle, 1, []vk.Fence{fence}, vk.True, ^uint64(0))
	return nil
}

// recordOwnershipTransfer records one queue-family ownership-transfer
// barrier handing buf from srcFamily to dstFamily into seq, used whenever
// computeFamily != transferFamily.
func recordOwnershipTransfer(seq *Sequence, buf *Buffer, srcFamily, dstFamily int) {
	barrier := vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessShaderReadBit),
		SrcQueueFamilyIndex: uint32(srcFamily),
		DstQueueFamilyIndex: uint32(dstFamily),
		Buffer:              buf.handle,
		Offset:              0,
		Size:                vk.DeviceSize(buf.Size),
	}
	vk.CmdPipelineBarrier(seq.Commands[0],
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 0, nil, 1, []vk.BufferMemoryBarrier{barrier}, 0, nil)
}

func (d *device) createFence() (vk.Fence, error) {
	info := &vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var fence vk.Fence
	if ret := vk.CreateFence(d.handle, info, nil, &fence); ret != vk.Success {
		return nil, fmt.Errorf("vulkan: create fence: result %d", ret)
	}
	return fence, nil
}

func copyRaw(dst, src unsafe.Pointer, size int64) {
	dstSlice := unsafe.Slice((*byte)(dst), size)
	srcSlice := unsafe.Slice((*byte)(src), size)
	copy(dstSlice, srcSlice)
}

func zeroRaw(dst unsafe.Pointer, size int64) {
	dstSlice := unsafe.Slice((*byte)(dst), size)
	for i := range dstSlice {
		dstSlice[i] = 0
	}
}
