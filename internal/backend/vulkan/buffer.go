//go:build vulkan

package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/vulkan-go/vulkan"
)

// Buffer is one device allocation tracked by bufferPool, embedding the
// pure-logic poolSlot (pool_select.go) alongside the live Vulkan handles.
type Buffer struct {
	poolSlot
	handle vk.Buffer
	memory vk.DeviceMemory
	usage  vk.BufferUsageFlags
}

// bufferPool is a fixed-capacity, best-fit-by-size recycler. Acquire scans
// for the smallest free slot big enough to satisfy the request; failing
// that it allocates into a new slot while the pool is below capacity, then
// evicts the largest free slot, and when the pool is both full and
// entirely busy it returns ErrPoolExhausted. It never allocates a buffer
// outside the pool.
type bufferPool struct {
	d        *device
	capacity int

	mu    sync.Mutex
	slots []*Buffer
}

func newBufferPool(d *device, capacity int) *bufferPool {
	return &bufferPool{d: d, capacity: capacity}
}

func (p *bufferPool) slotView() []poolSlot {
	view := make([]poolSlot, len(p.slots))
	for i, s := range p.slots {
		view[i] = s.poolSlot
	}
	return view
}

// Acquire returns a device-local buffer of at least size bytes, usage
// flags applied at creation time, reusing a pooled allocation when
// possible.
func (p *bufferPool) Acquire(size int64, usage vk.BufferUsageFlags) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	view := p.slotView()
	if idx, ok := selectBestFit(view, size); ok {
		buf := p.slots[idx]
		buf.Free = false
		return buf, nil
	}

	if _, ok := selectInsertSlot(view, p.capacity); ok {
		buf, err := p.d.allocDeviceLocal(size, usage)
		if err != nil {
			return nil, err
		}
		buf.poolSlot = poolSlot{Size: size, Free: false}
		p.slots = append(p.slots, buf)
		return buf, nil
	}

	if idx, ok := selectEvictionVictim(view); ok {
		victim := p.slots[idx]
		if err := p.d.destroyBuffer(victim); err != nil {
			return nil, err
		}
		buf, err := p.d.allocDeviceLocal(size, usage)
		if err != nil {
			return nil, err
		}
		buf.poolSlot = poolSlot{Size: size, Free: false}
		p.slots[idx] = buf
		return buf, nil
	}

	return nil, ErrPoolExhausted
}

// Release marks buf as free for reuse without destroying it.
func (p *bufferPool) Release(buf *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf.Free = true
}

func (p *bufferPool) destroyAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for _, buf := range p.slots {
		if e := p.d.destroyBuffer(buf); e != nil && err == nil {
			err = e
		}
	}
	p.slots = nil
	return err
}

func (d *device) allocDeviceLocal(size int64, usage vk.BufferUsageFlags) (*Buffer, error) {
	return d.allocBuffer(size, usage, vk.MemoryPropertyDeviceLocalBit)
}

func (d *device) allocHostVisible(size int) (vk.Buffer, vk.DeviceMemory, error) {
	buf, err := d.allocBuffer(int64(size),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if err != nil {
		return nil, nil, err
	}
	return buf.handle, buf.memory, nil
}

// allocStaging allocates a host-visible, host-coherent buffer usable as a
// CPU-mapped bounce buffer for a host<->device copy. Device-local memory on
// a discrete GPU is not host-visible, so transfer.go's staging buffers must
// come from this path rather than allocDeviceLocal.
func (d *device) allocStaging(size int64) (*Buffer, error) {
	return d.allocBuffer(size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
}

func (d *device) allocBuffer(size int64, usage vk.BufferUsageFlags, memFlags vk.MemoryPropertyFlags) (*Buffer, error) {
	info := &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	var handle vk.Buffer
	if ret := vk.CreateBuffer(d.handle, info, nil, &handle); ret != vk.Success {
		return nil, fmt.Errorf("vulkan: create buffer: result %d", ret)
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, handle, &reqs)
	reqs.Deref()

	typeIndex, ok := d.findMemoryType(reqs.MemoryTypeBits, memFlags)
	if !ok {
		vk.DestroyBuffer(d.handle, handle, nil)
		return nil, fmt.Errorf("vulkan: no memory type for flags %d", memFlags)
	}

	allocInfo := &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(typeIndex),
	}
	var mem vk.DeviceMemory
	if ret := vk.AllocateMemory(d.handle, allocInfo, nil, &mem); ret != vk.Success {
		vk.DestroyBuffer(d.handle, handle, nil)
		return nil, fmt.Errorf("vulkan: allocate memory: result %d", ret)
	}

	if ret := vk.BindBufferMemory(d.handle, handle, mem, 0); ret != vk.Success {
		vk.DestroyBuffer(d.handle, handle, nil)
		vk.FreeMemory(d.handle, mem, nil)
		return nil, fmt.Errorf("vulkan: bind buffer memory: result %d", ret)
	}

	return &Buffer{handle: handle, memory: mem, usage: usage}, nil
}

func (d *device) destroyBuffer(buf *Buffer) error {
	if buf == nil {
		return nil
	}
	if buf.handle != nil {
		vk.DestroyBuffer(d.handle, buf.handle, nil)
	}
	if buf.memory != nil {
		vk.FreeMemory(d.handle, buf.memory, nil)
	}
	return nil
}

func (d *device) findMemoryType(typeBits uint32, flags vk.MemoryPropertyFlags) (int, bool) {
	for i := uint32(0); i < d.memProps.MemoryTypeCount; i++ {
		mt := d.memProps.MemoryTypes[i]
		if typeBits&(1<<i) == 0 {
			continue
		}
		if vk.MemoryPropertyFlags(mt.PropertyFlags)&flags == flags {
			return int(i), true
		}
	}
	return 0, false
}
