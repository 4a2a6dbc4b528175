//go:build vulkan

package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/tidwall/btree"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/sys/unix"
)

// pageAlign rounds size up to the host page size so pinned ranges never share
// a page with an unrelated allocation, mirroring the mmap-alignment concern
// pkg/mcf/reader.go handles with unix.Getpagesize() for file-backed mappings.
func pageAlign(size int) int {
	page := unix.Getpagesize()
	if page <= 0 {
		return size
	}
	return (size + page - 1) &^ (page - 1)
}

// pinnedEntry records one host-visible, device-mapped allocation handed
// out by HostMalloc, keyed by its starting address so TransformTensor can
// recognize a hostData pointer that falls inside a pinned range and skip
// the staging-buffer copy entirely (zero-copy DMA).
type pinnedEntry struct {
	Addr   uintptr
	Size   int
	memory vk.DeviceMemory
	buffer vk.Buffer
	mapped unsafe.Pointer
}

// pinnedRegistry is an interval map over host addresses backed by
// tidwall/btree's ordered key-value index. Lookups take the entry with the
// largest key <= addr and test containment, since btree.BTreeG only gives
// ordered point access, not native interval queries.
type pinnedRegistry struct {
	d        *device
	disabled bool

	mu   sync.RWMutex
	tree *btree.BTreeG[pinnedEntry]
}

func newPinnedRegistry(d *device, disabled bool) *pinnedRegistry {
	return &pinnedRegistry{
		d:        d,
		disabled: disabled,
		tree: btree.NewBTreeG[pinnedEntry](func(a, b pinnedEntry) bool {
			return a.Addr < b.Addr
		}),
	}
}

// HostMalloc returns a zero-copy pinned allocation, or (0, nil) when
// pinning is disabled (GGML_VK_NO_PINNED) so the caller falls back to
// generic staging-buffer transfers rather than treating disabled pinning
// as an error.
func (r *pinnedRegistry) HostMalloc(size int) (uintptr, error) {
	if r.disabled {
		return 0, nil
	}
	if size <= 0 {
		return 0, ErrBadUsage
	}

	aligned := pageAlign(size)

	buf, mem, err := r.d.allocHostVisible(aligned)
	if err != nil {
		return 0, err
	}

	var mapped unsafe.Pointer
	if ret := vk.MapMemory(r.d.handle, mem, 0, vk.DeviceSize(aligned), 0, &mapped); ret != vk.Success {
		vk.DestroyBuffer(r.d.handle, buf, nil)
		vk.FreeMemory(r.d.handle, mem, nil)
		return 0, fmt.Errorf("vulkan: map pinned memory: result %d", ret)
	}

	entry := pinnedEntry{
		Addr:   uintptr(mapped),
		Size:   aligned,
		memory: mem,
		buffer: buf,
		mapped: mapped,
	}

	r.mu.Lock()
	r.tree.Set(entry)
	r.mu.Unlock()

	return entry.Addr, nil
}

func (r *pinnedRegistry) HostFree(ptr uintptr) error {
	r.mu.Lock()
	entry, ok := r.tree.Delete(pinnedEntry{Addr: ptr})
	r.mu.Unlock()
	if !ok {
		return ErrPinnedNotFound
	}

	vk.UnmapMemory(r.d.handle, entry.memory)
	vk.DestroyBuffer(r.d.handle, entry.buffer, nil)
	vk.FreeMemory(r.d.handle, entry.memory, nil)
	return nil
}

// lookup returns the pinned entry containing addr, if any, by checking only
// the entry with the greatest registered address <= addr.
func (r *pinnedRegistry) lookup(addr uintptr) (pinnedEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found pinnedEntry
	var ok bool
	r.tree.Descend(pinnedEntry{Addr: addr}, func(item pinnedEntry) bool {
		if addr >= item.Addr && addr < item.Addr+uintptr(item.Size) {
			found = item
			ok = true
		}
		return false
	})
	return found, ok
}

func (r *pinnedRegistry) destroyAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tree.Scan(func(item pinnedEntry) bool {
		vk.UnmapMemory(r.d.handle, item.memory)
		vk.DestroyBuffer(r.d.handle, item.buffer, nil)
		vk.FreeMemory(r.d.handle, item.memory, nil)
		return true
	})
	r.tree.Clear()
	return nil
}
