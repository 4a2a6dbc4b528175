package vulkan

import "errors"

var (
	// ErrBuildTagMissing is returned by New when the binary was built
	// without the "vulkan" tag.
	ErrBuildTagMissing = errors.New("vulkan: built without the \"vulkan\" tag")

	// ErrNoDevice means instance creation succeeded but no physical device
	// exposed a queue family satisfying even the loosest fallback tier.
	ErrNoDevice = errors.New("vulkan: no suitable physical device found")

	// ErrDeviceIndexOutOfRange means VKCOMPUTE_DEVICE (or Options.DeviceIndex)
	// named a device past the end of the enumeration.
	ErrDeviceIndexOutOfRange = errors.New("vulkan: device index out of range")

	// ErrBadUsage is returned for malformed tensors handed to TransformTensor
	// (rank > 2 is rejected outright) or ComputeForward.
	ErrBadUsage = errors.New("vulkan: bad tensor usage")

	// ErrUnsupportedOp is returned for operations or dtypes this backend
	// does not implement, e.g. non-contiguous nb[0] or an f16 matmul
	// destination.
	ErrUnsupportedOp = errors.New("vulkan: unsupported operation")

	// ErrPoolExhausted means the buffer pool's fixed-capacity slot array is
	// full and no victim could be evicted to make room.
	ErrPoolExhausted = errors.New("vulkan: buffer pool exhausted")

	// ErrClosed names use of a Backend after Close. No method in this
	// package returns it: Backend methods do not check whether Close has
	// run, except Close itself, which returns nil on repeat calls.
	ErrClosed = errors.New("vulkan: backend closed")

	// ErrPinnedNotFound means a HostFree call named an address the pinned
	// registry never allocated.
	ErrPinnedNotFound = errors.New("vulkan: host pointer is not pinned")

	// ErrDeviceLost means a queue operation came back VK_ERROR_DEVICE_LOST.
	// The device handle is no longer usable; callers should tear down the
	// backend rather than retry.
	ErrDeviceLost = errors.New("vulkan: device lost")

	// ErrSubmitFailed wraps any other non-success vkQueueSubmit/vkEndCommandBuffer
	// result that isn't ErrDeviceLost.
	ErrSubmitFailed = errors.New("vulkan: queue submission failed")

	// ErrOutOfPool means a descriptor-set allocation failed with
	// VK_ERROR_OUT_OF_POOL_MEMORY, i.e. the pool's reserved capacity is
	// exhausted and the rolling cursor model (pipeline.go) has a bug or the
	// pool was sized too small for the registry.
	ErrOutOfPool = errors.New("vulkan: descriptor pool exhausted")
)
