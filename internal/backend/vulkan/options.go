package vulkan

import "github.com/ashgrove/vkcompute/internal/logger"

// DescriptorPoolMode is the process-wide tri-state probed once per process
// by a trial descriptor-set allocation.
type DescriptorPoolMode int

const (
	// PoolModeUnknown means the probe has not run yet.
	PoolModeUnknown DescriptorPoolMode = iota
	// PoolModeMulti means one pool holds many sets (the common case).
	PoolModeMulti
	// PoolModeSingle means one pool per set — the AMD fallback.
	PoolModeSingle
)

func (m DescriptorPoolMode) String() string {
	switch m {
	case PoolModeMulti:
		return "multi"
	case PoolModeSingle:
		return "single"
	default:
		return "unknown"
	}
}

// Options configures backend construction. Most fields have an
// environment-variable or YAML-config override — see env.go and config.go —
// and zero values are filled with defaults, so callers that just want
// defaults can pass a zero Options.
type Options struct {
	// DeviceIndex selects the physical device by enumeration order,
	// default 0. Unless ForceDeviceIndex is set, VKCOMPUTE_DEVICE (read by
	// env.go's envDeviceIndex) replaces it when present and valid.
	DeviceIndex int
	// ForceDeviceIndex, when true, uses DeviceIndex as given instead of
	// consulting the environment. Set by LoadOptions when the YAML config
	// names a device_index, and by cmd/vkinfo and cmd/vkbench.
	ForceDeviceIndex bool

	// EnableValidation attaches VK_LAYER_KHRONOS_validation if present.
	EnableValidation bool

	// DisablePinned disables the host-pinned registry entirely; every
	// transfer then goes through generic (non-zero-copy) staging buffers.
	DisablePinned bool

	// PoolCapacity bounds the buffer pool's recyclable-slot array.
	PoolCapacity int

	// PipelineCacheCapacity bounds the LRU pipeline cache.
	PipelineCacheCapacity int

	// ShaderDir is the filesystem directory SPIR-V blobs are loaded from.
	ShaderDir string

	// CheckKernels gates the debug-only correctness comparison the
	// self-test harness runs against a CPU reference for each case. Off by
	// default; also settable via VKCOMPUTE_CHECK_KERNELS.
	CheckKernels bool

	Logger logger.Logger
}

const (
	defaultPoolCapacity          = 64
	defaultPipelineCacheCapacity = 32
	defaultShaderDir             = "vk_shaders"
)

func (o Options) withDefaults() Options {
	if o.PoolCapacity <= 0 {
		o.PoolCapacity = defaultPoolCapacity
	}
	if o.PipelineCacheCapacity <= 0 {
		o.PipelineCacheCapacity = defaultPipelineCacheCapacity
	}
	if o.ShaderDir == "" {
		o.ShaderDir = defaultShaderDir
	}
	if o.Logger == nil {
		o.Logger = logger.Default()
	}
	return o
}
