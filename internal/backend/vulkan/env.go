package vulkan

import (
	"os"
	"strconv"
)

// Environment variable names recognized by resolve, VKCOMPUTE_-prefixed
// to keep them distinct from any host process's own env namespace, plus
// GGML_VK_NO_PINNED, which disables pinning whenever it is set to any
// non-empty value.
const (
	envDevice       = "VKCOMPUTE_DEVICE"
	envNoPinned     = "VKCOMPUTE_NO_PINNED"
	envGGMLNoPinned = "GGML_VK_NO_PINNED"
	envValidation   = "VKCOMPUTE_VALIDATION"
	envCheckKernels = "VKCOMPUTE_CHECK_KERNELS"
	envShaderDir    = "VKCOMPUTE_SHADER_DIR"
)

// envDeviceIndex reads VKCOMPUTE_DEVICE, returning ok=false when unset or
// unparsable so the caller can fall back to Options.DeviceIndex.
func envDeviceIndex() (int, bool) {
	v := os.Getenv(envDevice)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// resolve applies environment overrides on top of the caller-supplied
// Options, then fills remaining zero values with defaults. Environment
// variables take priority over Options fields, except DeviceIndex when
// ForceDeviceIndex is set.
func resolve(o Options) Options {
	if !o.ForceDeviceIndex {
		if idx, ok := envDeviceIndex(); ok {
			o.DeviceIndex = idx
		}
	}
	if v, ok := envBool(envNoPinned); ok {
		o.DisablePinned = v
	}
	if os.Getenv(envGGMLNoPinned) != "" {
		o.DisablePinned = true
	}
	if v, ok := envBool(envValidation); ok {
		o.EnableValidation = v
	}
	if v, ok := envBool(envCheckKernels); ok {
		o.CheckKernels = v
	}
	if v := os.Getenv(envShaderDir); v != "" {
		o.ShaderDir = v
	}
	return o.withDefaults()
}
