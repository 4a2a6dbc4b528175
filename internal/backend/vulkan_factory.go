package backend

import "github.com/ashgrove/vkcompute/internal/backend/vulkan"

// NewVulkan constructs the Vulkan compute backend. The vulkan package
// itself is always compiled; whether New actually talks to a driver or
// returns ErrBuildTagMissing depends on the "vulkan" build tag (see
// internal/backend/vulkan/device.go vs. device_stub.go).
func NewVulkan(opts vulkan.Options) (Backend, error) {
	return vulkan.New(opts)
}
