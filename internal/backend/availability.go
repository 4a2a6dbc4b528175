package backend

// Available returns a comma-separated list of backends compiled into this
// binary. Vulkan support is gated behind the "vulkan" build tag, with
// Has's two implementations split across availability_vulkan.go and
// availability_novulkan.go.
func Available() string {
	if Has(Vulkan) {
		return Vulkan
	}
	return ""
}
