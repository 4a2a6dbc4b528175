//go:build vulkan

package backend

func Has(name string) bool {
	return name == Vulkan
}
