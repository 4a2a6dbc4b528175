// Package backend selects and exposes the compute backend the host tensor
// graph delegates GPU-capable nodes to. The only backend implemented by
// this module is Vulkan (internal/backend/vulkan); the package itself only
// knows how to name, probe, and construct it, a Name()+factory split
// mirroring how a CPU/GPU pair of backends would be kept symmetric.
package backend

import (
	"fmt"
	"strings"

	"github.com/ashgrove/vkcompute/internal/tensor"
)

const (
	// Vulkan is the only compute backend this module ships.
	Vulkan = "vulkan"
	// Auto defers backend selection to Has(Vulkan).
	Auto = "auto"
)

// Backend is the library surface a host tensor graph consumes.
type Backend interface {
	Name() string

	// HostMalloc/HostFree back the host-pinned registry.
	HostMalloc(size int) (uintptr, error)
	HostFree(ptr uintptr) error

	// TransformTensor uploads a 2-D host tensor into a freshly allocated
	// device buffer and mutates t so Data/Backend reflect GPU residency.
	TransformTensor(hostData uintptr, t *tensor.Tensor) error
	// FreeData is TransformTensor's inverse.
	FreeData(t *tensor.Tensor) error

	// ComputeForward is the dispatcher entry point: false means "fall back
	// to CPU", true means "handled, or deliberately skipped".
	ComputeForward(params *tensor.ComputeParams, t *tensor.Tensor) (bool, error)

	// Close tears down the device, queues, and pools. Idempotent.
	Close() error
}

// Normalize validates a backend name supplied by the host, defaulting the
// empty string to Auto.
func Normalize(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return Auto, nil
	}
	switch n {
	case Vulkan, Auto:
		return n, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto or vulkan)", name)
	}
}
