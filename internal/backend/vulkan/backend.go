// Package vulkan implements the GPU compute backend: device bootstrap,
// pipeline and buffer pooling, host-pinned transfers, and the batched
// matmul/elementwise-mul dispatcher the host tensor graph delegates
// GPU-capable nodes to. The package always compiles; whether New talks to
// a real driver or returns ErrBuildTagMissing depends on the "vulkan"
// build tag (see device.go vs. device_stub.go), the same split the
// teacher used for its CUDA backend at the internal/backend package level.
package vulkan

import "github.com/ashgrove/vkcompute/internal/tensor"

// backendImpl is the build-tag-specific implementation newImpl returns.
// Backend forwards every call to it so the method set callers see is
// identical regardless of which tag the binary was built with.
type backendImpl interface {
	Name() string
	HostMalloc(size int) (uintptr, error)
	HostFree(ptr uintptr) error
	TransformTensor(hostData uintptr, t *tensor.Tensor) error
	FreeData(t *tensor.Tensor) error
	ComputeForward(params *tensor.ComputeParams, t *tensor.Tensor) (bool, error)
	Close() error
}

// Backend is the constructed compute backend handed back to callers. It
// satisfies github.com/ashgrove/vkcompute/internal/backend.Backend
// structurally, avoiding an import of that package (which itself must
// import this one to build backends, and a cycle would result otherwise).
type Backend struct {
	impl backendImpl
}

// New resolves Options against the environment and, on "vulkan"-tagged
// builds, bootstraps an instance/device and every pool and cache it owns.
func New(opts Options) (*Backend, error) {
	impl, err := newImpl(opts)
	if err != nil {
		return nil, err
	}
	return &Backend{impl: impl}, nil
}

func (b *Backend) Name() string { return b.impl.Name() }

func (b *Backend) HostMalloc(size int) (uintptr, error) { return b.impl.HostMalloc(size) }

func (b *Backend) HostFree(ptr uintptr) error { return b.impl.HostFree(ptr) }

func (b *Backend) TransformTensor(hostData uintptr, t *tensor.Tensor) error {
	return b.impl.TransformTensor(hostData, t)
}

func (b *Backend) FreeData(t *tensor.Tensor) error { return b.impl.FreeData(t) }

func (b *Backend) ComputeForward(params *tensor.ComputeParams, t *tensor.Tensor) (bool, error) {
	return b.impl.ComputeForward(params, t)
}

func (b *Backend) Close() error { return b.impl.Close() }
