package vulkan

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"
)

// StatusReport is the JSON body served at /status, encoded with
// goccy/go-json for its drop-in faster Marshal. It has no build tag so
// callers can reference the type without building against "vulkan"; only
// the snapshot itself requires a live device.
type StatusReport struct {
	Device             string `json:"device"`
	FP16Supported      bool   `json:"fp16_supported"`
	DescriptorPoolMode string `json:"descriptor_pool_mode"`
	ShaderCoreEstimate int    `json:"shader_core_estimate"`
	PooledBuffers      int    `json:"pooled_buffers"`
	PinnedAllocations  int    `json:"pinned_allocations"`
}

// statusProvider is implemented by the real device (statusserver.go,
// "vulkan"-tagged); the !vulkan stub's backendImpl never satisfies it, so
// Status falls back to ErrBuildTagMissing uniformly.
type statusProvider interface {
	statusReport() StatusReport
}

// Status returns a snapshot of the backend's live StatusReport without
// starting an HTTP server, for callers like cmd/vkinfo's probe command.
func (b *Backend) Status() (StatusReport, error) {
	sp, ok := b.impl.(statusProvider)
	if !ok {
		return StatusReport{}, ErrBuildTagMissing
	}
	return sp.statusReport(), nil
}

// NewStatusServer builds an echo.Echo exposing a single rate-limited
// /status endpoint that marshals the backend's live StatusReport. Callers
// own starting and stopping it (e.g. e.Start(addr) from cmd/vkinfo).
func (b *Backend) NewStatusServer(requestsPerSecond float64) (*echo.Echo, error) {
	sp, ok := b.impl.(statusProvider)
	if !ok {
		return nil, ErrBuildTagMissing
	}

	e := echo.New()
	e.HideBanner = true

	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.Allow() {
				return c.String(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	})

	e.GET("/status", func(c echo.Context) error {
		body, err := json.Marshal(sp.statusReport())
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.Blob(http.StatusOK, "application/json", body)
	})

	return e, nil
}
