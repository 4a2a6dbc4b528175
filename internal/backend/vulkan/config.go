package vulkan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional on-disk shape of vkcompute.yaml, loaded by
// cmd/vkinfo (its --config flag) before constructing Options. Fields mirror
// Options; zero values leave the corresponding Options field untouched.
type fileConfig struct {
	DeviceIndex           *int   `yaml:"device_index"`
	EnableValidation      bool   `yaml:"enable_validation"`
	DisablePinned         bool   `yaml:"disable_pinned"`
	PoolCapacity          int    `yaml:"pool_capacity"`
	PipelineCacheCapacity int    `yaml:"pipeline_cache_capacity"`
	ShaderDir             string `yaml:"shader_dir"`
	CheckKernels          bool   `yaml:"check_kernels"`
}

// LoadOptions reads path as YAML and merges it onto base, path taking
// priority for any field it sets explicitly.
func LoadOptions(path string, base Options) (Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("vulkan: read config %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Options{}, fmt.Errorf("vulkan: parse config %s: %w", path, err)
	}
	if cfg.DeviceIndex != nil {
		base.DeviceIndex = *cfg.DeviceIndex
		base.ForceDeviceIndex = true
	}
	if cfg.EnableValidation {
		base.EnableValidation = true
	}
	if cfg.DisablePinned {
		base.DisablePinned = true
	}
	if cfg.PoolCapacity > 0 {
		base.PoolCapacity = cfg.PoolCapacity
	}
	if cfg.PipelineCacheCapacity > 0 {
		base.PipelineCacheCapacity = cfg.PipelineCacheCapacity
	}
	if cfg.ShaderDir != "" {
		base.ShaderDir = cfg.ShaderDir
	}
	if cfg.CheckKernels {
		base.CheckKernels = true
	}
	return base, nil
}
