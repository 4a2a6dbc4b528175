//go:build vulkan

package vulkan

func (d *device) statusReport() StatusReport {
	d.pool.mu.Lock()
	pooled := len(d.pool.slots)
	d.pool.mu.Unlock()

	d.pinned.mu.RLock()
	pinnedCount := d.pinned.tree.Len()
	d.pinned.mu.RUnlock()

	return StatusReport{
		Device:             cString(d.props.DeviceName),
		FP16Supported:      d.fp16Supported,
		DescriptorPoolMode: d.pipelines.mode.String(),
		ShaderCoreEstimate: d.shaderCoreCount,
		PooledBuffers:      pooled,
		PinnedAllocations:  pinnedCount,
	}
}
