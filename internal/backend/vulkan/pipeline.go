//go:build vulkan

package vulkan

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	lru "github.com/hashicorp/golang-lru/v2"
	vk "github.com/vulkan-go/vulkan"
)

// descriptorSetCapacity is how many descriptor sets each compiledPipeline
// pre-allocates, sized to the pipelined submission depth (submitBatchSize):
// every batch within one SubmitBatch chunk gets a distinct set, and by the
// time the next chunk starts the previous chunk's downloads have already
// retired (matmul.go blocks on each), so cursor wraparound never collides
// with a set still being read by the GPU.
const descriptorSetCapacity = submitBatchSize

// compiledPipeline is one loaded-and-built compute pipeline, keyed in the
// LRU cache by its pipelineKind. It owns a small pre-allocated ring of
// descriptor sets rather than allocating one fresh per dispatch, mirroring
// ggml_vk_pipeline_allocate_descriptor_sets's pre-size model.
type compiledPipeline struct {
	spec      pipelineSpec
	shader    vk.ShaderModule
	layout    vk.PipelineLayout
	setLayout vk.DescriptorSetLayout
	pipeline  vk.Pipeline

	descPool vk.DescriptorPool // owned only in PoolModeSingle
	sets     []vk.DescriptorSet
	cursor   int
}

// nextSet returns the next descriptor set in p's pre-allocated ring,
// matching ggml_vk_pipeline_request_descriptor_sets's rolling cursor.
// pipelineCache.cleanup resets the cursor between top-level operations.
func (p *compiledPipeline) nextSet() vk.DescriptorSet {
	set := p.sets[p.cursor%len(p.sets)]
	p.cursor++
	return set
}

// pipelineCache loads SPIR-V blobs lazily and keeps the most recently used
// compiledPipelines resident, evicting least-recently-used entries once
// capacity is reached. It also owns the process-wide descriptor-pool mode
// probe.
type pipelineCache struct {
	d         *device
	shaderDir string

	mu   sync.Mutex
	lru  *lru.Cache[pipelineKind, *compiledPipeline]
	pool vk.DescriptorPool
	mode DescriptorPoolMode
}

func newPipelineCache(d *device, capacity int, shaderDir string) *pipelineCache {
	c := &pipelineCache{d: d, shaderDir: shaderDir, mode: PoolModeUnknown}
	cache, _ := lru.NewWithEvict[pipelineKind, *compiledPipeline](capacity, func(_ pipelineKind, p *compiledPipeline) {
		c.destroyCompiledPipeline(p)
	})
	c.lru = cache
	return c
}

// probeDescriptorPoolMode tries a single multi-set pool sized for every
// registered pipeline's pre-allocated ring; if the driver rejects it
// (observed on some AMD drivers) it falls back to one dedicated pool per
// compiledPipeline for the lifetime of the device. The trial pool is
// created with FreeDescriptorSetBit so an evicted pipeline's sets can be
// individually reclaimed (see destroyCompiledPipeline) instead of only
// becoming reusable on a full-pool reset.
func (c *pipelineCache) probeDescriptorPoolMode() error {
	registry := pipelineRegistry()
	poolInfo := &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       uint32(len(registry) * descriptorSetCapacity),
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{
			{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: uint32(len(registry) * descriptorSetCapacity * 3)},
		},
	}

	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(c.d.handle, poolInfo, nil, &pool)
	if ret == vk.Success {
		c.pool = pool
		c.mode = PoolModeMulti
		return nil
	}

	c.mode = PoolModeSingle
	return nil
}

// allocateDescriptorSets pre-allocates p's descriptorSetCapacity-deep ring
// of descriptor sets, from the cache's shared pool (PoolModeMulti) or a
// dedicated pool owned by p (PoolModeSingle). Called once, from build,
// rather than per dispatch.
func (c *pipelineCache) allocateDescriptorSets(p *compiledPipeline) error {
	pool := c.pool
	if c.mode == PoolModeSingle {
		info := &vk.DescriptorPoolCreateInfo{
			SType:         vk.StructureTypeDescriptorPoolCreateInfo,
			MaxSets:       uint32(descriptorSetCapacity),
			PoolSizeCount: 1,
			PPoolSizes: []vk.DescriptorPoolSize{
				{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: uint32(descriptorSetCapacity * p.spec.Bindings)},
			},
		}
		if ret := vk.CreateDescriptorPool(c.d.handle, info, nil, &pool); ret != vk.Success {
			return fmt.Errorf("vulkan: create descriptor pool for %s: result %d", p.spec.Kind.String(), ret)
		}
		p.descPool = pool
	}

	layouts := make([]vk.DescriptorSetLayout, descriptorSetCapacity)
	for i := range layouts {
		layouts[i] = p.setLayout
	}
	allocInfo := &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: uint32(descriptorSetCapacity),
		PSetLayouts:        layouts,
	}
	sets := make([]vk.DescriptorSet, descriptorSetCapacity)
	if ret := vk.AllocateDescriptorSets(c.d.handle, allocInfo, sets); ret != vk.Success {
		if c.mode == PoolModeSingle {
			vk.DestroyDescriptorPool(c.d.handle, pool, nil)
		}
		if ret == vk.ErrorOutOfPoolMemory || ret == vk.ErrorFragmentedPool {
			return fmt.Errorf("vulkan: allocate descriptor sets for %s: result %d: %w", p.spec.Kind.String(), ret, ErrOutOfPool)
		}
		return fmt.Errorf("vulkan: allocate descriptor sets for %s: result %d", p.spec.Kind.String(), ret)
	}
	p.sets = sets
	p.cursor = 0
	return nil
}

// cleanup resets every cached pipeline's descriptor-set cursor back to 0,
// matching ggml_vk_pipeline_cleanup. Called once a top-level dispatch
// (mulMat, mulMatVec, mulElementwise) has drained its queues via
// device.waitAllIdle, so no in-flight dispatch is still reading a set
// through the old cursor position when the next op starts reusing it.
func (c *pipelineCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kind := range c.lru.Keys() {
		if p, ok := c.lru.Peek(kind); ok {
			p.cursor = 0
		}
	}
}

// Get returns the compiled pipeline for kind, building it on first use.
func (c *pipelineCache) Get(kind pipelineKind) (*compiledPipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.lru.Get(kind); ok {
		return p, nil
	}

	spec := specFor(kind)
	if spec.ShaderFile == "" {
		return nil, fmt.Errorf("vulkan: unknown pipeline kind %v", kind)
	}

	p, err := c.build(spec)
	if err != nil {
		return nil, err
	}
	c.lru.Add(kind, p)
	return p, nil
}

func (c *pipelineCache) build(spec pipelineSpec) (*compiledPipeline, error) {
	code, err := os.ReadFile(filepath.Join(c.shaderDir, spec.ShaderFile))
	if err != nil {
		return nil, fmt.Errorf("vulkan: read shader %s: %w", spec.ShaderFile, err)
	}
	words := bytesToUint32(code)

	shaderInfo := &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var shader vk.ShaderModule
	if ret := vk.CreateShaderModule(c.d.handle, shaderInfo, nil, &shader); ret != vk.Success {
		return nil, fmt.Errorf("vulkan: create shader module %s: result %d", spec.ShaderFile, ret)
	}

	bindings := make([]vk.DescriptorSetLayoutBinding, spec.Bindings)
	for i := range bindings {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		}
	}
	setLayoutInfo := &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var setLayout vk.DescriptorSetLayout
	if ret := vk.CreateDescriptorSetLayout(c.d.handle, setLayoutInfo, nil, &setLayout); ret != vk.Success {
		vk.DestroyShaderModule(c.d.handle, shader, nil)
		return nil, fmt.Errorf("vulkan: create descriptor set layout for %s: result %d", spec.ShaderFile, ret)
	}

	layoutInfo := &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{setLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{
			{StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit), Offset: 0, Size: uint32(spec.PushConstants)},
		},
	}
	var layout vk.PipelineLayout
	if ret := vk.CreatePipelineLayout(c.d.handle, layoutInfo, nil, &layout); ret != vk.Success {
		vk.DestroyDescriptorSetLayout(c.d.handle, setLayout, nil)
		vk.DestroyShaderModule(c.d.handle, shader, nil)
		return nil, fmt.Errorf("vulkan: create pipeline layout for %s: result %d", spec.ShaderFile, ret)
	}

	stageInfo := vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageComputeBit,
		Module: shader,
		PName:  "main\x00",
	}
	if specInfo := specializationForTile(spec.Kind); specInfo != nil {
		stageInfo.PSpecializationInfo = specInfo
	}
	pipelineInfo := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stageInfo,
		Layout: layout,
	}
	pipelines := make([]vk.Pipeline, 1)
	if ret := vk.CreateComputePipelines(c.d.handle, nil, 1, []vk.ComputePipelineCreateInfo{pipelineInfo}, nil, pipelines); ret != vk.Success {
		vk.DestroyPipelineLayout(c.d.handle, layout, nil)
		vk.DestroyDescriptorSetLayout(c.d.handle, setLayout, nil)
		vk.DestroyShaderModule(c.d.handle, shader, nil)
		return nil, fmt.Errorf("vulkan: create compute pipeline for %s: result %d", spec.ShaderFile, ret)
	}

	p := &compiledPipeline{
		spec:      spec,
		shader:    shader,
		layout:    layout,
		setLayout: setLayout,
		pipeline:  pipelines[0],
	}
	if err := c.allocateDescriptorSets(p); err != nil {
		vk.DestroyPipeline(c.d.handle, p.pipeline, nil)
		vk.DestroyPipelineLayout(c.d.handle, layout, nil)
		vk.DestroyDescriptorSetLayout(c.d.handle, setLayout, nil)
		vk.DestroyShaderModule(c.d.handle, shader, nil)
		return nil, err
	}
	return p, nil
}

// specializationForTile bakes a tiled matmul pipeline's work-group tile
// dimension into specialization constant 0, matching the shaders'
// `layout(constant_id = 0) const uint TILE_DIM` declaration so one SPIR-V
// module serves all three tile variants without separate compilation.
// Non-matmul pipelines have no specialization payload.
func specializationForTile(kind pipelineKind) *vk.SpecializationInfo {
	if !kind.Family.isTiledMatMul() {
		return nil
	}
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(tileDim(kind.Tile)))
	return &vk.SpecializationInfo{
		MapEntryCount: 1,
		PMapEntries: []vk.SpecializationMapEntry{
			{ConstantID: 0, Offset: 0, Size: 4},
		},
		DataSize: uint(len(data)),
		PData:    unsafe.Pointer(&data[0]),
	}
}

// destroyCompiledPipeline releases p's descriptor sets (individually, via
// FreeDescriptorSetBit, in PoolModeMulti; by destroying p's own pool in
// PoolModeSingle) before tearing down its pipeline objects, so an LRU
// eviction never leaks descriptor-pool capacity back to the shared pool.
func (c *pipelineCache) destroyCompiledPipeline(p *compiledPipeline) {
	d := c.d
	if c.mode == PoolModeSingle {
		if p.descPool != nil {
			vk.DestroyDescriptorPool(d.handle, p.descPool, nil)
		}
	} else if len(p.sets) > 0 {
		vk.FreeDescriptorSets(d.handle, c.pool, uint32(len(p.sets)), p.sets)
	}
	if p.pipeline != nil {
		vk.DestroyPipeline(d.handle, p.pipeline, nil)
	}
	if p.layout != nil {
		vk.DestroyPipelineLayout(d.handle, p.layout, nil)
	}
	if p.setLayout != nil {
		vk.DestroyDescriptorSetLayout(d.handle, p.setLayout, nil)
	}
	if p.shader != nil {
		vk.DestroyShaderModule(d.handle, p.shader, nil)
	}
}

func (c *pipelineCache) destroyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	if c.pool != nil {
		vk.DestroyDescriptorPool(c.d.handle, c.pool, nil)
	}
}

func bytesToUint32(b []byte) []uint32 {
	out := make([]uint32, (len(b)+3)/4)
	for i := range out {
		var word uint32
		for j := 0; j < 4; j++ {
			idx := i*4 + j
			if idx >= len(b) {
				break
			}
			word |= uint32(b[idx]) << (8 * j)
		}
		out[i] = word
	}
	return out
}
