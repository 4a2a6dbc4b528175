//go:build vulkan

package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/ashgrove/vkcompute/internal/logger"
)

// device is the real Vulkan implementation of backendImpl. One instance
// owns exactly one VkInstance/VkDevice pair plus every pool, cache, and
// queue built on top of it.
type device struct {
	opts Options
	log  logger.Logger

	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	handle         vk.Device
	props          vk.PhysicalDeviceProperties
	memProps       vk.PhysicalDeviceMemoryProperties

	computeFamily  int
	transferFamily int
	sharedQueue    bool // transferFamily == computeFamily, queues share a family

	computeQueue *Queue
	transferQs   [2]*Queue // tr0q, tr1q of the three-queue pipeline

	fp16Supported bool
	minStorageAlign int64
	shaderCoreCount int

	pipelines *pipelineCache
	pool      *bufferPool
	pinned    *pinnedRegistry

	mu     sync.Mutex
	closed bool
}

func newImpl(optsIn Options) (backendImpl, error) {
	opts := resolve(optsIn)
	log := opts.Logger

	if ret := vk.Init(); ret != nil {
		return nil, fmt.Errorf("vulkan: loader init: %w", ret)
	}

	appInfo := &vk.ApplicationInfo{
		SType:         vk.StructureTypeApplicationInfo,
		PApplicationName: "vkcompute\x00",
		ApiVersion:    vk.MakeVersion(1, 2, 0),
	}
	instInfo := &vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}
	if opts.EnableValidation {
		instInfo.PpEnabledLayerNames = []string{"VK_LAYER_KHRONOS_validation\x00"}
		instInfo.EnabledLayerCount = 1
	}

	var instance vk.Instance
	if ret := vk.CreateInstance(instInfo, nil, &instance); ret != vk.Success {
		return nil, fmt.Errorf("vulkan: create instance: result %d", ret)
	}

	var count uint32
	if ret := vk.EnumeratePhysicalDevices(instance, &count, nil); ret != vk.Success || count == 0 {
		vk.DestroyInstance(instance, nil)
		return nil, ErrNoDevice
	}
	physDevs := make([]vk.PhysicalDevice, count)
	if ret := vk.EnumeratePhysicalDevices(instance, &count, physDevs); ret != vk.Success {
		vk.DestroyInstance(instance, nil)
		return nil, fmt.Errorf("vulkan: enumerate physical devices: result %d", ret)
	}

	if opts.DeviceIndex >= len(physDevs) {
		vk.DestroyInstance(instance, nil)
		return nil, ErrDeviceIndexOutOfRange
	}
	physicalDevice := physDevs[opts.DeviceIndex]

	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(physicalDevice, &props)
	props.Deref()

	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &memProps)
	memProps.Deref()

	families := queryQueueFamilies(physicalDevice)
	computeFamily, ok := selectQueueFamily(families, 2, -1)
	if !ok {
		vk.DestroyInstance(instance, nil)
		return nil, ErrNoDevice
	}
	transferFamily, dedicated := selectTransferFamily(families, computeFamily)

	fp16 := probeFP16(physicalDevice)
	handle, err := createLogicalDevice(physicalDevice, computeFamily, transferFamily, dedicated, fp16)
	if err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, err
	}

	minAlign := int64(props.Limits.MinStorageBufferOffsetAlignment)
	if minAlign < 1 {
		minAlign = 1
	}

	d := &device{
		opts:            opts,
		log:             log,
		instance:        instance,
		physicalDevice:  physicalDevice,
		handle:          handle,
		props:           props,
		memProps:        memProps,
		computeFamily:   computeFamily,
		transferFamily:  transferFamily,
		sharedQueue:     !dedicated,
		fp16Supported:   fp16,
		minStorageAlign: minAlign,
		shaderCoreCount: estimateShaderCoreCount(props),
	}

	d.computeQueue = newQueue(d, computeFamily, 0, "compq")
	if dedicated {
		d.transferQs[0] = newQueue(d, transferFamily, 0, "tr0q")
		d.transferQs[1] = newQueue(d, transferFamily, queueIndexOrZero(families, transferFamily, 1), "tr1q")
	} else {
		d.transferQs[0] = newQueue(d, computeFamily, 1%maxQueueCount(families, computeFamily), "tr0q")
		d.transferQs[1] = d.transferQs[0]
	}

	d.pipelines = newPipelineCache(d, opts.PipelineCacheCapacity, opts.ShaderDir)
	d.pool = newBufferPool(d, opts.PoolCapacity)
	d.pinned = newPinnedRegistry(d, opts.DisablePinned)

	if err := d.pipelines.probeDescriptorPoolMode(); err != nil {
		d.Close()
		return nil, err
	}

	log.Info("vulkan backend ready",
		"device", cString(props.DeviceName),
		"fp16", fp16,
		"descriptor_pool_mode", d.pipelines.mode.String(),
		"shader_cores", d.shaderCoreCount,
	)

	return d, nil
}

func (d *device) Name() string { return "vulkan" }

// waitAllIdle blocks until every queue has drained. This is the explicit
// end-of-operation synchronization point mulMat, mulMatVec, and
// mulElementwise each call before returning to the caller.
func (d *device) waitAllIdle() error {
	if err := d.computeQueue.WaitIdle(); err != nil {
		return err
	}
	if err := d.transferQs[0].WaitIdle(); err != nil {
		return err
	}
	if d.transferQs[1] != d.transferQs[0] {
		if err := d.transferQs[1].WaitIdle(); err != nil {
			return err
		}
	}
	return nil
}

// finishOp blocks until every queue has drained, then resets every cached
// pipeline's descriptor-set cursor. This is the end-of-operation call
// mulMat, mulMatVec, and mulElementwise each make before returning, so the
// next op starts reusing descriptor sets only after the GPU work reading
// them through the old cursor position has actually retired.
func (d *device) finishOp() error {
	if err := d.waitAllIdle(); err != nil {
		return err
	}
	d.pipelines.cleanup()
	return nil
}

// createSemaphore makes a binary semaphore used to chain a compute
// dispatch's completion into the download that reads its output, without
// the host blocking between the two submissions.
func (d *device) createSemaphore() (vk.Semaphore, error) {
	info := &vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var sem vk.Semaphore
	if ret := vk.CreateSemaphore(d.handle, info, nil, &sem); ret != vk.Success {
		return nil, fmt.Errorf("vulkan: create semaphore: result %d", ret)
	}
	return sem, nil
}

func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	if d.pool != nil {
		if e := d.pool.destroyAll(); e != nil && err == nil {
			err = e
		}
	}
	if d.pinned != nil {
		if e := d.pinned.destroyAll(); e != nil && err == nil {
			err = e
		}
	}
	if d.pipelines != nil {
		d.pipelines.destroyAll()
	}
	if d.computeQueue != nil {
		d.computeQueue.destroy()
	}
	if d.transferQs[0] != nil {
		d.transferQs[0].destroy()
	}
	if d.transferQs[1] != nil && d.transferQs[1] != d.transferQs[0] {
		d.transferQs[1].destroy()
	}
	if d.handle != nil {
		vk.DestroyDevice(d.handle, nil)
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
	}
	return err
}

func queryQueueFamilies(pd vk.PhysicalDevice) []queueFamily {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	raw := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, raw)

	out := make([]queueFamily, count)
	for i := range raw {
		raw[i].Deref()
		out[i] = queueFamily{
			Index:      i,
			Flags:      uint32(raw[i].QueueFlags),
			QueueCount: int(raw[i].QueueCount),
		}
	}
	return out
}

func maxQueueCount(families []queueFamily, index int) int {
	for _, f := range families {
		if f.Index == index {
			if f.QueueCount < 1 {
				return 1
			}
			return f.QueueCount
		}
	}
	return 1
}

func queueIndexOrZero(families []queueFamily, family, want int) int {
	if want < maxQueueCount(families, family) {
		return want
	}
	return 0
}

// createLogicalDevice requests the compute/transfer queues and, when fp16
// is true (the physical device passed probeFP16's feature query), chains
// in PhysicalDeviceFloat16Int8FeaturesKHR and enables the two extensions
// that feature struct actually belongs to — VK_KHR_shader_float16_int8 and
// VK_KHR_16bit_storage — since requesting the feature without enabling its
// extension is invalid device creation.
func createLogicalDevice(pd vk.PhysicalDevice, computeFamily, transferFamily int, dedicated, fp16 bool) (vk.Device, error) {
	priorities := []float32{1.0, 1.0}
	queueInfos := []vk.DeviceQueueCreateInfo{
		{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: uint32(computeFamily),
			QueueCount:       1,
			PQueuePriorities: priorities[:1],
		},
	}
	if dedicated {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: uint32(transferFamily),
			QueueCount:       1,
			PQueuePriorities: priorities[:1],
		})
	}

	devInfo := &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueInfos)),
		PQueueCreateInfos:    queueInfos,
	}

	if fp16 {
		var fp16Features vk.PhysicalDeviceFloat16Int8FeaturesKHR
		fp16Features.SType = vk.StructureTypePhysicalDeviceFloat16Int8FeaturesKHR
		fp16Features.ShaderFloat16 = vk.True
		devInfo.PNext = unsafe.Pointer(&fp16Features)
		devInfo.PpEnabledExtensionNames = []string{
			"VK_KHR_shader_float16_int8\x00",
			"VK_KHR_16bit_storage\x00",
		}
		devInfo.EnabledExtensionCount = uint32(len(devInfo.PpEnabledExtensionNames))
	}

	var handle vk.Device
	if ret := vk.CreateDevice(pd, devInfo, nil, &handle); ret != vk.Success {
		return nil, fmt.Errorf("vulkan: create device: result %d", ret)
	}
	return handle, nil
}

func probeFP16(pd vk.PhysicalDevice) bool {
	var features vk.PhysicalDeviceFloat16Int8FeaturesKHR
	features.SType = vk.StructureTypePhysicalDeviceFloat16Int8FeaturesKHR
	var features2 vk.PhysicalDeviceFeatures2
	features2.SType = vk.StructureTypePhysicalDeviceFeatures2
	features2.PNext = unsafe.Pointer(&features)
	vk.GetPhysicalDeviceFeatures2(pd, &features2)
	features.Deref()
	return features.ShaderFloat16 != vk.False
}

// estimateShaderCoreCount has no portable Vulkan query; it approximates
// the device's parallelism from its compute queue's maximum workgroup
// count, reported through StatusReport for diagnostics only.
func estimateShaderCoreCount(props vk.PhysicalDeviceProperties) int {
	props.Deref()
	count := int(props.Limits.MaxComputeWorkGroupCount[0])
	if count <= 0 || count > 256 {
		return 16
	}
	return count
}

func cString(raw [256]byte) string {
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}
