package vulkan

// Queue flag bits mirror VK_QUEUE_*_BIT from the Vulkan spec. Declared
// locally so this file has no dependency on the vulkan-go/vulkan package
// (and hence no "vulkan" build tag) and can be unit tested on any machine.
const (
	queueGraphicsBit      uint32 = 0x00000001
	queueComputeBit       uint32 = 0x00000002
	queueTransferBit      uint32 = 0x00000004
	queueSparseBindingBit uint32 = 0x00000008
)

// queueFamily is the subset of vk.QueueFamilyProperties the selection
// logic needs.
type queueFamily struct {
	Index      int
	Flags      uint32
	QueueCount int
}

// selectQueueFamily runs a four-tier fallback for finding a
// compute-capable queue family, preferring one dedicated to transfer (no
// graphics bit) and excluding a family index already claimed by a
// higher-priority role.
//
// Tiers, in order:
//  1. Compute + transfer, no graphics, queueCount >= minQueues.
//  2. Compute + transfer, no graphics.
//  3. Compute, no graphics.
//  4. Any family with the compute bit set.
func selectQueueFamily(families []queueFamily, minQueues int, exclude int) (int, bool) {
	tiers := []func(queueFamily) bool{
		func(f queueFamily) bool {
			return hasBits(f.Flags, queueComputeBit|queueTransferBit) &&
				!hasBits(f.Flags, queueGraphicsBit) && f.QueueCount >= minQueues
		},
		func(f queueFamily) bool {
			return hasBits(f.Flags, queueComputeBit|queueTransferBit) &&
				!hasBits(f.Flags, queueGraphicsBit)
		},
		func(f queueFamily) bool {
			return hasBits(f.Flags, queueComputeBit) && !hasBits(f.Flags, queueGraphicsBit)
		},
		func(f queueFamily) bool {
			return hasBits(f.Flags, queueComputeBit)
		},
	}
	for _, match := range tiers {
		for _, f := range families {
			if f.Index == exclude {
				continue
			}
			if match(f) {
				return f.Index, true
			}
		}
	}
	return 0, false
}

// selectTransferFamily finds a queue family dedicated to transfer
// (transfer bit set, compute and graphics bits clear), falling back to any
// queue family that merely advertises transfer, then finally to the
// compute family itself (shared-queue fallback).
func selectTransferFamily(families []queueFamily, computeFamily int) (int, bool) {
	for _, f := range families {
		if f.Index == computeFamily {
			continue
		}
		if hasBits(f.Flags, queueTransferBit) &&
			!hasBits(f.Flags, queueComputeBit|queueGraphicsBit) {
			return f.Index, true
		}
	}
	for _, f := range families {
		if f.Index == computeFamily {
			continue
		}
		if hasBits(f.Flags, queueTransferBit) {
			return f.Index, true
		}
	}
	return computeFamily, false
}

func hasBits(flags, want uint32) bool {
	return flags&want == want
}
