package vulkan

import "testing"

func TestSelectQueueFamilyPrefersDedicatedComputeTransfer(t *testing.T) {
	families := []queueFamily{
		{Index: 0, Flags: queueGraphicsBit | queueComputeBit | queueTransferBit, QueueCount: 16},
		{Index: 1, Flags: queueComputeBit | queueTransferBit, QueueCount: 8},
		{Index: 2, Flags: queueTransferBit, QueueCount: 2},
	}
	idx, ok := selectQueueFamily(families, 1, -1)
	if !ok || idx != 1 {
		t.Fatalf("selectQueueFamily = %d, %v; want 1, true", idx, ok)
	}
}

func TestSelectQueueFamilyFallsBackToAnyCompute(t *testing.T) {
	families := []queueFamily{
		{Index: 0, Flags: queueGraphicsBit | queueComputeBit, QueueCount: 16},
	}
	idx, ok := selectQueueFamily(families, 1, -1)
	if !ok || idx != 0 {
		t.Fatalf("selectQueueFamily = %d, %v; want 0, true", idx, ok)
	}
}

func TestSelectQueueFamilyNoCompute(t *testing.T) {
	families := []queueFamily{
		{Index: 0, Flags: queueGraphicsBit, QueueCount: 16},
	}
	if _, ok := selectQueueFamily(families, 1, -1); ok {
		t.Fatalf("selectQueueFamily should fail when no family exposes compute")
	}
}

func TestSelectQueueFamilyHonorsMinQueuesTier(t *testing.T) {
	families := []queueFamily{
		{Index: 0, Flags: queueComputeBit | queueTransferBit, QueueCount: 1},
	}
	// Tier 1 requires >= 2 queues; falls through to tier 2 which has no
	// such requirement and matches the same family.
	idx, ok := selectQueueFamily(families, 2, -1)
	if !ok || idx != 0 {
		t.Fatalf("selectQueueFamily = %d, %v; want 0, true", idx, ok)
	}
}

func TestSelectQueueFamilyExcludesClaimedIndex(t *testing.T) {
	families := []queueFamily{
		{Index: 0, Flags: queueComputeBit | queueTransferBit, QueueCount: 4},
	}
	if _, ok := selectQueueFamily(families, 1, 0); ok {
		t.Fatalf("selectQueueFamily should not return an excluded index")
	}
}

func TestSelectTransferFamilyPrefersDedicated(t *testing.T) {
	families := []queueFamily{
		{Index: 0, Flags: queueComputeBit | queueTransferBit, QueueCount: 4},
		{Index: 1, Flags: queueTransferBit, QueueCount: 2},
	}
	idx, ok := selectTransferFamily(families, 0)
	if !ok || idx != 1 {
		t.Fatalf("selectTransferFamily = %d, %v; want 1, true", idx, ok)
	}
}

func TestSelectTransferFamilyFallsBackToCompute(t *testing.T) {
	families := []queueFamily{
		{Index: 0, Flags: queueComputeBit | queueTransferBit, QueueCount: 4},
	}
	idx, ok := selectTransferFamily(families, 0)
	if ok {
		t.Fatalf("selectTransferFamily should report fallback via ok=false")
	}
	if idx != 0 {
		t.Fatalf("selectTransferFamily fallback = %d; want compute family 0", idx)
	}
}
