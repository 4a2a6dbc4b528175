package vulkan

import "testing"

func TestSelectBestFitPicksSmallestSufficientSlot(t *testing.T) {
	slots := []poolSlot{
		{Size: 1024, Free: true},
		{Size: 256, Free: true},
		{Size: 512, Free: true},
	}
	idx, ok := selectBestFit(slots, 300)
	if !ok || idx != 2 {
		t.Fatalf("selectBestFit = %d, %v; want 2, true", idx, ok)
	}
}

func TestSelectBestFitSkipsBusySlots(t *testing.T) {
	slots := []poolSlot{
		{Size: 256, Free: false},
		{Size: 512, Free: true},
	}
	idx, ok := selectBestFit(slots, 300)
	if !ok || idx != 1 {
		t.Fatalf("selectBestFit = %d, %v; want 1, true", idx, ok)
	}
}

func TestSelectBestFitNoneFits(t *testing.T) {
	slots := []poolSlot{{Size: 128, Free: true}}
	if _, ok := selectBestFit(slots, 4096); ok {
		t.Fatalf("selectBestFit should fail when nothing is large enough")
	}
}

func TestSelectEvictionVictimPicksLargestFree(t *testing.T) {
	slots := []poolSlot{
		{Size: 128, Free: true},
		{Size: 4096, Free: true},
		{Size: 2048, Free: false},
	}
	idx, ok := selectEvictionVictim(slots)
	if !ok || idx != 1 {
		t.Fatalf("selectEvictionVictim = %d, %v; want 1, true", idx, ok)
	}
}

func TestSelectEvictionVictimAllBusy(t *testing.T) {
	slots := []poolSlot{{Size: 128, Free: false}}
	if _, ok := selectEvictionVictim(slots); ok {
		t.Fatalf("selectEvictionVictim should fail when every slot is busy")
	}
}

func TestSelectInsertSlotRespectsCapacity(t *testing.T) {
	slots := make([]poolSlot, 2)
	if idx, ok := selectInsertSlot(slots, 4); !ok || idx != 2 {
		t.Fatalf("selectInsertSlot = %d, %v; want 2, true", idx, ok)
	}
	if _, ok := selectInsertSlot(slots, 2); ok {
		t.Fatalf("selectInsertSlot should fail at capacity")
	}
}
