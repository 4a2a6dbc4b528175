//go:build vulkan

package vulkan

import (
	"context"
	"testing"
)

// TestSelfTestAgainstDevice only runs when a real device is reachable,
// and skips rather than fails when bootstrap can't find one (no GPU in
// the test environment, missing driver, etc).
func TestSelfTestAgainstDevice(t *testing.T) {
	b, err := New(Options{CheckKernels: true})
	if err != nil {
		t.Skipf("no vulkan device available: %v", err)
	}
	defer func() { _ = b.Close() }()

	results, err := b.SelfTest(context.Background(), nil)
	if err != nil {
		t.Fatalf("self-test: %v", err)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("%s", FormatResult(r))
		}
	}
}
