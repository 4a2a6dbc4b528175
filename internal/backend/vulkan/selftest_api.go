package vulkan

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ashgrove/vkcompute/internal/tensor"
)

// SelfTestCase is one synthetic matmul shape the self-test harness runs.
type SelfTestCase struct {
	M, N, K int64
	Type    tensor.Type
}

// SelfTestResult reports one case's outcome. Err is nil on success;
// MaxAbsDiff is only meaningful when the backend was built with
// Options.CheckKernels.
type SelfTestResult struct {
	Case       SelfTestCase
	Err        error
	MaxAbsDiff float32
}

// selfTestRunner is implemented by the real device (selftest.go,
// "vulkan"-tagged).
type selfTestRunner interface {
	runSelfTestCase(c SelfTestCase) SelfTestResult
}

// defaultSelfTestSuite exercises every tile-size tier and the mat-vec
// specialization, gated off the production ComputeForward path — callers
// invoke it explicitly from cmd/vkbench, never from the dispatcher.
func defaultSelfTestSuite() []SelfTestCase {
	return []SelfTestCase{
		{M: 16, N: 16, K: 64, Type: tensor.TypeF32},
		{M: 128, N: 64, K: 256, Type: tensor.TypeF32},
		{M: 1024, N: 1024, K: 1024, Type: tensor.TypeF32},
		{M: 256, N: 1, K: 512, Type: tensor.TypeF32},
		{M: 256, N: 1, K: 512, Type: tensor.TypeQ4_0},
	}
}

// SelfTest runs every case in suite concurrently via an errgroup, and
// returns one result per case in input order.
func (b *Backend) SelfTest(ctx context.Context, suite []SelfTestCase) ([]SelfTestResult, error) {
	runner, ok := b.impl.(selfTestRunner)
	if !ok {
		return nil, ErrBuildTagMissing
	}
	if suite == nil {
		suite = defaultSelfTestSuite()
	}

	results := make([]SelfTestResult, len(suite))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, c := range suite {
		i, c := i, c
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			results[i] = runner.runSelfTestCase(c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// FormatResult renders a SelfTestResult as a single human-readable line,
// used by cmd/vkbench.
func FormatResult(r SelfTestResult) string {
	if r.Err != nil {
		return fmt.Sprintf("m=%d n=%d k=%d type=%s FAILED: %v", r.Case.M, r.Case.N, r.Case.K, r.Case.Type, r.Err)
	}
	return fmt.Sprintf("m=%d n=%d k=%d type=%s OK max_abs_diff=%g", r.Case.M, r.Case.N, r.Case.K, r.Case.Type, r.MaxAbsDiff)
}
