package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ashgrove/vkcompute/internal/backend"
	"github.com/ashgrove/vkcompute/internal/backend/vulkan"
	"github.com/ashgrove/vkcompute/internal/logger"
)

func runCmd() *cli.Command {
	var (
		deviceIndex  int64
		checkKernels bool
		logLevel     string
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Bootstrap the Vulkan device and run the self-test suite",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "device",
				Aliases:     []string{"d"},
				Usage:       "physical device index to select",
				Destination: &deviceIndex,
			},
			&cli.BoolFlag{
				Name:        "check-kernels",
				Usage:       "compare GPU output against a CPU reference for each case",
				Destination: &checkKernels,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Value:       "info",
				Destination: &logLevel,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.Pretty(os.Stderr, logger.ParseLevel(logLevel))
			ctx = logger.WithContext(ctx, log)

			opts := vulkan.Options{
				DeviceIndex:      int(deviceIndex),
				ForceDeviceIndex: true,
				CheckKernels:     checkKernels,
				Logger:           log,
			}

			b, err := backend.NewVulkan(opts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open vulkan backend: %v", err), 1)
			}
			defer func() { _ = b.Close() }()

			vb, ok := b.(*vulkan.Backend)
			if !ok {
				return cli.Exit("error: backend is not the vulkan implementation", 1)
			}

			start := time.Now()
			results, err := vb.SelfTest(ctx, nil)
			elapsed := time.Since(start)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: self-test: %v", err), 1)
			}

			fmt.Println("=== vkcompute self-test ===")
			failures := 0
			for _, r := range results {
				fmt.Println(vulkan.FormatResult(r))
				if r.Err != nil {
					failures++
				}
			}
			fmt.Printf("\n%d/%d cases passed in %s\n", len(results)-failures, len(results), elapsed.Round(time.Millisecond))

			if failures > 0 {
				return cli.Exit("self-test reported failures", 1)
			}
			return nil
		},
	}
}
