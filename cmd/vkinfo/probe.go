package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/ashgrove/vkcompute/internal/backend"
	"github.com/ashgrove/vkcompute/internal/backend/vulkan"
	"github.com/ashgrove/vkcompute/internal/logger"
)

func buildOptions(ctx context.Context) (vulkan.Options, error) {
	opts := vulkan.Options{
		DeviceIndex:      int(deviceIndex),
		ForceDeviceIndex: true,
		EnableValidation: enableValidation,
		Logger:           logger.FromContext(ctx),
	}
	if configPath == "" {
		return opts, nil
	}
	return vulkan.LoadOptions(configPath, opts)
}

func probeCmd() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "Bootstrap the Vulkan device and report what was found",
		Flags: append(commonBackendFlags(), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx = setupLogger(ctx)

			if !backend.Has(backend.Vulkan) {
				return cli.Exit("error: binary was built without the \"vulkan\" tag", 1)
			}

			opts, err := buildOptions(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load config: %v", err), 1)
			}

			b, err := backend.NewVulkan(opts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open vulkan backend: %v", err), 1)
			}
			defer func() { _ = b.Close() }()

			fmt.Printf("backend: %s\n", b.Name())

			if vb, ok := b.(*vulkan.Backend); ok {
				report, err := vb.Status()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: status: %v", err), 1)
				}
				fmt.Printf("device:               %s\n", report.Device)
				fmt.Printf("fp16 supported:       %v\n", report.FP16Supported)
				fmt.Printf("descriptor pool mode: %s\n", report.DescriptorPoolMode)
				fmt.Printf("shader core estimate: %d\n", report.ShaderCoreEstimate)
			}
			return nil
		},
	}
}
