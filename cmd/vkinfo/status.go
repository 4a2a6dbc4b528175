package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/ashgrove/vkcompute/internal/backend"
	"github.com/ashgrove/vkcompute/internal/backend/vulkan"
)

func statusCmd() *cli.Command {
	var addr string

	flags := append(commonBackendFlags(), loggingFlags()...)
	flags = append(flags, &cli.StringFlag{
		Name:        "addr",
		Usage:       "address to serve /status on",
		Value:       ":9091",
		Destination: &addr,
	})

	return &cli.Command{
		Name:  "status",
		Usage: "Serve a JSON /status endpoint describing the live backend",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx = setupLogger(ctx)

			opts, err := buildOptions(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load config: %v", err), 1)
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
			e, err := vb.NewStatusServer(5)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build status server: %v", err), 1)
			}

			fmt.Printf("serving /status on %s\n", addr)
			return e.Start(addr)
		},
	}
}
