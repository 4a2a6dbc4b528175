package main

import "github.com/urfave/cli/v3"

var (
	deviceIndex      int64
	configPath       string
	enableValidation bool
	logLevel         string
	logFormat        string
)

func commonBackendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "device",
			Aliases:     []string{"d"},
			Usage:       "physical device index to select",
			Value:       0,
			Destination: &deviceIndex,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to vkcompute.yaml",
			Destination: &configPath,
		},
		&cli.BoolFlag{
			Name:        "validation",
			Usage:       "enable VK_LAYER_KHRONOS_validation if present",
			Destination: &enableValidation,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
	}
}
