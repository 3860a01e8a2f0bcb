package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"camrand/internal/app"
	"camrand/internal/shared/config"
	"camrand/internal/shared/logger"
	"camrand/internal/shared/types"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	drainBits := flag.Int64("drain-bits", 0, "Drain mode: generate this many bits to a flat file and exit")
	drainFormat := flag.String("format", "binary", "Drain output format: binary (raw bytes) or text (ASCII 0s and 1s)")
	drainOut := flag.String("out", "nist_data", "Drain output file basename (.bin or .txt is appended)")
	discover := flag.Bool("discover", false, "Run the source discovery scrapers and exit")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "camrand.ini")

	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before the logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	appServer, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize pipeline.")
	}

	switch {
	case *discover:
		if err := appServer.Discover(); err != nil {
			logger.Fatal().Err(err).Msg("Source discovery failed.")
		}

	case *drainBits > 0:
		out := *drainOut + ".bin"
		if *drainFormat == "text" {
			out = *drainOut + ".txt"
		}
		if err := appServer.Manager().DrainToFile(context.Background(), out, *drainBits, *drainFormat); err != nil {
			logger.Fatal().Err(err).Msg("Drain failed.")
		}

	default:
		appServer.Run()
	}
}
