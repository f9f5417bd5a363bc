package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dokzlo13/panelhub/internal/app"
	"github.com/dokzlo13/panelhub/internal/config"
	"github.com/dokzlo13/panelhub/internal/logging"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	checkOnly := pflag.Bool("check", false, "Validate the configuration and exit")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(1)
	}
	if *checkOnly {
		fmt.Println("configuration OK")
		return
	}

	// Setup logging
	logFile := logging.Setup(cfg.Log)
	defer logFile.Close()

	log.Info().Str("config", configPath).Msg("Starting panelhub")

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	ctx, stop := app.SignalContext()
	defer stop()

	if err := application.Start(ctx); err != nil {
		application.Stop()
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	waitErr := application.Wait()
	if waitErr == nil {
		log.Warn().Msg("Received shutdown signal")
	}

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	if waitErr != nil {
		logFile.Close()
		os.Exit(1)
	}
}
