package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/tiffinwaleofficial/student-app-sub001/internal/app"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/config"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/shutdown"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	flags, err := config.ParseConfigFlags(os.Args[0], os.Args[1:])
	if err != nil {
		shutdown.Abort("failed to parse flags", err)
	}

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		shutdown.Abort("failed to load config file", err)
	}

	envCfg, envRes := config.ParseConfigEnvs(os.Getenv)

	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		shutdown.Abort("failed to build effective config", err)
	}

	if err := config.ValidateConfig(eff); err != nil {
		shutdown.Abort("invalid configuration", err)
	}

	// initialize logger after config is fully loaded
	logger.Init(eff.Config.Logging.Level)
	defer logger.Sync()

	logger.Info("effective_config_loaded", "sources", eff.Sources, "store", eff.Config.Store.Path, "version", version, "commit", commit, "build_date", buildDate)

	a, err := app.New(eff, version)
	if err != nil {
		shutdown.Abort("failed to initialize app", err)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("app run failed", err)
	}

	// bounded so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	_ = a.Shutdown(shutdownCtx)
}
