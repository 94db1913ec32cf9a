package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/menta2k/cryptonet"
	"github.com/menta2k/cryptonet/internal/config"
	"github.com/menta2k/cryptonet/internal/gateway"
	"github.com/menta2k/cryptonet/internal/logging"
	"github.com/menta2k/cryptonet/pkg/canonical"
	"github.com/menta2k/cryptonet/pkg/native"
)

func main() {
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	var configPath string
	flag.StringVar(&configPath, "config", config.GetConfigPath(), "config file (.toml or .json)")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, found, err := config.LoadOrDefault(configPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", configPath, err)
		}
		if !found {
			log.Printf("config %s not found, using defaults", configPath)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	settings, err := cfg.SessionSettingsJSON()
	if err != nil {
		log.Fatalf("invalid session settings: %v", err)
	}
	canonicalizer, err := cfg.Canonicalizer()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync() //nolint:errcheck

	lib, err := native.Open(cfg.Engine.LibraryPath)
	if err != nil {
		logger.Error("failed to open engine", zap.Error(err))
		exitCode = 1
		return
	}
	defer lib.Close()

	client := cryptonet.NewWithConfig(lib, canonicalizer, logger)
	client.InitializeLib(cfg.Engine.WorkingDirectory)
	if err := client.InitializeSession(settings); err != nil {
		logger.Error("failed to initialize session", zap.Error(err))
		exitCode = 1
		return
	}
	defer func() {
		if err := client.DeinitializeSession(); err != nil {
			logger.Warn("failed to deinitialize session", zap.Error(err))
		}
	}()

	loader := canonical.NewLoaderWithConfig(canonical.LoaderConfig{
		HTTPTimeout:  time.Duration(cfg.Image.HTTPTimeoutSeconds) * time.Second,
		MaxBytes:     cfg.Gateway.MaxUploadBytes,
		MinImageSize: cfg.Image.MinImageSize,
	})

	gin.SetMode(gin.ReleaseMode)
	srv := gateway.New(client, loader, gateway.OptionsFromConfig(cfg.Gateway), logger)

	logger.Info("cryptonet gateway listening",
		zap.String("addr", cfg.Gateway.Addr),
		zap.String("engine_version", client.Version()),
		zap.Bool("auth", cfg.Gateway.AuthSecret != ""))
	if err := srv.Serve(context.Background(), cfg.Gateway, nil); err != nil {
		logger.Error("server failed", zap.Error(err))
		exitCode = 1
	}
}
