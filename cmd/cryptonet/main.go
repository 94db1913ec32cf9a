package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/cryptonet"
	"github.com/menta2k/cryptonet/internal/config"
	"github.com/menta2k/cryptonet/internal/logging"
	"github.com/menta2k/cryptonet/internal/utils"
	"github.com/menta2k/cryptonet/pkg/canonical"
	"github.com/menta2k/cryptonet/pkg/native"
	"github.com/menta2k/cryptonet/pkg/types"
)

var imageOps = map[string]bool{
	"enroll":     true,
	"predict":    true,
	"scan-front": true,
	"scan-back":  true,
}

// errInputsFailed reports a batch where at least one input failed.
var errInputsFailed = errors.New("some inputs failed")

// request is one CLI invocation.
type request struct {
	op          string
	in          string
	embA        string
	embB        string
	outDir      string
	mfToken     string
	predictMode bool
}

func (r request) validate() error {
	switch {
	case r.op == "":
		return errors.New("-op is required")
	case r.op == "version", r.op == "check", r.op == "models":
		return nil
	case r.op == "compare":
		if r.embA == "" || r.embB == "" {
			return errors.New("compare requires -a and -b")
		}
		return nil
	case imageOps[r.op]:
		if r.in == "" {
			return fmt.Errorf("%s requires -in", r.op)
		}
		return nil
	default:
		return fmt.Errorf("unknown operation: %s", r.op)
	}
}

// needsSession reports whether op runs against an initialized session.
func (r request) needsSession() bool {
	return r.op != "version" && r.op != "check"
}

func main() {
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	var configPath, libPath, workDir, settingsPath, logLevel string
	var req request

	flag.StringVar(&configPath, "config", "", "config file (.toml or .json), defaults to "+config.GetConfigPath()+" when present")
	flag.StringVar(&libPath, "lib", "", "engine shared library path (overrides config)")
	flag.StringVar(&workDir, "workdir", "", "engine working directory (overrides config)")
	flag.StringVar(&settingsPath, "settings", "", "session settings JSON file (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")

	flag.StringVar(&req.op, "op", "", "operation: version|enroll|predict|compare|scan-front|scan-back|models|check")
	flag.StringVar(&req.in, "in", "", "input image path, URL, or directory (batch enroll/predict/scan)")
	flag.StringVar(&req.embA, "a", "", "first embedding file (compare)")
	flag.StringVar(&req.embB, "b", "", "second embedding file (compare)")
	flag.StringVar(&req.outDir, "out", "", "output directory for result JSON, stdout when empty")
	flag.StringVar(&req.mfToken, "mf-token", "", "multi-frame token for enroll/predict")
	flag.BoolVar(&req.predictMode, "predict-mode", false, "check prediction models instead of enrollment models")

	flag.Parse()
	if err := req.validate(); err != nil {
		log.Fatalf("%v\nusage: %s -op version|enroll|predict|compare|scan-front|scan-back|models|check [-in image|URL|dir] [-a emb1 -b emb2] [-lib libprivid.so] [-out outdir]", err, filepath.Base(os.Args[0]))
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if libPath != "" {
		cfg.Engine.LibraryPath = libPath
	}
	if workDir != "" {
		cfg.Engine.WorkingDirectory = workDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	canonicalizer, err := cfg.Canonicalizer()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	var settings []byte
	if req.needsSession() {
		if settings, err = loadSettings(cfg, settingsPath); err != nil {
			log.Fatalf("failed to load session settings: %v", err)
		}
	}
	if req.outDir != "" {
		if err := utils.EnsureDir(req.outDir); err != nil {
			log.Fatalf("failed to create output directory: %v", err)
		}
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

	r := &runner{
		client:   cryptonet.NewWithConfig(lib, canonicalizer, logger),
		loader:   newLoader(cfg),
		logger:   logger,
		workDir:  cfg.Engine.WorkingDirectory,
		settings: settings,
		stdout:   os.Stdout,
	}
	if err := r.execute(context.Background(), req); err != nil {
		logger.Error("cryptonet failed", zap.String("op", req.op), zap.Error(err))
		exitCode = 1
	}
}

// runner executes a validated request against a client.
type runner struct {
	client   *cryptonet.Client
	loader   *canonical.Loader
	logger   *zap.Logger
	workDir  string
	settings []byte
	stdout   io.Writer
}

// execute runs req. Session-backed operations always deinitialize the
// session before returning.
func (r *runner) execute(ctx context.Context, req request) error {
	switch req.op {
	case "version":
		fmt.Fprintln(r.stdout, r.client.Version())
		return nil
	case "check":
		if err := r.client.CheckModels(!req.predictMode); err != nil {
			return fmt.Errorf("model check failed: %w", err)
		}
		fmt.Fprintln(r.stdout, "models ok")
		return nil
	}

	r.client.InitializeLib(r.workDir)
	if err := r.client.InitializeSession(r.settings); err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}
	defer func() {
		if err := r.client.DeinitializeSession(); err != nil {
			r.logger.Warn("failed to deinitialize session", zap.Error(err))
		}
	}()

	switch {
	case req.op == "compare":
		one, err := readEmbedding(req.embA)
		if err != nil {
			return fmt.Errorf("failed to read embedding %s: %w", req.embA, err)
		}
		two, err := readEmbedding(req.embB)
		if err != nil {
			return fmt.Errorf("failed to read embedding %s: %w", req.embB, err)
		}
		result, err := r.client.CompareEmbeddings(one, two)
		if err != nil {
			return err
		}
		return r.emit(req.outDir, req.embA, req.op, result)

	case req.op == "models":
		result, err := r.client.AboutModels()
		if err != nil {
			return err
		}
		return r.emit(req.outDir, "models", req.op, result)

	case imageOps[req.op]:
		return r.images(ctx, req)

	default:
		return fmt.Errorf("unknown operation: %s", req.op)
	}
}

// images runs req over one input or every image in a directory. A failed
// input is logged and the batch continues.
func (r *runner) images(ctx context.Context, req request) error {
	inputs := []string{req.in}
	if utils.DirExists(req.in) {
		var err error
		if inputs, err = utils.ListImageFiles(req.in); err != nil {
			return fmt.Errorf("failed to list images: %w", err)
		}
		r.logger.Info("batch", zap.String("dir", req.in), zap.Int("images", len(inputs)))
	}

	failed := 0
	for _, input := range inputs {
		img, err := r.loader.LoadImageSmart(ctx, input)
		if err != nil {
			r.logger.Error("load failed", zap.String("input", input), zap.Error(err))
			failed++
			continue
		}
		result, err := runImageOp(r.client, req.op, img, req.mfToken)
		if err != nil {
			r.logger.Error("operation failed", zap.String("input", input), zap.Error(err))
			failed++
			continue
		}
		if err := r.emit(req.outDir, input, req.op, result); err != nil {
			r.logger.Error("write failed", zap.String("input", input), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errInputsFailed, failed, len(inputs))
	}
	return nil
}

func (r *runner) emit(outDir, input, op, result string) error {
	if outDir == "" {
		_, err := fmt.Fprintln(r.stdout, result)
		return err
	}
	path := utils.ResultFilename(input, outDir, op)
	if err := os.WriteFile(path, []byte(result), 0o644); err != nil {
		return err
	}
	r.logger.Info("wrote result", zap.String("path", path))
	return nil
}

func newLoader(cfg *config.Config) *canonical.Loader {
	return canonical.NewLoaderWithConfig(canonical.LoaderConfig{
		HTTPTimeout:  time.Duration(cfg.Image.HTTPTimeoutSeconds) * time.Second,
		MaxBytes:     cfg.Image.MaxBytes,
		MinImageSize: cfg.Image.MinImageSize,
	})
}

// loadConfig reads path, or the default config file when path is empty.
// Only the default file may be absent.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path == "" {
		cfg, _, err = config.LoadOrDefault(config.GetConfigPath())
	} else {
		cfg, err = config.LoadFromFile(path)
	}
	if err != nil {
		return nil, err
	}
	return cfg, cfg.ApplyEnv()
}

func loadSettings(cfg *config.Config, path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return cfg.SessionSettingsJSON()
}

// readEmbedding reads an embedding file, dropping surrounding whitespace
// left by editors.
func readEmbedding(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(data), nil
}

func runImageOp(client *cryptonet.Client, op string, img image.Image, mfToken string) (string, error) {
	switch op {
	case "enroll":
		cfg := types.NewEnrollConfig()
		if mfToken != "" {
			cfg = cfg.WithMfToken(mfToken)
		}
		return client.Enroll(img, cfg)
	case "predict":
		cfg := types.NewPredictConfig()
		if mfToken != "" {
			cfg = cfg.WithMfToken(mfToken)
		}
		return client.Predict(img, cfg)
	case "scan-front":
		result, err := client.FrontDocumentScan(img, types.NewDocumentFrontScanConfig())
		if err != nil {
			return "", err
		}
		return result.Text, nil
	case "scan-back":
		result, err := client.BackDocumentScan(img, types.NewDocumentBackScanConfig())
		if err != nil {
			return "", err
		}
		return result.Text, nil
	default:
		return "", fmt.Errorf("unknown image operation: %s", op)
	}
}
