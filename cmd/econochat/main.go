package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/teilomillet/econochat/config"
	apperrors "github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	envFile    = flag.String("env-file", ".env", "Path to an optional dotenv file")
	validate   = flag.Bool("validate", false, "Validate configuration and exit")
	version    = flag.Bool("version", false, "Print version and exit")
)

const Version = "v0.1.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("econochat %s\n", Version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "econochat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Variables already set in the environment win over the file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg, fromFile, err := loadConfig(*configFile)
	if err != nil {
		return err
	}

	if *validate {
		fmt.Println("Configuration is valid")
		return nil
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		// Sync fails on some terminals; nothing useful can be done about it.
		_ = logger.Sync()
	}()
	apperrors.SetLogger(logger)

	var watcher config.Watcher
	if fromFile {
		watcher, err = config.NewConfigWatcher(*configFile, logger.Named("config"))
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
	} else {
		logger.Info("no configuration file found, using defaults",
			zap.String("config_path", *configFile),
		)
		watcher = config.NewStaticWatcher(cfg)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, watcher, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	logger.Info("starting econochat",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("llm_credential", cfg.LLM.APIKey != ""),
		zap.String("session_backend", cfg.Session.Backend),
	)
	if cfg.Session.Secret == config.DefaultConfig().Session.Secret {
		logger.Warn("session cookies are signed with the default secret; set SESSION_SECRET")
	}

	return srv.Start(ctx)
}

// loadConfig reads path, or falls back to the defaults when it does not
// exist. fromFile reports which happened.
func loadConfig(path string) (cfg *config.Config, fromFile bool, err error) {
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		cfg, err = config.LoadDefault()
		if err != nil {
			return nil, false, fmt.Errorf("load default config: %w", err)
		}
		return cfg, false, nil
	}

	cfg, err = config.LoadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, true, nil
}

// newLogger builds the process logger: JSON production output or a
// human-readable development console.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if cfg.Format == "text" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
