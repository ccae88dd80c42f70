package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"theaterd/internal/chat"
	"theaterd/internal/config"
	"theaterd/internal/generator"
	"theaterd/internal/httpapi"
	"theaterd/internal/settings"
	"theaterd/internal/theater"
)

type serveOptions struct {
	configPath string
	envFile    string
	addr       string
	backend    string
	backendURL string
	chatPath   string
	logLevel   string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the theater daemon",
		Example: "  theaterd serve --config theaterd.yaml\n  theaterd serve --backend static",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .json or .toml)")
	f.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading THEATERD_* variables")
	f.StringVar(&opts.addr, "addr", "", "HTTP listen address, e.g. :8080")
	f.StringVar(&opts.backend, "backend", "", "Generation backend: openai|gemini|llama|static")
	f.StringVar(&opts.backendURL, "backend-url", "", "Base URL of an OpenAI-compatible completion server")
	f.StringVar(&opts.chatPath, "chat", "", "JSON file the chat transcript is persisted to (empty keeps it in memory)")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error|off")
	return cmd
}

func loadConfig(opts serveOptions) (config.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", opts.envFile, err)
		}
	}
	var cfg config.Config
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	// Flags take precedence over file and environment.
	set := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	set(opts.addr, &cfg.Addr)
	set(opts.backend, &cfg.Backend.Kind)
	set(opts.backendURL, &cfg.Backend.BaseURL)
	set(opts.chatPath, &cfg.ChatPath)
	set(opts.logLevel, &cfg.LogLevel)
	cfg.ApplyDefaults()
	if err := cfg.ExpandPaths(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if level == "off" {
		lvl = zerolog.Disabled
	}
	var out io.Writer = os.Stderr
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("svc", "theaterd").Logger()
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen, err := generator.New(ctx, cfg.Generator())
	if err != nil {
		return fmt.Errorf("backend %s: %w", cfg.Backend.Kind, err)
	}
	if c, ok := gen.(io.Closer); ok {
		defer c.Close()
	}

	var store *chat.MemoryStore
	if cfg.ChatPath != "" {
		if store, err = chat.Open(cfg.ChatPath); err != nil {
			return err
		}
	} else {
		store = chat.NewMemoryStore()
	}

	initial, err := cfg.Settings()
	if err != nil {
		return err
	}
	var saver settings.Saver
	var settingsFile *settings.File
	if cfg.SettingsPath != "" {
		settingsFile = settings.NewFile(cfg.SettingsPath, settings.DefaultDebounce, logger)
		saved, ok, err := settingsFile.Load()
		if err != nil {
			return err
		}
		if ok {
			initial = saved
		}
		saver = settingsFile
	}
	holder, err := settings.NewHolder(initial, saver)
	if err != nil {
		return err
	}

	hub := theater.NewHub(32)
	svc := theater.New(theater.Config{
		Generator:   gen,
		Store:       store,
		Settings:    holder,
		Notifier:    theater.MultiNotifier{theater.LogNotifier{Log: logger.With().Str("component", "notice").Logger()}, hub},
		Logger:      logger.With().Str("component", "theater").Logger(),
		SettleDelay: cfg.SettleDelay(),
	})

	httpapi.SetLogger(logger.With().Str("component", "http").Logger())
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins)
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend.Kind).Int("messages", store.Len()).Msg("theaterd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
	if settingsFile != nil {
		if err := settingsFile.Flush(); err != nil {
			logger.Warn().Err(err).Msg("settings flush failed")
		}
	}
	logger.Info().Msg("theaterd stopped")
	return nil
}
