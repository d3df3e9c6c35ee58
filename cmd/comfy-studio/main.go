package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"comfy-studio/internal/analyzer"
	"comfy-studio/internal/batch"
	"comfy-studio/internal/executor"
	"comfy-studio/internal/promptgen"
	"comfy-studio/internal/store"
	"comfy-studio/internal/trends"
	"comfy-studio/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	ScriptsDir string `yaml:"scripts_dir"`
	ConfigDir  string `yaml:"config_dir"` // saved prompt mappings
	Engine     struct {
		Paths       []string `yaml:"paths"` // candidate installation dirs
		OutputDir   string   `yaml:"output_dir"`
		FallbackDir string   `yaml:"fallback_dir"`
	} `yaml:"engine"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Trends struct {
		Enabled   bool   `yaml:"enabled"`
		BaseURL   string `yaml:"base_url"`
		UserAgent string `yaml:"user_agent"`
		MinScore  int    `yaml:"min_score"`
		ImageDir  string `yaml:"image_dir"`
	} `yaml:"trends"`
	PromptGen struct {
		Enabled   bool   `yaml:"enabled"`
		Model     string `yaml:"model"`
		ReportDir string `yaml:"report_dir"`
	} `yaml:"promptgen"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.ScriptsDir == "" {
		return fmt.Errorf("scripts_dir is required")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("comfy-studio starting", "version", version)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	anl := analyzer.New(cfg.ConfigDir, logger)
	engine := executor.NewEngine(executor.Config{
		EnginePaths: cfg.Engine.Paths,
		FallbackDir: cfg.Engine.FallbackDir,
	}, logger)
	runner := batch.NewRunner(anl, engine, db, logger)

	webOpts := []web.ServerOption{web.WithVersion(version)}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	if cfg.Trends.Enabled {
		collector := trends.NewCollector(trends.Config{
			BaseURL:   cfg.Trends.BaseURL,
			UserAgent: cfg.Trends.UserAgent,
			MinScore:  cfg.Trends.MinScore,
			ImageDir:  cfg.Trends.ImageDir,
		}, db, logger)
		webOpts = append(webOpts, web.WithCollector(collector))
	}
	if cfg.PromptGen.Enabled {
		gen, err := promptgen.NewGenerator(context.Background(), cfg.PromptGen.Model, cfg.PromptGen.ReportDir, logger)
		if err != nil {
			logger.Error("create prompt generator", "err", err)
			os.Exit(1)
		}
		webOpts = append(webOpts, web.WithGenerator(gen))
	}

	// MQTT notifier (no-op when built with no_mqtt tag).
	notifier := initMQTT(cfg, logger)
	if sink := notifier.Sink(); sink != nil {
		webOpts = append(webOpts, web.WithEventSink(sink))
	}

	webServer := web.NewServer(cfg.ScriptsDir, anl, runner, db, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	notifier.Stop()

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = "script_configs"
	}
	if cfg.Engine.FallbackDir == "" {
		cfg.Engine.FallbackDir = "output/comfy_generated"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "comfy-studio.db"
	}
	if cfg.Trends.MinScore == 0 {
		cfg.Trends.MinScore = 1000
	}
	if cfg.PromptGen.ReportDir == "" {
		cfg.PromptGen.ReportDir = "output/prompts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "comfy-studio"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
