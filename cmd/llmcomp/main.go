package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sebastienb/LLMComp/internal/compare"
	"github.com/sebastienb/LLMComp/internal/config"
	"github.com/sebastienb/LLMComp/internal/secret"
	"github.com/sebastienb/LLMComp/internal/state"
	"github.com/sebastienb/LLMComp/internal/stream"
	"github.com/sebastienb/LLMComp/internal/tokens"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "llmcomp",
	Short:         "Send one prompt to several LLM providers and compare the answers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath,
		"config",
		filepath.Join(os.Getenv("HOME"), ".llmcomp", "config.json"),
		"config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func openStore(cfg *config.Config) *state.Store {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data dir: %v\n", err)
		os.Exit(1)
	}
	st := state.New(state.NewFileStore(filepath.Join(cfg.DataDir, "state.json")))
	if err := st.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load state: %v\n", err)
		os.Exit(1)
	}
	return st
}

func newCodec(cfg *config.Config) *secret.Codec {
	codec, err := secret.New(cfg.Secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize credential codec: %v\n", err)
		os.Exit(1)
	}
	return codec
}

func newCoordinator(cfg *config.Config, st *state.Store) *compare.Coordinator {
	orch := stream.New(&stream.Config{
		Store:     st,
		Codec:     newCodec(cfg),
		Estimator: tokens.NewEstimator(),
		Timeout:   time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		ProxyURL:  cfg.Proxy.URL,
	})
	return compare.NewCoordinator(st, orch, cfg.MaxConcurrent)
}
