package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/gopherpaint/internal/config"
	"github.com/user/gopherpaint/internal/gateway"
	"github.com/user/gopherpaint/internal/generate"
	"github.com/user/gopherpaint/internal/state"
	"github.com/user/gopherpaint/pkg/media"
	"github.com/user/gopherpaint/pkg/media/gemini"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "gopherpaint",
	Short:         "Generate images and videos with Gemini and keep the conversations",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".gopherpaint", "config.json"), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the config or exits; every command needs it.
func loadConfig() *config.Config {
	cfg, err := config.LoadValid(cfgPath)
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

func openStore(cfg *config.Config) (*state.ConversationStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return state.NewConversationStore(cfg.DataDir), nil
}

func mediaConfig(cfg *config.Config) *media.Config {
	return &media.Config{
		BaseURL:           cfg.Gemini.BaseURL,
		APIKey:            cfg.Gemini.APIKey,
		ImageModel:        cfg.Gemini.ImageModel,
		VideoModel:        cfg.Gemini.VideoModel,
		AspectRatio:       cfg.Gemini.AspectRatio,
		ImageSize:         cfg.Gemini.ImageSize,
		RequestsPerMinute: cfg.Gemini.RequestsPerMinute,
	}
}

func pollPolicy(cfg *config.Config) *generate.PollPolicy {
	return &generate.PollPolicy{
		Interval:    seconds(cfg.Poll.IntervalSeconds),
		MaxPolls:    cfg.Poll.MaxPolls,
		Multiplier:  cfg.Poll.Multiplier,
		MaxInterval: seconds(cfg.Poll.MaxIntervalSeconds),
	}
}

func gatewayOptions(cfg *config.Config) gateway.Options {
	return gateway.Options{
		MaxConcurrent: int64(cfg.MaxConcurrent),
		Pricing:       generate.Pricing{Image: cfg.Costs.Image, Video: cfg.Costs.Video},
		Usage:         state.NewUsageStore(cfg.DataDir),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// newGenerator builds a generator from cfg. Without an API key it returns
// an unconfigured generator so that jobs fail with a clear error instead of
// the program refusing to start.
func newGenerator(ctx context.Context, cfg *config.Config, opts ...generate.Option) (*generate.Generator, error) {
	opts = append([]generate.Option{generate.WithPollPolicy(pollPolicy(cfg))}, opts...)

	client, err := gemini.New(ctx, mediaConfig(cfg))
	if errors.Is(err, gemini.ErrNoAPIKey) {
		slog.Warn("no Gemini API key configured; run `gopherpaint setup` or set GOOGLE_API_KEY")
		return generate.New(nil, opts...), nil
	}
	if err != nil {
		return nil, err
	}
	return generate.New(client, opts...), nil
}
