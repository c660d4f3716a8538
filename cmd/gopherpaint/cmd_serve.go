package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/gopherpaint/internal/config"
	"github.com/user/gopherpaint/internal/gateway"
	"github.com/user/gopherpaint/internal/state"
	"github.com/user/gopherpaint/internal/telegram"
)

const pidFile = "gopherpaint.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot until stopped",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFile)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("serve needs telegram.token (or TELEGRAM_BOT_TOKEN)")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	bindings := state.NewBindingStore(cfg.DataDir)

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen, err := newGenerator(ctx, cfg)
	if err != nil {
		return err
	}
	gw := gateway.New(store, gen, gatewayOptions(cfg))
	gw.Start(ctx)
	defer gw.Stop()

	// Credentials and models can change while we run; later jobs pick up
	// the rebuilt generator.
	reload := func(next *config.Config) {
		gen, err := newGenerator(ctx, next)
		if err != nil {
			slog.Error("rebuild generator", "error", err)
			return
		}
		gw.SetGenerator(gen)
		slog.Info("generator reloaded", "configured", gen.Configured(), "image_model", next.Gemini.ImageModel)
	}

	watcher, err := config.NewWatcher(cfgPath, 250*time.Millisecond, reload)
	if err != nil {
		slog.Warn("config watcher disabled", "error", err)
	} else {
		go watcher.Run(ctx)
	}

	adapter, err := telegram.New(cfg.Telegram.Token, gw, store, bindings, cfg.Telegram.AllowedUsers)
	if err != nil {
		return fmt.Errorf("create telegram adapter: %w", err)
	}
	go adapter.Start(ctx)

	slog.Info("gopherpaint started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"image_model", cfg.Gemini.ImageModel,
		"video_model", cfg.Gemini.VideoModel,
		"configured", gen.Configured(),
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, reloading config")
			next, err := config.LoadValid(cfgPath)
			if err != nil {
				slog.Error("reload config", "error", err)
				continue
			}
			reload(next)
			continue
		}

		slog.Info("shutting down", "signal", sig, "active_jobs", gw.Queue.Active())
		if !gw.Queue.WaitIdle(30 * time.Second) {
			slog.Warn("cancelling jobs still running")
		}
		return nil
	}
}
