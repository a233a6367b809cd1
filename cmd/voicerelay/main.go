// voicerelay: real-time voice session relay for the Bev venue assistant.
// Bridges browser microphone streams to speech providers and speaks back.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bevpro/voicerelay/internal/config"
	"github.com/bevpro/voicerelay/internal/log"
	"github.com/bevpro/voicerelay/internal/observe"
	"github.com/bevpro/voicerelay/pkg/relay"
)

var version = "dev"

func main() {
	cfg := config.Load()
	log.Init(cfg.LogLevel)
	logger := log.Component("main")

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownMetrics, err := observe.InitProvider(observe.ProviderConfig{
		ServiceName:    "voicerelay",
		ServiceVersion: version,
	})
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(ctx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	server, err := relay.New(cfg)
	if err != nil {
		logger.Error("server init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting voicerelay",
		"version", version,
		"port", cfg.Port,
		"asr", cfg.HasASR(),
		"realtime", cfg.HasRealtime(),
		"synthesis", cfg.HasSynthesis(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("relay exited", "error", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}
