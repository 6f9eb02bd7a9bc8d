// Package main is the entry point for the tagentic gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/tagentic/gateway/internal/chat"
	"github.com/tagentic/gateway/internal/config"
	"github.com/tagentic/gateway/internal/directory"
	"github.com/tagentic/gateway/internal/metrics"
	"github.com/tagentic/gateway/internal/server"
	"github.com/tagentic/gateway/internal/store"
	"github.com/tagentic/gateway/internal/title"
	"github.com/tagentic/gateway/internal/vendor"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if *debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	if err := run(*configPath, log); err != nil {
		log.Fatal().Err(err).Msg("gateway exited")
	}
}

func run(configPath string, log zerolog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	// One pooled client shared by every adapter. No global timeout:
	// chat responses stream for minutes; per-call deadlines come from
	// request contexts.
	httpClient := &http.Client{}

	deps := vendor.Deps{HTTPClient: httpClient, Store: st, Logger: log}
	defs := make([]directory.Definition, 0, len(cfg.Applications))
	for _, app := range cfg.Applications {
		defs = append(defs, directory.Definition{
			ID:       app.ID,
			Vendor:   app.Vendor,
			Settings: vendor.Settings(app.Settings),
		})
	}
	dir, err := directory.New(defs, vendor.Builtins(), deps)
	if err != nil {
		return fmt.Errorf("building application directory: %w", err)
	}
	for _, inst := range dir.Instances() {
		log.Info().Str("application_id", inst.ApplicationID).Str("vendor", inst.VendorName).Msg("registered application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The first refresh is synchronous so the agent list is populated
	// before the gateway accepts traffic.
	cache := directory.NewInfoCache(dir, cfg.Cache.TTL, log, m.CacheRefreshErrors)
	if err := cache.Refresh(ctx); err != nil {
		return fmt.Errorf("initial metadata refresh: %w", err)
	}
	go cache.Run(ctx)

	var titler chat.Titler
	if cfg.Title.Model != "" {
		titler = title.New(title.Config{
			BaseURL: cfg.Title.BaseURL,
			APIKey:  cfg.Title.APIKey,
			Model:   cfg.Title.Model,
			Timeout: cfg.Title.Timeout,
		}, httpClient, log)
		log.Info().Str("model", cfg.Title.Model).Msg("title synthesis enabled")
	}

	orch := chat.New(dir, st, titler, m, log)
	srv := server.New(log, st, dir, cache, orch, reg)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     srv,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays zero: SSE responses outlive any sane value.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("gateway listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
