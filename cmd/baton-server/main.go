package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/baton"
	"github.com/example/dsr-baton/internal/config"
	"github.com/example/dsr-baton/internal/logger"
	"github.com/example/dsr-baton/internal/opendsr"
	"github.com/example/dsr-baton/internal/server"
	"github.com/example/dsr-baton/internal/storage"
	"github.com/example/dsr-baton/internal/trust"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "baton-server").Logger()

	httpClient := &http.Client{Timeout: time.Duration(cfg.Timeouts.HTTPTimeoutSeconds) * time.Second}

	dsrClient, err := opendsr.NewClient(cfg.OpenDSR, log.With().Str("component", "opendsr-client").Logger(), opendsr.WithHTTPClient(httpClient))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise opendsr client")
	}

	resultsStore, err := storage.NewResultsStore(ctx, cfg.Storage, log.With().Str("component", "results-store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise results store")
	}

	certCache, err := trust.NewCache(func(ctx context.Context) (string, error) {
		doc, err := dsrClient.Discovery(ctx)
		if err != nil {
			return "", err
		}
		return doc.ProcessorCertificate, nil
	}, log.With().Str("component", "cert-cache").Logger(), trust.WithHTTPClient(httpClient))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise certificate cache")
	}
	validator := trust.NewValidator(certCache, cfg.Trust.AllowedProcessorDomains, log.With().Str("component", "trust-validator").Logger())

	router, err := baton.NewRouter(dsrClient, resultsStore, log.With().Str("component", "router").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise baton router")
	}

	handler, err := server.New(router, validator, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise http server")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Int("port", cfg.App.Port).Msg("baton server started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server terminated with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("baton server init failed")
}
