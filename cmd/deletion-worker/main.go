package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/config"
	"github.com/example/dsr-baton/internal/deletion"
	"github.com/example/dsr-baton/internal/kafka/consumer"
	"github.com/example/dsr-baton/internal/kafka/producer"
	kafkapublisher "github.com/example/dsr-baton/internal/kafka/publisher"
	"github.com/example/dsr-baton/internal/logger"
	"github.com/example/dsr-baton/internal/providers/braze"
	"github.com/example/dsr-baton/internal/providers/mparticle"
	"github.com/example/dsr-baton/internal/worker"
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
	log := baseLogger.With().Str("service", "deletion-worker").Logger()

	httpClient := &http.Client{Timeout: time.Duration(cfg.Timeouts.HTTPTimeoutSeconds) * time.Second}

	prod, err := producer.New(cfg.Kafka.Brokers, log.With().Str("component", "kafka-producer").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, log.With().Str("component", "kafka-consumer").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	requeuePublisher := kafkapublisher.NewRequeuePublisher(prod, cfg.Kafka.RequestTopic, log.With().Str("component", "requeue-publisher").Logger())
	statusPublisher := kafkapublisher.NewStatusPublisher(prod, cfg.Kafka.StatusTopic, log.With().Str("component", "status-publisher").Logger())
	dlqPublisher := kafkapublisher.NewDLQPublisher(prod, cfg.Kafka.DLQTopic, log.With().Str("component", "dlq-publisher").Logger())

	primary, err := mparticle.NewClient(cfg.Deletion, log.With().Str("component", "mparticle-client").Logger(), mparticle.WithHTTPClient(httpClient))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise mparticle client")
	}

	secondary, err := braze.NewClient(cfg.Braze, log.With().Str("component", "braze-client").Logger(), braze.WithHTTPClient(httpClient))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise braze client")
	}

	pipeline, err := deletion.NewPipeline(primary, secondary, log.With().Str("component", "deletion-pipeline").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise deletion pipeline")
	}

	engine, err := worker.NewEngine(worker.Config{
		MsgMaxBytes:       cfg.Retry.MsgMaxBytes,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		WorkerConcurrency: cfg.Retry.WorkerConcurrency,
	}, worker.Dependencies{
		Pipeline:        pipeline,
		Requeuer:        requeuePublisher,
		StatusPublisher: statusPublisher,
		DLQPublisher:    dlqPublisher,
		Logger:          log.With().Str("component", "worker-engine").Logger(),
		Now:             time.Now,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise worker engine")
	}

	topics := []string{cfg.Kafka.RequestTopic}
	handler := worker.KafkaHandler(engine, cons)

	errCh := make(chan error, 1)
	go func() {
		if err := cons.Consume(ctx, topics, handler); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Str("request_topic", cfg.Kafka.RequestTopic).Msg("deletion worker started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("consumer terminated with error")
		}
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("deletion worker init failed")
}
