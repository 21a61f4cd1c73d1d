package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/dsr-baton/internal/models"
	"github.com/example/dsr-baton/internal/upstream"
	"github.com/example/dsr-baton/internal/util"
)

// Config contains the runtime settings the deletion worker relies on to
// orchestrate processing, redelivery, and DLQ handling.
type Config struct {
	MsgMaxBytes       int
	MaxAttempts       int
	WorkerConcurrency int
}

// Record represents a queue message delivered to the worker. It is a minimal
// abstraction that keeps the engine decoupled from the concrete consumer
// implementation while still exposing the data the engine requires.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	commitFn func(ctx context.Context) error
}

// Clone returns a deep copy of the record so it can be safely shared with
// asynchronous goroutines without risking data races.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Key = cloneBytes(r.Key)
	clone.Value = cloneBytes(r.Value)
	if len(r.Headers) > 0 {
		clone.Headers = cloneHeaders(r.Headers)
	}

	return &clone
}

// Commit acknowledges the record with the underlying consumer.
func (r *Record) Commit(ctx context.Context) error {
	if r == nil || r.commitFn == nil {
		return nil
	}
	return r.commitFn(ctx)
}

func (r *Record) setCommitFn(fn func(ctx context.Context) error) {
	r.commitFn = fn
}

// Pipeline runs the dual-system deletion for one delivery and reports the
// progress observed plus a classified error on failure.
type Pipeline interface {
	Process(ctx context.Context, body models.DeletionRequestBody, attrs models.MessageAttributes) (models.MessageAttributes, error)
}

// Requeuer republishes a deletion request with updated attribute headers so
// a retryable failure becomes visible again as a fresh delivery.
type Requeuer interface {
	Requeue(ctx context.Context, body models.DeletionRequestBody, attrs models.MessageAttributes) error
}

// StatusPublisher publishes lifecycle updates for a deletion message.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event models.DeletionStatusEvent) error
}

// DLQPublisher writes failed messages to the dead-letter topic.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, record models.DeletionDLQRecord) error
}

// Dependencies collects the runtime collaborators required by the engine.
type Dependencies struct {
	Pipeline        Pipeline
	Requeuer        Requeuer
	StatusPublisher StatusPublisher
	DLQPublisher    DLQPublisher
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Engine drives the idempotent deletion pipeline from queue records. Every
// failure surfaces as either a requeue with an incremented attempt count or
// a DLQ record; nothing is silently dropped. The attempt count carried in
// message attributes acts as the receive-count threshold: once it reaches
// MaxAttempts the message dead-letters. Non-retryable failures dead-letter
// immediately, since redelivery cannot fix a rejected request but compliance
// still requires the failure to stay observable.
type Engine struct {
	cfg             Config
	pipeline        Pipeline
	requeuer        Requeuer
	statusPublisher StatusPublisher
	dlqPublisher    DLQPublisher
	logger          zerolog.Logger

	semaphore *semaphore.Weighted

	now func() time.Time
}

// NewEngine constructs a worker engine using the supplied configuration and
// collaborators. The configuration and dependencies are validated to prevent
// misconfiguration at startup.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("worker: max attempts must be >= 1")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, errors.New("worker: worker concurrency must be >= 1")
	}
	if cfg.MsgMaxBytes < 0 {
		return nil, errors.New("worker: msg max bytes cannot be negative")
	}
	if deps.Pipeline == nil {
		return nil, errors.New("worker: pipeline dependency is required")
	}
	if deps.Requeuer == nil {
		return nil, errors.New("worker: requeuer dependency is required")
	}
	if deps.StatusPublisher == nil {
		return nil, errors.New("worker: status publisher dependency is required")
	}
	if deps.DLQPublisher == nil {
		return nil, errors.New("worker: DLQ publisher dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "deletion_engine").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Engine{
		cfg:             cfg,
		pipeline:        deps.Pipeline,
		requeuer:        deps.Requeuer,
		statusPublisher: deps.StatusPublisher,
		dlqPublisher:    deps.DLQPublisher,
		logger:          logger,
		semaphore:       semaphore.NewWeighted(int64(cfg.WorkerConcurrency)),
		now:             nowFunc,
	}, nil
}

// HandleRecord performs upfront validation of record size and payload shape,
// then triggers asynchronous processing of the deletion request.
func (e *Engine) HandleRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}

	if e.cfg.MsgMaxBytes > 0 && len(record.Value) > e.cfg.MsgMaxBytes {
		err := fmt.Errorf("payload exceeds maximum size: got %d bytes, limit %d bytes", len(record.Value), e.cfg.MsgMaxBytes)
		e.logger.Warn().Err(err).Msg("worker: record discarded because it exceeds configured size limit")
		e.deadLetterInvalid(ctx, record, models.DeletionRequestBody{UserID: string(record.Key)}, err)
		return
	}

	body, err := ParseDeletionBody(record.Value)
	if err != nil {
		e.logger.Warn().Err(err).Msg("worker: validation failed for record")
		e.deadLetterInvalid(ctx, record, models.DeletionRequestBody{UserID: string(record.Key)}, err)
		return
	}

	attrs := models.AttributesFromHeaders(record.Headers)

	if err := e.semaphore.Acquire(ctx, 1); err != nil {
		e.logger.Error().
			Str("user_id", body.UserID).
			Err(err).
			Msg("worker: failed to acquire concurrency semaphore")
		return
	}

	go e.processRecord(ctx, record.Clone(), body, attrs)
}

func (e *Engine) processRecord(ctx context.Context, record *Record, body models.DeletionRequestBody, attrs models.MessageAttributes) {
	defer e.semaphore.Release(1)

	if ctx.Err() != nil {
		e.logger.Warn().
			Str("user_id", body.UserID).
			Msg("worker: context cancelled before processing began")
		return
	}

	attempt := attrs.AttemptCount + 1
	attrs.AttemptCount = attempt

	if attempt == 1 {
		e.publishStatus(ctx, body, attrs, models.DeletionEventQueued, nil)
	}
	e.publishStatus(ctx, body, attrs, models.DeletionEventAttempt, nil)

	start := e.now()
	progress, err := e.pipeline.Process(ctx, body, attrs)
	duration := e.now().Sub(start)

	recordLogger := e.logger.With().
		Str("user_id", body.UserID).
		Int("attempt", attempt).
		Dur("duration", duration).
		Logger()

	if err == nil {
		recordLogger.Info().Msg("worker: user deleted from both systems")
		e.publishStatus(ctx, body, progress, models.DeletionEventDeleted, nil)
		e.commitRecord(ctx, record)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		recordLogger.Warn().Err(err).Msg("worker: context cancelled during deletion; deferring commit for redelivery")
		return
	}

	recordLogger.Warn().Err(err).Msg("worker: deletion pipeline returned error")
	e.publishStatus(ctx, body, progress, models.DeletionEventFailed, err)

	if errors.Is(err, upstream.ErrNonRetryable) {
		e.deadLetter(ctx, record, body, progress, models.FailureTypeNonRetryable, err)
		return
	}

	if attempt >= e.cfg.MaxAttempts {
		recordLogger.Warn().Int("max_attempts", e.cfg.MaxAttempts).Msg("worker: retry budget exhausted")
		e.deadLetter(ctx, record, body, progress, models.FailureTypeRetryable, err)
		return
	}

	if err := e.requeuer.Requeue(ctx, body, progress); err != nil {
		// Leave the record uncommitted so the broker redelivers it; the
		// attempt count header simply stays where it was.
		recordLogger.Error().Err(err).Msg("worker: requeue failed; relying on redelivery")
		return
	}
	e.commitRecord(ctx, record)
}

func (e *Engine) deadLetterInvalid(ctx context.Context, record *Record, body models.DeletionRequestBody, cause error) {
	now := e.now()
	e.publishStatus(ctx, body, models.MessageAttributes{}, models.DeletionEventFailed, cause)
	e.publishDLQ(ctx, models.DeletionDLQRecord{
		UserID:          body.UserID,
		OriginalMessage: body,
		Attempts:        0,
		FailureType:     models.FailureTypeValidation,
		LastError:       cause.Error(),
		FirstFailedAt:   now,
		LastAttemptAt:   now,
	})
	e.commitRecord(ctx, record)
}

func (e *Engine) deadLetter(ctx context.Context, record *Record, body models.DeletionRequestBody, attrs models.MessageAttributes, failureType string, cause error) {
	now := e.now()
	e.publishStatus(ctx, body, attrs, models.DeletionEventDLQ, cause)
	e.publishDLQ(ctx, models.DeletionDLQRecord{
		UserID:          body.UserID,
		OriginalMessage: body,
		Attempts:        attrs.AttemptCount,
		FailureType:     failureType,
		LastError:       cause.Error(),
		FirstFailedAt:   now,
		LastAttemptAt:   now,
	})
	e.commitRecord(ctx, record)
}

func (e *Engine) publishStatus(ctx context.Context, body models.DeletionRequestBody, attrs models.MessageAttributes, eventType string, cause error) {
	event := models.DeletionStatusEvent{
		UserID:           body.UserID,
		EventType:        eventType,
		Attempt:          attrs.AttemptCount,
		MParticleDeleted: attrs.MParticleDeleted,
		BrazeDeleted:     attrs.BrazeDeleted,
		Timestamp:        e.now(),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if err := e.statusPublisher.PublishStatus(ctx, event); err != nil {
		e.logger.Error().
			Str("user_id", body.UserID).
			Str("event", eventType).
			Err(err).
			Msg("worker: failed to publish status event")
	}
}

func (e *Engine) publishDLQ(ctx context.Context, record models.DeletionDLQRecord) {
	if err := e.dlqPublisher.PublishDLQ(ctx, record); err != nil {
		e.logger.Error().
			Str("user_id", record.UserID).
			Err(err).
			Msg("worker: failed to publish DLQ record")
	}
}

func (e *Engine) commitRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}
	if err := record.Commit(ctx); err != nil {
		e.logger.Error().
			Str("topic", record.Topic).
			Int32("partition", record.Partition).
			Int64("offset", record.Offset).
			Err(err).
			Msg("worker: failed to commit record offset")
	}
}

// ParseDeletionBody decodes a deletion queue payload, unwrapping the optional
// notification envelope, and validates the required fields.
func ParseDeletionBody(payload []byte) (models.DeletionRequestBody, error) {
	var body models.DeletionRequestBody
	if len(bytes.TrimSpace(payload)) == 0 {
		return body, errors.New("worker: payload is empty")
	}

	raw := payload
	var envelope models.NotificationEnvelope
	if err := json.Unmarshal(payload, &envelope); err == nil && strings.TrimSpace(envelope.Message) != "" {
		raw = []byte(envelope.Message)
	}

	if err := json.Unmarshal(raw, &body); err != nil {
		return body, fmt.Errorf("worker: decode deletion body: %w", err)
	}

	if strings.TrimSpace(body.UserID) == "" {
		return body, errors.New("worker: userId is required")
	}
	if strings.TrimSpace(body.Email) != "" {
		normalized, err := util.NormalizeEmail(body.Email)
		if err != nil {
			return body, fmt.Errorf("worker: %w", err)
		}
		body.Email = normalized
	}

	return body, nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	clone := make([]byte, len(b))
	copy(clone, b)
	return clone
}

func cloneHeaders(headers map[string][]byte) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	clone := make(map[string][]byte, len(headers))
	for k, v := range headers {
		clone[k] = cloneBytes(v)
	}
	return clone
}
