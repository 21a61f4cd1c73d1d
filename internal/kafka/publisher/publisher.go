package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/models"
)

var errProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// SyncProducer captures the subset of producer behaviour required by the
// deletion queue publishers.
type SyncProducer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// ErrProducerNotInitialised exposes the sentinel error for callers and tests.
func ErrProducerNotInitialised() error {
	return errProducerNotInitialised
}

// RequeuePublisher puts a deletion request back on the request topic with
// updated attribute headers, making partial progress visible to the next
// delivery.
type RequeuePublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewRequeuePublisher constructs a RequeuePublisher instance.
func NewRequeuePublisher(prod SyncProducer, topic string, logger zerolog.Logger) *RequeuePublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &RequeuePublisher{
		producer: prod,
		topic:    topic,
		logger:   logger,
	}
}

// Requeue republishes the deletion body keyed by user id, carrying the
// attributes as string-typed headers.
func (p *RequeuePublisher) Requeue(_ context.Context, body models.DeletionRequestBody, attrs models.MessageAttributes) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialised
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal deletion body: %w", err)
	}

	if err := p.producer.PublishSync(p.topic, []byte(body.UserID), attrs.ToHeaders(), payload); err != nil {
		return fmt.Errorf("kafka publisher: requeue deletion request: %w", err)
	}
	return nil
}

// StatusPublisher emits deletion lifecycle events to the status topic.
type StatusPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewStatusPublisher constructs a StatusPublisher instance.
func NewStatusPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *StatusPublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &StatusPublisher{
		producer: prod,
		topic:    topic,
		logger:   logger,
	}
}

// PublishStatus writes the supplied status event synchronously.
func (p *StatusPublisher) PublishStatus(_ context.Context, event models.DeletionStatusEvent) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialised
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal status event: %w", err)
	}

	headers := map[string][]byte{
		"content-type": []byte("application/json"),
	}
	if err := p.producer.PublishSync(p.topic, []byte(event.UserID), headers, payload); err != nil {
		return fmt.Errorf("kafka publisher: publish status event: %w", err)
	}
	return nil
}

// DLQPublisher writes dead-lettered deletion messages to the DLQ topic.
type DLQPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewDLQPublisher constructs a DLQPublisher instance.
func NewDLQPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *DLQPublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &DLQPublisher{
		producer: prod,
		topic:    topic,
		logger:   logger,
	}
}

// PublishDLQ writes the supplied DLQ record synchronously.
func (p *DLQPublisher) PublishDLQ(_ context.Context, record models.DeletionDLQRecord) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialised
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal dlq record: %w", err)
	}

	headers := map[string][]byte{
		"content-type": []byte("application/json"),
	}
	if err := p.producer.PublishSync(p.topic, []byte(record.UserID), headers, payload); err != nil {
		return fmt.Errorf("kafka publisher: publish dlq record: %w", err)
	}
	return nil
}
