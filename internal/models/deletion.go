package models

import (
	"strconv"
	"time"
)

// Attribute header names carried on deletion queue messages. Queue systems
// only support string-typed attribute values, so booleans and counters are
// encoded as strings.
const (
	AttrMParticleDeleted = "mParticleDeleted"
	AttrBrazeDeleted     = "brazeDeleted"
	AttrAttemptCount     = "attemptCount"
)

// DeletionRequestBody is the JSON body of a deletion queue message. It is
// immutable for the lifetime of a delivery.
type DeletionRequestBody struct {
	UserID  string `json:"userId"`
	Email   string `json:"email,omitempty"`
	BrazeID string `json:"brazeId,omitempty"`
}

// NotificationEnvelope is the optional wrapper some publishers put around the
// deletion body, carrying the real payload as an embedded JSON string.
type NotificationEnvelope struct {
	Type      string `json:"Type,omitempty"`
	MessageID string `json:"MessageId,omitempty"`
	Message   string `json:"Message"`
}

// MessageAttributes records per-message deletion progress across deliveries.
// Flags are never cleared once set and the attempt count never decreases.
type MessageAttributes struct {
	MParticleDeleted bool
	BrazeDeleted     bool
	AttemptCount     int
}

// AttributesFromHeaders decodes message attributes from queue record headers.
// Missing or malformed values default to the zero state, which simply means
// a full replay.
func AttributesFromHeaders(headers map[string][]byte) MessageAttributes {
	attrs := MessageAttributes{}
	if v, ok := headers[AttrMParticleDeleted]; ok {
		attrs.MParticleDeleted, _ = strconv.ParseBool(string(v))
	}
	if v, ok := headers[AttrBrazeDeleted]; ok {
		attrs.BrazeDeleted, _ = strconv.ParseBool(string(v))
	}
	if v, ok := headers[AttrAttemptCount]; ok {
		if n, err := strconv.Atoi(string(v)); err == nil && n > 0 {
			attrs.AttemptCount = n
		}
	}
	return attrs
}

// ToHeaders encodes the attributes as string-typed record headers.
func (a MessageAttributes) ToHeaders() map[string][]byte {
	return map[string][]byte{
		AttrMParticleDeleted: []byte(strconv.FormatBool(a.MParticleDeleted)),
		AttrBrazeDeleted:     []byte(strconv.FormatBool(a.BrazeDeleted)),
		AttrAttemptCount:     []byte(strconv.Itoa(a.AttemptCount)),
	}
}

// Deletion lifecycle event types.
const (
	DeletionEventQueued  = "queued"
	DeletionEventAttempt = "attempt"
	DeletionEventDeleted = "deleted"
	DeletionEventFailed  = "failed"
	DeletionEventDLQ     = "dlq"
)

// DeletionStatusEvent is published to the status topic for every lifecycle
// transition of a deletion message.
type DeletionStatusEvent struct {
	UserID           string    `json:"user_id"`
	EventType        string    `json:"event_type"`
	Attempt          int       `json:"attempt,omitempty"`
	MParticleDeleted bool      `json:"mparticle_deleted"`
	BrazeDeleted     bool      `json:"braze_deleted"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Failure classifications recorded on dead-lettered deletion messages.
const (
	FailureTypeRetryable    = "retryable"
	FailureTypeNonRetryable = "non_retryable"
	FailureTypeValidation   = "validation"
)

// DeletionDLQRecord is the payload written to the dead-letter topic when a
// deletion message exhausts its retry budget or fails permanently. Compliance
// requires every erasure failure to remain observable here rather than being
// dropped.
type DeletionDLQRecord struct {
	UserID          string              `json:"user_id"`
	OriginalMessage DeletionRequestBody `json:"original_message"`
	Attempts        int                 `json:"attempts"`
	FailureType     string              `json:"failure_type"`
	LastError       string              `json:"last_error,omitempty"`
	FirstFailedAt   time.Time           `json:"first_failed_at"`
	LastAttemptAt   time.Time           `json:"last_attempt_at"`
}
