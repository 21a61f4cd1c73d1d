package deletion

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/models"
	"github.com/example/dsr-baton/internal/providers/braze"
	"github.com/example/dsr-baton/internal/upstream"
)

// PrimaryDeleter erases a user from the identity-bearing primary system.
type PrimaryDeleter interface {
	DeleteUser(ctx context.Context, userID string) error
}

// SecondaryDeleter erases a user from the secondary system by its own id.
type SecondaryDeleter interface {
	DeleteUser(ctx context.Context, brazeID string) (*braze.Result, error)
}

// Pipeline runs the dual-system user deletion for one queue delivery. Both
// downstream calls are individually idempotent, so every delivery replays the
// full sequence rather than tracking partial completion; primary-before-
// secondary ordering is a correctness requirement because the primary system
// owns the identity.
type Pipeline struct {
	logger    zerolog.Logger
	primary   PrimaryDeleter
	secondary SecondaryDeleter
}

// NewPipeline constructs a deletion pipeline over the two downstream systems.
func NewPipeline(primary PrimaryDeleter, secondary SecondaryDeleter, logger zerolog.Logger) (*Pipeline, error) {
	if primary == nil {
		return nil, errors.New("deletion pipeline: primary deleter is required")
	}
	if secondary == nil {
		return nil, errors.New("deletion pipeline: secondary deleter is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Pipeline{
		logger:    logger,
		primary:   primary,
		secondary: secondary,
	}, nil
}

// Process executes one delivery of a deletion request. The returned
// attributes record the progress observed this delivery; the returned error,
// when non-nil, is classified retryable or non-retryable and must be
// surfaced to the queue consumer so the message redelivers or dead-letters.
// Failures are never absorbed here: compliance requires every erasure
// failure to stay observable.
func (p *Pipeline) Process(ctx context.Context, body models.DeletionRequestBody, attrs models.MessageAttributes) (models.MessageAttributes, error) {
	log := p.logger.With().Str("user_id", body.UserID).Logger()

	if err := p.primary.DeleteUser(ctx, body.UserID); err != nil {
		if upstream.IsNotFound(err) {
			log.Debug().Msg("primary deletion: user already absent")
		} else {
			log.Warn().Err(err).Msg("primary deletion failed")
			return attrs, upstream.Classify(err)
		}
	}
	attrs.MParticleDeleted = true

	if strings.TrimSpace(body.BrazeID) == "" {
		// No Braze identity for this user; nothing to delete there.
		attrs.BrazeDeleted = true
		return attrs, nil
	}

	result, err := p.secondary.DeleteUser(ctx, body.BrazeID)
	if err != nil {
		if upstream.IsNotFound(err) {
			log.Debug().Msg("secondary deletion: user already absent")
		} else {
			log.Warn().Err(err).Msg("secondary deletion failed")
			return attrs, upstream.Classify(err)
		}
	} else if result != nil && result.Deleted == 0 {
		log.Debug().Msg("secondary deletion: zero records affected, treating as success")
	}
	attrs.BrazeDeleted = true

	return attrs, nil
}
