package baton

import (
	"context"
	"fmt"

	"github.com/example/dsr-baton/internal/models"
	"github.com/example/dsr-baton/internal/opendsr"
)

// ProcessCallback applies a verified upstream status callback. For a
// completed access request carrying a results URL it stages the exported
// file, reusing any locator a prior delivery already wrote so redelivered
// callbacks never download twice. The caller must have verified the callback
// signature before handing over the payload.
func (r *Router) ProcessCallback(ctx context.Context, callback models.DataSubjectRequestCallback) error {
	ref, err := models.NewInitiationReference(callback.SubjectRequestID)
	if err != nil {
		return fmt.Errorf("baton: callback carries malformed subject request id %q: %w", callback.SubjectRequestID, err)
	}

	logger := r.logger.With().
		Str("initiation_reference", ref.String()).
		Str("request_status", callback.RequestStatus).
		Logger()
	logger.Info().Msg("status callback received")

	if callback.RequestStatus != opendsr.RequestStatusCompleted || callback.ResultsURL == "" {
		return nil
	}

	locator, err := r.stageResults(ctx, ref, callback.ResultsURL)
	if err != nil {
		return err
	}
	logger.Info().Str("locator", locator).Msg("callback results staged")
	return nil
}
