package baton

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/models"
	"github.com/example/dsr-baton/internal/opendsr"
	"github.com/example/dsr-baton/internal/upstream"
)

// SubjectRequestClient is the upstream protocol surface the router composes.
// *opendsr.Client satisfies it.
type SubjectRequestClient interface {
	Submit(ctx context.Context, form opendsr.SubjectRequest) (*opendsr.Submission, error)
	Status(ctx context.Context, requestID string) (*opendsr.SubjectRequestState, error)
	StatusByGroupID(ctx context.Context, groupID string) (*opendsr.SubjectRequestState, error)
	ResultStream(ctx context.Context, resultsURL string) (io.ReadCloser, error)
	SendExclusionEvent(ctx context.Context, userID string, env opendsr.Environment) error
}

// ResultsStore stages exported result files for access requests.
// *storage.ResultsStore satisfies it.
type ResultsStore interface {
	Write(ctx context.Context, ref models.InitiationReference, body io.Reader) (string, error)
	ExistsFor(ctx context.Context, ref models.InitiationReference) (string, error)
}

// RouterOption customises a router at construction time.
type RouterOption func(*Router)

// WithRouterClock overrides the router's time source for tests.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// Router maps the fixed external (requestType, action) protocol onto the
// upstream subject-request API and normalizes every outcome into a uniform
// response shape.
type Router struct {
	client SubjectRequestClient
	store  ResultsStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewRouter constructs a router over the supplied upstream client and results
// store.
func NewRouter(client SubjectRequestClient, store ResultsStore, logger zerolog.Logger, opts ...RouterOption) (*Router, error) {
	if client == nil {
		return nil, fmt.Errorf("baton: subject request client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("baton: results store is required")
	}

	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	r := &Router{
		client: client,
		store:  store,
		logger: logger.With().Str("component", "baton_router").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Handle validates the inbound request and dispatches on the
// (requestType, action) pair. Validation failures return *ValidationError;
// upstream failures propagate so the transport layer can map them.
func (r *Router) Handle(ctx context.Context, req models.BatonRequest) (*models.BatonResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	switch {
	case req.RequestType == models.RequestTypeSAR && req.Action == models.ActionInitiate:
		return r.initiate(ctx, req, opendsr.RequestTypeAccess)
	case req.RequestType == models.RequestTypeSAR && req.Action == models.ActionStatus:
		return r.status(ctx, req, true)
	case req.RequestType == models.RequestTypeRER && req.Action == models.ActionInitiate:
		// Marking the user excluded from active processing while the
		// erasure is pending is best effort; a failure here must never
		// block the erasure itself.
		r.bestEffort("waiting period exclusion", func() error {
			return r.client.SendExclusionEvent(ctx, req.UserID, environmentFor(req))
		})
		return r.initiate(ctx, req, opendsr.RequestTypeErasure)
	case req.RequestType == models.RequestTypeRER && req.Action == models.ActionStatus:
		return r.status(ctx, req, false)
	default:
		return nil, &ValidationError{Issues: []Issue{{
			Field:   "action",
			Message: fmt.Sprintf("unsupported combination %s/%s", req.RequestType, req.Action),
		}}}
	}
}

func (r *Router) initiate(ctx context.Context, req models.BatonRequest, requestType opendsr.RequestType) (*models.BatonResponse, error) {
	form := opendsr.SubjectRequest{
		Regulation:    regulationFor(req),
		RequestType:   requestType,
		SubmittedTime: r.now().UTC(),
		UserID:        req.UserID,
		Environment:   environmentFor(req),
	}

	submission, err := r.client.Submit(ctx, form)
	if err != nil {
		if upstream.IsClientRejection(err) {
			// The upstream rejects duplicate submissions for the same
			// subject. Reconcile against the existing request keyed by
			// user id before surfacing the failure.
			if resp, ok := r.reconcile(ctx, req.UserID); ok {
				return resp, nil
			}
		}
		return nil, fmt.Errorf("baton: submit %s request: %w", requestType, err)
	}

	ref, err := models.NewInitiationReference(submission.RequestID)
	if err != nil {
		return nil, fmt.Errorf("baton: upstream returned malformed request id %q: %w", submission.RequestID, err)
	}

	r.logger.Info().
		Str("initiation_reference", ref.String()).
		Str("request_type", string(requestType)).
		Time("expected_completion", submission.ExpectedCompletionTime).
		Msg("subject request submitted")

	return &models.BatonResponse{
		Status:              models.StatusPending,
		InitiationReference: ref.String(),
		Message:             "request accepted",
	}, nil
}

// reconcile resolves a rejected duplicate submission by looking up the
// existing request by its grouping key. Returns ok=false when no existing
// request can be found, in which case the original rejection stands.
func (r *Router) reconcile(ctx context.Context, userID string) (*models.BatonResponse, bool) {
	state, err := r.client.StatusByGroupID(ctx, userID)
	if err != nil {
		r.logger.Warn().Err(err).Msg("duplicate submission reconciliation lookup failed")
		return nil, false
	}
	if state == nil {
		return nil, false
	}

	ref, err := models.NewInitiationReference(state.RequestID)
	if err != nil {
		r.logger.Warn().
			Str("request_id", state.RequestID).
			Err(err).
			Msg("existing request has malformed id; not reconciling")
		return nil, false
	}

	r.logger.Info().
		Str("initiation_reference", ref.String()).
		Msg("reconciled duplicate submission against existing request")

	return &models.BatonResponse{
		Status:              mapStatus(state.RequestStatus),
		InitiationReference: ref.String(),
		Message:             "request already exists",
	}, true
}

func (r *Router) status(ctx context.Context, req models.BatonRequest, withResults bool) (*models.BatonResponse, error) {
	ref, err := models.NewInitiationReference(req.InitiationReference)
	if err != nil {
		return nil, &ValidationError{Issues: []Issue{{Field: "initiationReference", Message: "must be a UUID v4"}}}
	}

	state, err := r.client.Status(ctx, ref.String())
	if err != nil {
		return nil, fmt.Errorf("baton: fetch status for %s: %w", ref, err)
	}

	resp := &models.BatonResponse{
		Status:              mapStatus(state.RequestStatus),
		InitiationReference: ref.String(),
		Message:             fmt.Sprintf("upstream status %s", state.RequestStatus),
	}

	if withResults && resp.Status == models.StatusCompleted && state.ResultsURL != "" {
		locator, err := r.stageResults(ctx, ref, state.ResultsURL)
		if err != nil {
			return nil, err
		}
		resp.ResultLocators = []string{locator}
	}

	return resp, nil
}

// stageResults downloads the exported result file and persists it under the
// initiation reference, skipping the download when a prior poll or callback
// already staged it.
func (r *Router) stageResults(ctx context.Context, ref models.InitiationReference, resultsURL string) (string, error) {
	existing, err := r.store.ExistsFor(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("baton: check staged results for %s: %w", ref, err)
	}
	if existing != "" {
		r.logger.Debug().
			Str("initiation_reference", ref.String()).
			Str("locator", existing).
			Msg("results already staged")
		return existing, nil
	}

	stream, err := r.client.ResultStream(ctx, resultsURL)
	if err != nil {
		return "", fmt.Errorf("baton: download results for %s: %w", ref, err)
	}
	defer stream.Close()

	locator, err := r.store.Write(ctx, ref, stream)
	if err != nil {
		return "", fmt.Errorf("baton: stage results for %s: %w", ref, err)
	}

	r.logger.Info().
		Str("initiation_reference", ref.String()).
		Str("locator", locator).
		Msg("results staged")
	return locator, nil
}

// bestEffort runs fn, logging and swallowing any error. It exists so readers
// can tell a deliberately non-propagating side call apart from the main
// control flow.
func (r *Router) bestEffort(name string, fn func() error) {
	if err := fn(); err != nil {
		r.logger.Warn().Str("step", name).Err(err).Msg("best-effort step failed; continuing")
	}
}

// mapStatus collapses the upstream four-state lifecycle into the three-value
// external status. Both fulfilled and withdrawn requests report completed;
// anything unrecognized reports failed.
func mapStatus(upstreamStatus string) models.BatonStatus {
	switch upstreamStatus {
	case opendsr.RequestStatusPending, opendsr.RequestStatusInProgress:
		return models.StatusPending
	case opendsr.RequestStatusCompleted, opendsr.RequestStatusCancelled:
		return models.StatusCompleted
	default:
		return models.StatusFailed
	}
}

func regulationFor(req models.BatonRequest) opendsr.Regulation {
	if req.Regulation != "" {
		return opendsr.Regulation(req.Regulation)
	}
	return opendsr.RegulationGDPR
}

func environmentFor(req models.BatonRequest) opendsr.Environment {
	if req.Environment != "" {
		return opendsr.Environment(req.Environment)
	}
	return opendsr.EnvironmentProduction
}
