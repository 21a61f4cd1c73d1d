package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/example/dsr-baton/internal/baton"
	"github.com/example/dsr-baton/internal/models"
)

// maxBodyBytes caps inbound request bodies. Baton requests and status
// callbacks are small JSON documents; anything larger is hostile.
const maxBodyBytes = 1 << 20

// BatonHandler dispatches a normalized Baton request. *baton.Router
// satisfies it.
type BatonHandler interface {
	Handle(ctx context.Context, req models.BatonRequest) (*models.BatonResponse, error)
	ProcessCallback(ctx context.Context, callback models.DataSubjectRequestCallback) error
}

// TrustValidator gates callback processing on the signed-body check.
// *trust.Validator satisfies it.
type TrustValidator interface {
	Validate(ctx context.Context, processorDomain, signature string, rawBody []byte) bool
}

// Server exposes the Baton protocol and the OpenDSR callback endpoint over
// HTTP.
type Server struct {
	router    chi.Router
	baton     BatonHandler
	validator TrustValidator
	logger    zerolog.Logger
}

// New constructs the HTTP surface over the supplied collaborators.
func New(batonHandler BatonHandler, validator TrustValidator, logger zerolog.Logger) (*Server, error) {
	if batonHandler == nil {
		return nil, errors.New("server: baton handler is required")
	}
	if validator == nil {
		return nil, errors.New("server: trust validator is required")
	}

	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	s := &Server{
		baton:     batonHandler,
		validator: validator,
		logger:    logger.With().Str("component", "http_server").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/baton", s.handleBaton)
		r.Post("/opendsr/callback", s.handleCallback)
	})
	s.router = r

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBaton(w http.ResponseWriter, r *http.Request) {
	var req models.BatonRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  models.StatusFailed,
			"message": "malformed request body",
		})
		return
	}

	resp, err := s.baton.Handle(r.Context(), req)
	if err != nil {
		var validationErr *baton.ValidationError
		if errors.As(err, &validationErr) {
			s.writeJSON(w, http.StatusBadRequest, map[string]any{
				"status":  models.StatusFailed,
				"message": "request validation failed",
				"issues":  validationErr.Issues,
			})
			return
		}

		s.logger.Error().
			Str("request_type", string(req.RequestType)).
			Str("action", string(req.Action)).
			Err(err).
			Msg("baton request failed upstream")
		s.writeJSON(w, http.StatusBadGateway, map[string]any{
			"status":  models.StatusFailed,
			"message": "upstream request failed",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleCallback authenticates an OpenDSR status callback and hands the
// payload over for processing. The signature covers the raw body bytes, so
// the body is read and verified before any JSON parsing. Callers only ever
// see 202 or 401; processing failures after a valid signature are logged and
// retried by the upstream via redelivery.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read callback body")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	processorDomain := r.Header.Get(models.HeaderProcessorDomain)
	signature := r.Header.Get(models.HeaderSignature)

	if !s.validator.Validate(r.Context(), processorDomain, signature, rawBody) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var callback models.DataSubjectRequestCallback
	if err := json.Unmarshal(rawBody, &callback); err != nil {
		s.logger.Warn().Err(err).Msg("verified callback body is not valid JSON")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := s.baton.ProcessCallback(r.Context(), callback); err != nil {
		s.logger.Error().
			Str("subject_request_id", callback.SubjectRequestID).
			Err(err).
			Msg("callback processing failed")
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response body")
	}
}
