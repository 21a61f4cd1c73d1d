package baton

import (
	"fmt"
	"strings"

	"github.com/example/dsr-baton/internal/models"
	"github.com/example/dsr-baton/internal/opendsr"
)

// Issue describes a single validation failure for one field of an inbound
// request.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries the structured diagnostics for a malformed inbound
// request. Handlers surface it as a 4xx response with the issue list intact.
type ValidationError struct {
	Issues []Issue
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "baton: invalid request"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return "baton: invalid request: " + strings.Join(parts, "; ")
}

// ValidateRequest checks an inbound Baton request against the protocol shape
// before dispatch. It returns a *ValidationError describing every problem
// found, never a generic error.
func ValidateRequest(req models.BatonRequest) error {
	var issues []Issue

	switch req.RequestType {
	case models.RequestTypeSAR, models.RequestTypeRER:
	case "":
		issues = append(issues, Issue{Field: "requestType", Message: "is required"})
	default:
		issues = append(issues, Issue{Field: "requestType", Message: fmt.Sprintf("unsupported value %q", req.RequestType)})
	}

	switch req.Action {
	case models.ActionInitiate:
		if strings.TrimSpace(req.UserID) == "" {
			issues = append(issues, Issue{Field: "userId", Message: "is required for initiate"})
		}
	case models.ActionStatus:
		if strings.TrimSpace(req.InitiationReference) == "" {
			issues = append(issues, Issue{Field: "initiationReference", Message: "is required for status"})
		} else if _, err := models.NewInitiationReference(req.InitiationReference); err != nil {
			issues = append(issues, Issue{Field: "initiationReference", Message: "must be a UUID v4"})
		}
	case "":
		issues = append(issues, Issue{Field: "action", Message: "is required"})
	default:
		issues = append(issues, Issue{Field: "action", Message: fmt.Sprintf("unsupported value %q", req.Action)})
	}

	if req.Regulation != "" {
		switch opendsr.Regulation(req.Regulation) {
		case opendsr.RegulationGDPR, opendsr.RegulationCCPA:
		default:
			issues = append(issues, Issue{Field: "regulation", Message: fmt.Sprintf("unsupported value %q", req.Regulation)})
		}
	}

	if req.Environment != "" {
		switch opendsr.Environment(req.Environment) {
		case opendsr.EnvironmentProduction, opendsr.EnvironmentDevelopment:
		default:
			issues = append(issues, Issue{Field: "environment", Message: fmt.Sprintf("unsupported value %q", req.Environment)})
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
