package models

import (
	"fmt"

	"github.com/example/dsr-baton/internal/util"
)

// RequestType identifies the privacy-request family carried by a Baton
// request.
type RequestType string

// Supported request families.
const (
	RequestTypeSAR RequestType = "SAR" // subject access request
	RequestTypeRER RequestType = "RER" // right-to-erasure request
)

// Action identifies the operation requested for a request family.
type Action string

// Supported actions.
const (
	ActionInitiate Action = "initiate"
	ActionStatus   Action = "status"
)

// BatonStatus is the three-value external status surfaced to Baton clients.
// Upstream distinguishes fulfilled from withdrawn requests; the Baton protocol
// does not, so both collapse to StatusCompleted.
type BatonStatus string

// External status values.
const (
	StatusPending   BatonStatus = "pending"
	StatusCompleted BatonStatus = "completed"
	StatusFailed    BatonStatus = "failed"
)

// InitiationReference is a validated UUID-v4 string issued when a subject
// request is accepted upstream. It is the correlation key for status polling,
// result storage keys, and logs. Construct one with NewInitiationReference so
// an arbitrary string can never stand in for a reference.
type InitiationReference string

// NewInitiationReference validates the supplied value as a UUID v4 and
// returns it as a typed reference.
func NewInitiationReference(value string) (InitiationReference, error) {
	u, err := util.ParseUUIDv4(value)
	if err != nil {
		return "", fmt.Errorf("initiation reference: %w", err)
	}
	return InitiationReference(u.String()), nil
}

// String returns the canonical UUID string.
func (r InitiationReference) String() string { return string(r) }

// BatonRequest is the normalized external request the router dispatches on.
// Initiate actions identify the subject by user id; status actions identify
// the in-flight request by initiation reference.
type BatonRequest struct {
	RequestType         RequestType `json:"requestType"`
	Action              Action      `json:"action"`
	UserID              string      `json:"userId,omitempty"`
	InitiationReference string      `json:"initiationReference,omitempty"`
	Regulation          string      `json:"regulation,omitempty"`
	Environment         string      `json:"environment,omitempty"`
}

// BatonResponse is the uniform response shape returned for every
// (requestType, action) pair.
type BatonResponse struct {
	Status              BatonStatus `json:"status"`
	InitiationReference string      `json:"initiationReference,omitempty"`
	Message             string      `json:"message"`
	ResultLocators      []string    `json:"resultLocators,omitempty"`
}
