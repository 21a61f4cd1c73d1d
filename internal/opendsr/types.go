package opendsr

import "time"

// Regulation identifies the privacy regulation a subject request is filed
// under.
type Regulation string

// Supported regulations.
const (
	RegulationGDPR Regulation = "gdpr"
	RegulationCCPA Regulation = "ccpa"
)

// RequestType identifies the kind of subject request submitted upstream.
type RequestType string

// Supported subject request types.
const (
	RequestTypeAccess      RequestType = "access"
	RequestTypePortability RequestType = "portability"
	RequestTypeErasure     RequestType = "erasure"
)

// Environment scopes a subject request to a data environment.
type Environment string

// Supported environments.
const (
	EnvironmentProduction  Environment = "production"
	EnvironmentDevelopment Environment = "development"
)

// Subject request lifecycle statuses reported by the upstream API.
const (
	RequestStatusPending    = "pending"
	RequestStatusInProgress = "in_progress"
	RequestStatusCompleted  = "completed"
	RequestStatusCancelled  = "cancelled"
)

// SubjectRequest is the typed form handed to Submit. It is constructed by the
// router from validated external input and sent upstream exactly once.
type SubjectRequest struct {
	Regulation    Regulation
	RequestType   RequestType
	SubmittedTime time.Time
	UserID        string
	Environment   Environment
}

// Submission captures the upstream acknowledgement of a submitted request.
type Submission struct {
	RequestID              string
	ControllerID           string
	ExpectedCompletionTime time.Time
}

// SubjectRequestState is a read-only projection of an in-flight request,
// fetched fresh on every status poll and never cached.
type SubjectRequestState struct {
	RequestID              string
	ControllerID           string
	ExpectedCompletionTime time.Time
	RequestStatus          string
	ResultsURL             string
}

// DiscoveryDocument describes the processor's OpenDSR capabilities, most
// importantly the URL of its signing certificate.
type DiscoveryDocument struct {
	APIVersion            string   `json:"api_version"`
	SupportedIdentities   []string `json:"supported_identities,omitempty"`
	ProcessorCertificate  string   `json:"processor_certificate"`
	SupportedSubjectTypes []string `json:"supported_subject_request_types,omitempty"`
}

// Wire shapes for the upstream REST API.

type subjectIdentity struct {
	Value    string `json:"value"`
	Encoding string `json:"encoding"`
}

type submitBody struct {
	Regulation         Regulation                 `json:"regulation"`
	SubjectRequestID   string                     `json:"subject_request_id"`
	SubjectRequestType RequestType                `json:"subject_request_type"`
	SubmittedTime      string                     `json:"submitted_time"`
	SubjectIdentities  map[string]subjectIdentity `json:"subject_identities"`
	APIVersion         string                     `json:"api_version"`
	GroupID            string                     `json:"group_id"`
	Extensions         map[string]map[string]any  `json:"extensions,omitempty"`
}

type requestStateBody struct {
	SubjectRequestID       string `json:"subject_request_id"`
	ControllerID           string `json:"controller_id"`
	ExpectedCompletionTime string `json:"expected_completion_time"`
	RequestStatus          string `json:"request_status"`
	APIVersion             string `json:"api_version,omitempty"`
	ResultsURL             string `json:"results_url,omitempty"`
}
