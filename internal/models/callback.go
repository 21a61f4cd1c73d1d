package models

// Callback header names defined by the OpenDSR convention. The signature is a
// base64 RSA-SHA256 signature computed over the raw request body.
const (
	HeaderProcessorDomain = "X-OpenDSR-Processor-Domain"
	HeaderSignature       = "X-OpenDSR-Signature"
)

// DataSubjectRequestCallback is the payload the processor posts when the
// status of a subject request changes. The body must be signature-verified as
// raw bytes before this structure is ever populated.
type DataSubjectRequestCallback struct {
	ControllerID           string `json:"controller_id"`
	ExpectedCompletionTime string `json:"expected_completion_time"`
	SubjectRequestID       string `json:"subject_request_id"`
	RequestStatus          string `json:"request_status"`
	APIVersion             string `json:"api_version,omitempty"`
	ResultsURL             string `json:"results_url,omitempty"`
	StatusCallbackURL      string `json:"status_callback_url,omitempty"`
}
