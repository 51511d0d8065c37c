package errors

// APIError is the JSON body of every non-2xx response.
type APIError struct {
	Error   string                 `json:"error"`
	Reason  string                 `json:"reason,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewAPIError creates a new APIError with the given message and optional details.
func NewAPIError(message string, details map[string]interface{}) *APIError {
	return &APIError{
		Error:   message,
		Details: details,
	}
}

// Machine-readable reasons for 403/409/503 responses.
const (
	ReasonTaskNotOwned        = "task_not_owned"
	ReasonSessionNotOwned     = "session_not_owned"
	ReasonTaskAlreadySent     = "task_already_sent"
	ReasonBackendUnavailable  = "analysis_backend_unavailable"
	ReasonNewsNotConfigured   = "news_not_configured"
	ReasonMissingDestinations = "missing_destination"
)
