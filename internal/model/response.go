package model

// StepResult captures the outcome of one store submission or processing step.
type StepResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"` // "ok" | "error" | "canceled"
	DurationMS int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"` // optional, error kind
}

// ErrorPayload describes an error response.
type ErrorPayload struct {
	Kind    string `json:"kind"`              // "validation", "not_found", ...
	Message string `json:"message,omitempty"` // optional, human-readable error message
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Status string       `json:"status"` // always "error"
	Error  ErrorPayload `json:"error"`
}
