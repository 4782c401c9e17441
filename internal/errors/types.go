package errors

import "encoding/json"

// APIError represents a standardized caller-visible error.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
	Type       string
	Details    map[string]interface{}
}

// Envelope mirrors the wire shape written to clients.
type Envelope struct {
	Error struct {
		Message string                 `json:"message"`
		Type    string                 `json:"type"`
		Code    string                 `json:"code,omitempty"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// New creates an APIError with the given parameters.
func New(status int, code, errType, message string) *APIError {
	return &APIError{
		HTTPStatus: status,
		Code:       code,
		Type:       errType,
		Message:    message,
	}
}

func (e *APIError) Error() string {
	return e.Message
}

// ToJSON serializes the error into the client envelope.
func (e *APIError) ToJSON() ([]byte, error) {
	var env Envelope
	env.Error.Message = e.Message
	env.Error.Type = e.Type
	env.Error.Code = e.Code
	env.Error.Details = e.Details
	return json.Marshal(env)
}

// WithDetails attaches structured detail fields and returns the error.
func (e *APIError) WithDetails(details map[string]interface{}) *APIError {
	e.Details = details
	return e
}
