package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned when the Tempo backend returns an error response.
type APIError struct {
	StatusCode int
	Code       string // OAuth-style error code, e.g. "invalid_grant"
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth retrying (5xx or 429).
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsUnauthorized reports whether err is an HTTP 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsInvalidGrant reports whether err is a definitive rejection of a grant:
// an invalid_grant code, or an HTTP 400/401 from the token endpoint.
func IsInvalidGrant(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == "invalid_grant" {
		return true
	}
	return apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnauthorized
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// newAPIError builds an APIError from a response status and body.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: string(body)}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		apiErr.Code = eb.Error
		switch {
		case eb.ErrorDescription != "":
			apiErr.Message = eb.ErrorDescription
		case eb.Message != "":
			apiErr.Message = eb.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
