package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes returned by the backend
const (
	CodeADCUnavailable    = "adc_unavailable"
	CodeEnvironmentLocked = "environment_locked"
)

// Sentinel errors for the console's failure taxonomy. Components match with
// errors.Is and convert to user-facing notifications at their boundary.
var (
	// ErrAuthRequired is a 401 on a gated call: actionable "please login",
	// never retried automatically
	ErrAuthRequired = errors.New("authentication required, please login first")

	// ErrEnvironmentLocked is a 403 on a settings mutation because a server
	// environment variable pins the API key
	ErrEnvironmentLocked = errors.New("API key is configured by the server environment and cannot be changed")

	// ErrADCUnavailable indicates ambient credentials could not be resolved;
	// remediation is to upload a service-account key instead
	ErrADCUnavailable = errors.New("application default credentials unavailable; upload a service account key instead")
)

// APIError is a non-2xx response from the backend
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// Is maps APIError instances onto the sentinel taxonomy
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthRequired:
		return e.StatusCode == http.StatusUnauthorized
	case ErrEnvironmentLocked:
		return e.StatusCode == http.StatusForbidden && e.Code == CodeEnvironmentLocked
	case ErrADCUnavailable:
		return e.Code == CodeADCUnavailable
	default:
		return false
	}
}
