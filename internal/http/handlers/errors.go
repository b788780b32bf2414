// Package handlers defines HTTP-layer error codes used across all API
// endpoints.
//
// This file centralizes symbolic error code constants that are mapped to
// HTTP responses (via the `fail()` helper in this package). These codes give
// clients a stable, machine-readable taxonomy that supplements
// human-readable messages, and they mirror the service-layer error taxonomy
// one-to-one so the NotFound/GoneExpired/Conflict distinctions survive all
// the way to the client.
//
// Conventions:
//   - Codes are lowercase, snake_case.
//   - Generic codes (bad_request, conflict, ...) mirror common HTTP status
//     semantics; domain codes (code_expired, not_enrolled, ...) carry the
//     business outcome the status alone cannot.
//   - All error responses include both an HTTP status and one of these codes.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidCodeFormat = "invalid_code_format"
	ErrCodeCodeNotFound      = "code_not_found"
	ErrCodeCodeExpired       = "code_expired"
	ErrCodeNotEnrolled       = "not_enrolled"
	ErrCodeAlreadyCheckedIn  = "already_checked_in"
	ErrCodePollNotFound      = "poll_not_found"
	ErrCodeSessionNotFound   = "session_not_found"
	ErrCodeCodeUnavailable   = "code_unavailable"
)
