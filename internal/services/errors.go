// Package services defines the business logic for attendance polls and
// check-ins. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by
// callers with errors.Is.
//
// These errors form a closed taxonomy of expected business outcomes.
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer; anything not listed here is an infrastructure failure
// and propagates raw (the whole operation is then safe to retry).
package services

import "errors"

var (
	// ErrInvalidCodeFormat is returned when a submitted code is not exactly
	// 8 ASCII digits. Caller-correctable; rejected before touching storage.
	ErrInvalidCodeFormat = errors.New("code must be exactly 8 digits")

	// ErrCodeNotFound indicates that no poll was ever issued with this code
	// string, or (on the class-scoped path) that the code belongs to a
	// different class than the one selected.
	ErrCodeNotFound = errors.New("code not found")

	// ErrCodeExpired indicates the code was well-formed and once live, but
	// its poll is now inactive or past expiry. Distinct from ErrCodeNotFound
	// so the caller can say "expired" rather than "invalid".
	ErrCodeExpired = errors.New("code expired")

	// ErrNotEnrolled is returned when the submitting student holds no
	// enrollment in the class owning the poll's session.
	ErrNotEnrolled = errors.New("not enrolled in this class")

	// ErrAlreadyCheckedIn is returned on the strict submission path when an
	// attendance record already exists for this student and session.
	ErrAlreadyCheckedIn = errors.New("attendance already marked for this session")

	// ErrPollNotFound indicates that the requested poll does not exist.
	ErrPollNotFound = errors.New("poll not found")

	// ErrSessionNotFound indicates the session a poll was requested for
	// does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDurationOutOfRange is returned when a requested poll duration is
	// not a positive number of minutes within the configured bound.
	ErrDurationOutOfRange = errors.New("poll duration out of range")

	// ErrCodeSpaceExhausted is returned when the issuer could not find a
	// free code within its attempt bound. An infrastructure anomaly, not a
	// validation failure; the whole poll-creation call is safe to retry.
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique code")
)
