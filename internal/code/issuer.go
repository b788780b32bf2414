// Package code issues the numeric redemption codes used by attendance polls.
//
// The issuer is a leaf component: it draws uniformly random 8-digit strings
// and defers the "is this code free" decision to an injected predicate, so
// it carries no storage dependency of its own. Callers typically implement
// the predicate as a point lookup ("no simultaneously active and unexpired
// poll uses this code"), not global historical uniqueness.
package code

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// Length is the exact number of digits in a redemption code.
const Length = 8

// DefaultMaxAttempts bounds the generate-and-check retry loop. At a 10^8
// code space collisions are vanishingly unlikely, so hitting this bound is
// an infrastructure anomaly rather than an expected outcome.
const DefaultMaxAttempts = 12

// ErrExhausted is returned when no free code was found within the attempt
// bound. It is retryable: the caller should fail the poll-creation request
// and let the client retry.
var ErrExhausted = errors.New("code space exhausted")

// codeSpace is 10^Length, the number of representable codes.
var codeSpace = big.NewInt(100_000_000)

// UniquePredicate reports whether a candidate code is free for use.
// Implementations may query storage; an error aborts generation.
type UniquePredicate func(code string) (bool, error)

// Issuer generates collision-free redemption codes.
//
// The zero value is usable; MaxAttempts <= 0 falls back to
// DefaultMaxAttempts.
type Issuer struct {
	// MaxAttempts caps the number of candidates drawn before giving up.
	MaxAttempts int
}

// Generate draws random 8-digit codes until isUnique accepts one, up to the
// configured attempt bound. Leading zeros are allowed, so "00000000" is a
// valid code.
//
// Errors:
//   - ErrExhausted when the attempt bound is reached without a free code.
//   - The predicate's error, unwrapped, if a uniqueness check fails.
//   - The crypto/rand error if the system randomness source fails.
func (i Issuer) Generate(isUnique UniquePredicate) (string, error) {
	attempts := i.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	for n := 0; n < attempts; n++ {
		candidate, err := random()
		if err != nil {
			return "", err
		}
		free, err := isUnique(candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

// ValidateFormat reports whether s is exactly 8 ASCII digits. It is pure
// and used both for acceptance at submission time and as a defensive check
// on issued codes.
func ValidateFormat(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// random draws one uniformly distributed code from the full space.
func random() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", Length, n), nil
}
