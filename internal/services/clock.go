package services

import "time"

// Clock abstracts the wall-clock time source used for expiry computation.
// Expiry is a derived comparison performed at read time, so tests can pin
// redeemability boundaries exactly by injecting a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
