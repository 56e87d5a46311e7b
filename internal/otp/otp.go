// Package otp issues and validates time-bounded numeric one-time codes.
// Attempt counting lives in the payment orchestrator, which coordinates it
// with the transaction lifecycle.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"time"
)

const digits = "0123456789"

// DefaultExpiry is applied when no expiry is configured.
const DefaultExpiry = 5 * time.Minute

// Reason explains a failed validation.
type Reason string

const (
	ReasonExpired Reason = "OTP has expired"
	ReasonInvalid Reason = "Invalid OTP"
)

// Result is the outcome of a validation attempt.
type Result struct {
	Valid  bool
	Reason Reason
}

// Issuer generates codes of a fixed length with a fixed validity window. The
// clock is injectable for deterministic tests.
type Issuer struct {
	length int
	expiry time.Duration
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an issuer for codes of the given length. Non-positive
// values fall back to six digits and the default expiry.
func NewIssuer(length int, expiry time.Duration, opts ...Option) *Issuer {
	if length <= 0 {
		length = 6
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	i := &Issuer{length: length, expiry: expiry, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue generates a fresh numeric code and its expiry instant.
func (i *Issuer) Issue() (code string, expiresAt time.Time, err error) {
	buf := make([]byte, i.length)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("otp generation failed: %w", err)
	}
	out := make([]byte, i.length)
	for n, b := range buf {
		out[n] = digits[int(b)%len(digits)]
	}
	return string(out), i.now().Add(i.expiry), nil
}

// Validate checks input against the stored code and its expiry. Expiry wins
// over correctness. The comparison is constant time to avoid leaking how many
// leading digits matched.
func (i *Issuer) Validate(input, storedCode string, expiresAt time.Time) Result {
	if i.now().After(expiresAt) {
		return Result{Valid: false, Reason: ReasonExpired}
	}
	if len(input) != len(storedCode) ||
		subtle.ConstantTimeCompare([]byte(input), []byte(storedCode)) != 1 {
		return Result{Valid: false, Reason: ReasonInvalid}
	}
	return Result{Valid: true}
}
