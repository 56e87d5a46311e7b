package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueProducesNumericCodesOfConfiguredLength(t *testing.T) {
	issuer := NewIssuer(6, 5*time.Minute)

	seen := map[string]bool{}
	for n := 0; n < 50; n++ {
		code, expiresAt, err := issuer.Issue()
		require.NoError(t, err)
		assert.Len(t, code, 6)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9', "code %q must be numeric", code)
		}
		assert.True(t, expiresAt.After(time.Now()))
		seen[code] = true
	}
	// 50 draws from a million-code space collapsing to a handful would mean
	// a broken random source.
	assert.Greater(t, len(seen), 40)
}

func TestIssueDefaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewIssuer(0, 0, WithClock(fixedClock(now)))

	code, expiresAt, err := issuer.Issue()
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.Equal(t, now.Add(5*time.Minute), expiresAt)
}

func TestValidateExpiredAlwaysFails(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewIssuer(6, 5*time.Minute, WithClock(fixedClock(now)))
	expired := now.Add(-time.Second)

	// Expiry wins even for the correct code.
	res := issuer.Validate("123456", "123456", expired)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonExpired, res.Reason)
}

func TestValidateWrongCode(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewIssuer(6, 5*time.Minute, WithClock(fixedClock(now)))
	expiresAt := now.Add(time.Minute)

	for _, input := range []string{"654321", "12345", "1234567", ""} {
		res := issuer.Validate(input, "123456", expiresAt)
		assert.False(t, res.Valid, "input %q", input)
		assert.Equal(t, ReasonInvalid, res.Reason)
	}
}

func TestValidateCorrectCode(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewIssuer(6, 5*time.Minute, WithClock(fixedClock(now)))

	res := issuer.Validate("123456", "123456", now.Add(time.Minute))
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
}

func TestValidateAtExactExpiryInstant(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewIssuer(6, 5*time.Minute, WithClock(fixedClock(now)))

	// now == expiresAt is still inside the window.
	res := issuer.Validate("123456", "123456", now)
	assert.True(t, res.Valid)
}
