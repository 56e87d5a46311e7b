// Package risk scores payment attempts from behavioral signals and records
// adverse decisions in the fraud ledger.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/hybridpay/paycore/pkg/models"
)

// Flag names, stable identifiers used in fraud logs and client responses.
const (
	FlagUnusualLocation        = "unusual_location"
	FlagHighAmount             = "high_amount"
	FlagNewDevice              = "new_device"
	FlagMultipleFailedAttempts = "multiple_failed_attempts"
	FlagVelocityCheck          = "velocity_check"
	FlagSuspiciousPattern      = "suspicious_pattern"
)

// Weights assigns a score contribution to each boolean factor. high_amount
// carries weight zero: it is tracked as a flag but does not score.
type Weights struct {
	UnusualLocation        int
	HighAmount             int
	NewDevice              int
	MultipleFailedAttempts int
	VelocityCheck          int
	SuspiciousPattern      int
}

// DefaultWeights matches the production rule set.
func DefaultWeights() Weights {
	return Weights{
		UnusualLocation:        1,
		HighAmount:             0,
		NewDevice:              1,
		MultipleFailedAttempts: 2,
		VelocityCheck:          1,
		SuspiciousPattern:      1,
	}
}

// Config tunes the engine per deployment. Injected rather than global so
// tenants can tune thresholds and tests stay deterministic.
type Config struct {
	Threshold  int
	HighAmount decimal.Decimal
	Weights    Weights
}

// DefaultConfig returns the production defaults: threshold 2, high-amount
// line at 500.
func DefaultConfig() Config {
	return Config{
		Threshold:  2,
		HighAmount: decimal.NewFromInt(500),
		Weights:    DefaultWeights(),
	}
}

// Signal carries the behavioral inputs for one payment attempt.
type Signal struct {
	IP                     string
	DeviceID               string
	Amount                 decimal.Decimal
	FailedAttempts         int
	RecentTransactionCount int
}

// Factors is the evaluated boolean factor set.
type Factors struct {
	UnusualLocation        bool
	HighAmount             bool
	NewDevice              bool
	MultipleFailedAttempts bool
	VelocityCheck          bool
	SuspiciousPattern      bool
}

// Assessment is the engine verdict for one attempt.
type Assessment struct {
	Score     int
	Flags     []string
	Threshold int
	Blocked   bool
	Factors   Factors
}

// Engine computes risk scores. Assess is a pure function of its inputs;
// LogBlocked is the only side-effecting operation in risk handling.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 2
	}
	if cfg.HighAmount.IsZero() {
		cfg.HighAmount = decimal.NewFromInt(500)
	}
	return &Engine{cfg: cfg}
}

// Assess evaluates the factor set for a user and signal. Deterministic, no
// side effects.
func (e *Engine) Assess(user *models.User, sig Signal) Assessment {
	factors := Factors{
		UnusualLocation:        user.IsUnusualLocation(sig.IP),
		HighAmount:             sig.Amount.GreaterThan(e.cfg.HighAmount),
		NewDevice:              user.IsNewDevice(sig.DeviceID),
		MultipleFailedAttempts: sig.FailedAttempts >= 3,
		VelocityCheck:          sig.RecentTransactionCount >= 5,
		SuspiciousPattern:      false, // reserved for pattern detection
	}

	score, flags := e.score(factors)
	return Assessment{
		Score:     score,
		Flags:     flags,
		Threshold: e.cfg.Threshold,
		Blocked:   score >= e.cfg.Threshold,
		Factors:   factors,
	}
}

func (e *Engine) score(f Factors) (int, []string) {
	score := 0
	var flags []string

	if f.UnusualLocation {
		score += e.cfg.Weights.UnusualLocation
		flags = append(flags, FlagUnusualLocation)
	}
	if f.HighAmount {
		score += e.cfg.Weights.HighAmount
		flags = append(flags, FlagHighAmount)
	}
	if f.NewDevice {
		score += e.cfg.Weights.NewDevice
		flags = append(flags, FlagNewDevice)
	}
	if f.MultipleFailedAttempts {
		score += e.cfg.Weights.MultipleFailedAttempts
		flags = append(flags, FlagMultipleFailedAttempts)
	}
	if f.VelocityCheck {
		score += e.cfg.Weights.VelocityCheck
		flags = append(flags, FlagVelocityCheck)
	}
	if f.SuspiciousPattern {
		score += e.cfg.Weights.SuspiciousPattern
		flags = append(flags, FlagSuspiciousPattern)
	}
	return score, flags
}

// Threshold exposes the configured blocking threshold.
func (e *Engine) Threshold() int {
	return e.cfg.Threshold
}
