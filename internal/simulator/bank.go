package simulator

import (
	"context"
	"fmt"
	mathrand "math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BankConfig tunes the issuing-bank simulator. DailyLimit is advisory here:
// aggregating per-user transaction history is the caller's job, the simulator
// only enforces the single-transaction ceiling.
type BankConfig struct {
	MaxSingleTransaction decimal.Decimal
	DailyLimit           decimal.Decimal
	MinDelay             time.Duration
	MaxDelay             time.Duration
}

// DefaultBankConfig matches the production rules: $10,000 per transaction,
// $25,000 daily, 200-500ms latency.
func DefaultBankConfig() BankConfig {
	return BankConfig{
		MaxSingleTransaction: decimal.NewFromInt(10000),
		DailyLimit:           decimal.NewFromInt(25000),
		MinDelay:             200 * time.Millisecond,
		MaxDelay:             500 * time.Millisecond,
	}
}

// SettlementRequest is the bank call input. GatewayApproved carries the
// upstream gateway verdict; the bank declines outright when it is false.
type SettlementRequest struct {
	Amount          decimal.Decimal
	GatewayApproved bool
}

// SettlementResult is the bank verdict with audit identifiers.
type SettlementResult struct {
	Approved          bool
	BankTransactionID string
	Reason            string
	SettlementDate    time.Time
	ProcessedAt       time.Time
}

// Bank simulates issuing-bank settlement approval.
type Bank struct {
	cfg    BankConfig
	rng    *mathrand.Rand
	now    func() time.Time
	logger *zap.Logger
}

// BankOption configures a Bank.
type BankOption func(*Bank)

// WithBankRand injects a seeded random source.
func WithBankRand(rng *mathrand.Rand) BankOption {
	return func(b *Bank) { b.rng = rng }
}

// WithBankClock injects a time source.
func WithBankClock(now func() time.Time) BankOption {
	return func(b *Bank) { b.now = now }
}

// NewBank creates the simulator.
func NewBank(cfg BankConfig, logger *zap.Logger, opts ...BankOption) *Bank {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bank{
		cfg:    cfg,
		rng:    mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Settle performs the simulated settlement approval. It blocks for the
// modeled latency but respects context cancellation.
func (b *Bank) Settle(ctx context.Context, req SettlementRequest) (SettlementResult, error) {
	if err := sleepJitter(ctx, b.rng, b.cfg.MinDelay, b.cfg.MaxDelay); err != nil {
		return SettlementResult{}, err
	}

	if !req.GatewayApproved {
		return SettlementResult{
			Approved:          false,
			BankTransactionID: b.transactionID(),
			Reason:            "Gateway declined transaction",
			ProcessedAt:       b.now(),
		}, nil
	}

	if req.Amount.GreaterThan(b.cfg.MaxSingleTransaction) {
		res := SettlementResult{
			Approved:          false,
			BankTransactionID: b.transactionID(),
			Reason:            "Amount exceeds single transaction limit",
			ProcessedAt:       b.now(),
		}
		b.logger.Debug("bank declined",
			zap.String("bank_transaction_id", res.BankTransactionID),
			zap.String("reason", res.Reason))
		return res, nil
	}

	res := SettlementResult{
		Approved:          true,
		BankTransactionID: b.transactionID(),
		Reason:            "Transaction approved by bank",
		SettlementDate:    b.now().Add(24 * time.Hour),
		ProcessedAt:       b.now(),
	}
	b.logger.Debug("bank approved",
		zap.String("bank_transaction_id", res.BankTransactionID))
	return res, nil
}

func (b *Bank) transactionID() string {
	return fmt.Sprintf("BNK_%d_%s", b.now().UnixMilli(), randHex(4))
}
