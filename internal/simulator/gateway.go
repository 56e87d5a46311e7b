// Package simulator provides stand-ins for the card network and the issuing
// bank. Both model network latency and probabilistic outcomes; neither
// retries, retry policy belongs to the caller.
package simulator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mathrand "math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GatewayConfig tunes the card-network simulator.
type GatewayConfig struct {
	SuccessRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// DefaultGatewayConfig matches the production simulator: 95% approval,
// 300-500ms latency.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		SuccessRate: 0.95,
		MinDelay:    300 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}
}

// AuthorizationRequest is the gateway call input.
type AuthorizationRequest struct {
	Amount        decimal.Decimal
	PaymentToken  string
	PaymentMethod string
}

// AuthorizationResult is the gateway verdict with audit identifiers.
type AuthorizationResult struct {
	Success              bool
	ResponseCode         string
	ResponseMessage      string
	GatewayTransactionID string
	AuthCode             string
	ProcessedAt          time.Time
}

// Gateway simulates a card-network authorization call.
type Gateway struct {
	cfg    GatewayConfig
	rng    *mathrand.Rand
	now    func() time.Time
	logger *zap.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayRand injects a seeded random source.
func WithGatewayRand(rng *mathrand.Rand) GatewayOption {
	return func(g *Gateway) { g.rng = rng }
}

// WithGatewayClock injects a time source.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// NewGateway creates the simulator.
func NewGateway(cfg GatewayConfig, logger *zap.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		cfg:    cfg,
		rng:    mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var gatewayDeclines = []struct {
	code    string
	message string
}{
	{"INSUFFICIENT_FUNDS", "Insufficient funds"},
	{"CARD_DECLINED", "Card declined by issuer"},
	{"NETWORK_ERROR", "Network timeout"},
}

// Authorize performs the simulated authorization. It blocks for the modeled
// latency but respects context cancellation.
func (g *Gateway) Authorize(ctx context.Context, req AuthorizationRequest) (AuthorizationResult, error) {
	if err := sleepJitter(ctx, g.rng, g.cfg.MinDelay, g.cfg.MaxDelay); err != nil {
		return AuthorizationResult{}, err
	}

	if req.PaymentToken == "" || !req.Amount.IsPositive() {
		return AuthorizationResult{
			Success:         false,
			ResponseCode:    "INVALID_REQUEST",
			ResponseMessage: "Invalid payment request parameters",
			ProcessedAt:     g.now(),
		}, nil
	}

	if g.rng.Float64() < g.cfg.SuccessRate {
		res := AuthorizationResult{
			Success:              true,
			ResponseCode:         "00",
			ResponseMessage:      "Transaction Approved",
			GatewayTransactionID: g.transactionID(),
			AuthCode:             authCode(),
			ProcessedAt:          g.now(),
		}
		g.logger.Debug("gateway approved",
			zap.String("gateway_transaction_id", res.GatewayTransactionID))
		return res, nil
	}

	decline := gatewayDeclines[g.rng.Intn(len(gatewayDeclines))]
	res := AuthorizationResult{
		Success:              false,
		ResponseCode:         decline.code,
		ResponseMessage:      decline.message,
		GatewayTransactionID: g.transactionID(),
		ProcessedAt:          g.now(),
	}
	g.logger.Debug("gateway declined",
		zap.String("response_code", res.ResponseCode),
		zap.String("gateway_transaction_id", res.GatewayTransactionID))
	return res, nil
}

func (g *Gateway) transactionID() string {
	return fmt.Sprintf("GW_%d_%s", g.now().UnixMilli(), randHex(4))
}

func authCode() string {
	return randHex(3)
}

func randHex(n int) string {
	buf := make([]byte, n)
	// crypto/rand never fails on supported platforms
	_, _ = rand.Read(buf)
	return strings.ToUpper(hex.EncodeToString(buf))
}

// sleepJitter blocks for a uniform random duration in [min, max].
func sleepJitter(ctx context.Context, rng *mathrand.Rand, min, max time.Duration) error {
	delay := min
	if max > min {
		delay += time.Duration(rng.Int63n(int64(max - min + 1)))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
