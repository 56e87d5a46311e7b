// Package payment drives the card-payment state machine: risk check, OTP
// challenge, gateway authorization, bank settlement and the final atomic
// reconciliation of transaction, order and stock.
package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hybridpay/paycore/internal/metrics"
	"github.com/hybridpay/paycore/internal/otp"
	"github.com/hybridpay/paycore/internal/risk"
	"github.com/hybridpay/paycore/internal/simulator"
	"github.com/hybridpay/paycore/internal/storage"
	"github.com/hybridpay/paycore/internal/vault"
	"github.com/hybridpay/paycore/pkg/errors"
	"github.com/hybridpay/paycore/pkg/models"
)

const (
	maxOTPAttempts = 3
	velocityWindow = 60 * time.Minute
)

// Authorizer is the card-network capability. The production simulator and any
// real integration both satisfy it.
type Authorizer interface {
	Authorize(ctx context.Context, req simulator.AuthorizationRequest) (simulator.AuthorizationResult, error)
}

// Settler is the issuing-bank capability.
type Settler interface {
	Settle(ctx context.Context, req simulator.SettlementRequest) (simulator.SettlementResult, error)
}

// CardDetails are the raw card fields supplied by the upstream caller. Never
// persisted in clear; the number is stored masked and vault-encrypted, the
// CVV not at all.
type CardDetails struct {
	Number      string `validate:"required,numeric,min=12,max=19"`
	HolderName  string `validate:"required"`
	ExpiryMonth int    `validate:"min=1,max=12"`
	ExpiryYear  int    `validate:"min=2000"`
	CVV         string `validate:"required,numeric,min=3,max=4"`
}

// DeviceContext identifies the client device a request came from.
type DeviceContext struct {
	DeviceID  string
	UserAgent string
	IP        string
}

// InitiateResult is returned to the caller after a successful risk pass.
type InitiateResult struct {
	TransactionID uuid.UUID
	PaymentToken  string
	MaskedCard    string
	RiskScore     int
	Flags         []string
	OTPRequired   bool
	// DevOTP carries the issued code only when dev echo is enabled.
	DevOTP string
}

// SettleResult is the terminal outcome of a verify-and-settle call.
type SettleResult struct {
	Approved             bool
	Message              string
	TransactionID        uuid.UUID
	TransactionStatus    models.TransactionStatus
	OrderID              uuid.UUID
	OrderStatus          models.OrderStatus
	Amount               decimal.Decimal
	MaskedCard           string
	PaymentToken         string
	GatewayTransactionID string
	BankTransactionID    string
}

// Service is the transaction orchestrator. It owns every write to
// transactions and orders from pending onward; all transitions are guarded by
// optimistic status preconditions so duplicate deliveries are safe.
type Service struct {
	stores     storage.Stores
	vault      *vault.Vault
	otp        *otp.Issuer
	risk       *risk.Engine
	ledger     *risk.Ledger
	authorizer Authorizer
	settler    Settler
	logger     *zap.Logger
	now        func() time.Time
	devOTPEcho bool
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDevOTPEcho includes issued OTP codes in initiate results. Development
// only.
func WithDevOTPEcho() Option {
	return func(s *Service) { s.devOTPEcho = true }
}

// NewService wires the orchestrator.
func NewService(
	stores storage.Stores,
	v *vault.Vault,
	issuer *otp.Issuer,
	engine *risk.Engine,
	ledger *risk.Ledger,
	authorizer Authorizer,
	settler Settler,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		stores:     stores,
		vault:      v,
		otp:        issuer,
		risk:       engine,
		ledger:     ledger,
		authorizer: authorizer,
		settler:    settler,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate starts a payment attempt for a pending order: assesses risk,
// creates the audit transaction and either blocks or issues the OTP
// challenge.
func (s *Service) Initiate(ctx context.Context, userID, orderID uuid.UUID, card CardDetails, device DeviceContext, biometric bool) (*InitiateResult, error) {
	if err := validateCard(card); err != nil {
		return nil, err
	}

	order, err := s.stores.Orders.FindEligibleForPayment(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.ErrOrderNotEligible
		}
		return nil, err
	}

	user, err := s.stores.Users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	recent, err := s.stores.Transactions.CountRecentByUser(ctx, userID, s.now().Add(-velocityWindow))
	if err != nil {
		return nil, err
	}

	assessment := s.risk.Assess(user, risk.Signal{
		IP:                     device.IP,
		DeviceID:               device.DeviceID,
		Amount:                 order.TotalAmount,
		FailedAttempts:         0,
		RecentTransactionCount: int(recent),
	})

	token, err := vault.GenerateToken()
	if err != nil {
		return nil, err
	}
	cardNumber := strings.ReplaceAll(card.Number, " ", "")
	masked := vault.MaskCardNumber(cardNumber)
	encryptedCard, err := s.vault.Encrypt(cardNumber)
	if err != nil {
		return nil, err
	}

	deviceInfo := models.DeviceInfo{
		DeviceID:    device.DeviceID,
		UserAgent:   device.UserAgent,
		IP:          device.IP,
		IsNewDevice: user.IsNewDevice(device.DeviceID),
	}

	tx := &models.Transaction{
		ID:                  uuid.New(),
		OrderID:             order.ID,
		UserID:              userID,
		PaymentToken:        token,
		MaskedCardNumber:    masked,
		EncryptedCardNumber: encryptedCard,
		CardFingerprint:     vault.HashData(cardNumber),
		CardHolderName:      card.HolderName,
		PaymentMethod:       order.PaymentMethod,
		Amount:              order.TotalAmount,
		Currency:            "USD",
		Status:              models.TxInitiated,
		RiskAssessment: models.RiskAssessment{
			RiskScore: assessment.Score,
			Flags:     strings.Join(assessment.Flags, ","),
			Assessed:  true,
		},
		DeviceInfo:        deviceInfo,
		BiometricVerified: biometric,
		CreatedAt:         s.now(),
	}
	if err := s.stores.Transactions.Create(ctx, tx); err != nil {
		return nil, err
	}
	metrics.PaymentsInitiated.Inc()

	if assessment.Blocked {
		return nil, s.blockInitiate(ctx, tx, order, assessment, deviceInfo, masked)
	}

	code, expiresAt, err := s.otp.Issue()
	if err != nil {
		return nil, err
	}
	if err := s.stores.Users.SetOTPChallenge(ctx, userID, models.OTPChallenge{
		Code:      code,
		ExpiresAt: &expiresAt,
	}); err != nil {
		return nil, err
	}

	if err := s.stores.Transactions.TransitionStatus(ctx, tx.ID, models.TxInitiated, models.TxOTPPending, nil); err != nil {
		return nil, err
	}

	// The device participated in a clean risk pass; record the sighting so it
	// stops counting as new.
	if err := s.stores.Users.TouchDeviceFingerprint(ctx, userID, deviceInfo); err != nil {
		s.logger.Warn("device fingerprint update failed",
			zap.String("user_id", userID.String()), zap.Error(err))
	}

	s.logger.Info("otp challenge issued",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Time("expires_at", expiresAt),
		zap.Int("risk_score", assessment.Score))

	res := &InitiateResult{
		TransactionID: tx.ID,
		PaymentToken:  token,
		MaskedCard:    masked,
		RiskScore:     assessment.Score,
		Flags:         assessment.Flags,
		OTPRequired:   true,
	}
	if s.devOTPEcho {
		res.DevOTP = code
	}
	return res, nil
}

// blockInitiate records the fraud veto: ledger entry, transaction declined,
// order cancelled. The returned error carries only score and flags, never
// raw factors or card data.
func (s *Service) blockInitiate(ctx context.Context, tx *models.Transaction, order *models.Order, assessment risk.Assessment, deviceInfo models.DeviceInfo, masked string) error {
	if _, err := s.ledger.LogBlocked(ctx, risk.Entry{
		UserID:        tx.UserID,
		TransactionID: tx.ID,
		OrderID:       order.ID,
		Assessment:    assessment,
		DeviceInfo:    deviceInfo,
		TransactionDetails: models.TransactionDetails{
			Amount:        tx.Amount,
			PaymentMethod: tx.PaymentMethod,
			MaskedCard:    masked,
		},
	}); err != nil {
		return err
	}

	if err := s.stores.Transactions.TransitionStatus(ctx, tx.ID, models.TxInitiated, models.TxDeclined, nil); err != nil {
		return err
	}
	order.Status = models.OrderCancelled
	if err := s.stores.Orders.Save(ctx, order); err != nil {
		return err
	}
	metrics.FraudBlocks.Inc()

	s.logger.Warn("payment blocked by risk engine",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("user_id", tx.UserID.String()),
		zap.Int("risk_score", assessment.Score),
		zap.Strings("flags", assessment.Flags))

	return errors.ErrRiskBlocked.
		WithDetail("transaction_id", tx.ID.String()).
		WithDetail("risk_score", assessment.Score).
		WithDetail("flags", assessment.Flags)
}

// VerifyAndSettle validates the OTP for a pending transaction and, on
// success, runs gateway authorization and bank settlement, committing the
// terminal outcome.
func (s *Service) VerifyAndSettle(ctx context.Context, userID, txID uuid.UUID, otpInput string, biometric bool) (*SettleResult, error) {
	tx, err := s.stores.Transactions.FindByIDAndStatus(ctx, txID, userID, models.TxOTPPending)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.ErrTxNotEligible
		}
		return nil, err
	}

	user, err := s.stores.Users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.OTP.Active() {
		return nil, errors.ErrNoActiveChallenge
	}

	// The 4th consecutive submission lands here with the counter exhausted;
	// it fails the transaction even when the code is correct.
	if user.OTP.Attempts >= maxOTPAttempts {
		return nil, s.failExhausted(ctx, tx)
	}

	result := s.otp.Validate(otpInput, user.OTP.Code, *user.OTP.ExpiresAt)
	if !result.Valid {
		attempts, err := s.stores.Users.IncrementOTPAttempts(ctx, userID)
		if err != nil {
			return nil, err
		}
		reason := "invalid"
		if result.Reason == otp.ReasonExpired {
			reason = "expired"
		}
		metrics.OTPFailures.WithLabelValues(reason).Inc()
		return nil, errors.ErrValidation.
			Explain("%s", result.Reason).
			WithDetail("attempts_left", maxOTPAttempts-attempts)
	}

	// Win the otp_pending -> processing transition exactly once; a duplicate
	// delivery observes the consumed precondition.
	err = s.stores.Transactions.TransitionStatus(ctx, txID, models.TxOTPPending, models.TxProcessing, map[string]any{
		"otp_verified":       true,
		"biometric_verified": tx.BiometricVerified || biometric,
	})
	if err != nil {
		return nil, err
	}

	// Challenge is single use.
	if err := s.stores.Users.ClearOTPChallenge(ctx, userID); err != nil {
		return nil, err
	}

	order, err := s.stores.Orders.FindByID(ctx, tx.OrderID)
	if err != nil {
		return nil, err
	}
	order.Status = models.OrderProcessing
	order.OTPVerified = true
	if err := s.stores.Orders.Save(ctx, order); err != nil {
		return nil, err
	}

	gatewayRes, err := s.authorizer.Authorize(ctx, simulator.AuthorizationRequest{
		Amount:        tx.Amount,
		PaymentToken:  tx.PaymentToken,
		PaymentMethod: tx.PaymentMethod,
	})
	if err != nil {
		return nil, s.failUpstream(ctx, tx, order, "gateway call failed", err)
	}

	bankRes, err := s.settler.Settle(ctx, simulator.SettlementRequest{
		Amount:          tx.Amount,
		GatewayApproved: gatewayRes.Success,
	})
	if err != nil {
		return nil, s.failUpstream(ctx, tx, order, "bank call failed", err)
	}

	return s.commitSettlement(ctx, tx, order, gatewayRes, bankRes)
}

// failExhausted forces an OTP-exhausted transaction to failed. Replays
// tolerate the transition already being consumed.
func (s *Service) failExhausted(ctx context.Context, tx *models.Transaction) error {
	err := s.stores.Transactions.TransitionStatus(ctx, tx.ID, models.TxOTPPending, models.TxFailed, nil)
	if err != nil && !errors.Is(err, errors.ErrAlreadyProcessed) {
		return err
	}
	metrics.OTPFailures.WithLabelValues("exhausted").Inc()
	metrics.PaymentsSettled.WithLabelValues("failed").Inc()

	s.logger.Warn("otp attempts exhausted",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("user_id", tx.UserID.String()))
	return errors.ErrTooManyAttempts
}

// failUpstream treats a transport-level gateway/bank failure as a hard
// decline: no retry is attempted in the current design.
func (s *Service) failUpstream(ctx context.Context, tx *models.Transaction, order *models.Order, msg string, cause error) error {
	err := s.stores.Transactions.TransitionStatus(ctx, tx.ID, models.TxProcessing, models.TxDeclined, nil)
	if err != nil && !errors.Is(err, errors.ErrAlreadyProcessed) {
		return err
	}
	order.Status = models.OrderCancelled
	if serr := s.stores.Orders.Save(ctx, order); serr != nil {
		return serr
	}
	metrics.PaymentsSettled.WithLabelValues("declined").Inc()

	s.logger.Error("upstream processor failure",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("stage", msg),
		zap.Error(cause))
	return errors.ErrUpstreamUnavailable.Explain("%s", msg).Wrap(cause)
}

// commitSettlement applies the terminal outcome: the approved path decrements
// stock for every line and confirms the order in the same logical commit, any
// other path cancels the order without touching stock.
func (s *Service) commitSettlement(ctx context.Context, tx *models.Transaction, order *models.Order, gatewayRes simulator.AuthorizationResult, bankRes simulator.SettlementResult) (*SettleResult, error) {
	updates := settlementColumns(gatewayRes, bankRes)

	if !bankRes.Approved {
		if err := s.stores.Transactions.TransitionStatus(ctx, tx.ID, models.TxProcessing, models.TxDeclined, updates); err != nil {
			return nil, err
		}
		order.Status = models.OrderCancelled
		if err := s.stores.Orders.Save(ctx, order); err != nil {
			return nil, err
		}
		metrics.PaymentsSettled.WithLabelValues("declined").Inc()

		s.logger.Info("payment declined",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("gateway_code", gatewayRes.ResponseCode),
			zap.String("bank_reason", bankRes.Reason))

		return s.settleResult(tx, order, gatewayRes, bankRes, models.TxDeclined, "Payment declined by bank"), nil
	}

	// Approved: every line item decrement must land. A concurrent depletion
	// aborts the order even though funds are already authorized; that is a
	// manual refund obligation.
	for _, item := range order.Items {
		if err := s.stores.Products.AtomicDecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			if errors.Is(err, errors.ErrInsufficientStock) {
				return nil, s.cancelForStockRace(ctx, tx, order, updates, item.ProductID)
			}
			return nil, err
		}
	}

	if err := s.stores.Transactions.TransitionStatus(ctx, tx.ID, models.TxProcessing, models.TxApproved, updates); err != nil {
		return nil, err
	}
	order.Status = models.OrderConfirmed
	order.TransactionID = &tx.ID
	if err := s.stores.Orders.Save(ctx, order); err != nil {
		return nil, err
	}
	metrics.PaymentsSettled.WithLabelValues("approved").Inc()

	s.logger.Info("payment approved",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("gateway_transaction_id", gatewayRes.GatewayTransactionID),
		zap.String("bank_transaction_id", bankRes.BankTransactionID),
		zap.String("amount", tx.Amount.String()))

	return s.settleResult(tx, order, gatewayRes, bankRes, models.TxApproved, "Payment successful!"), nil
}

// cancelForStockRace handles the settlement-time stock race: authorization
// succeeded but inventory ran out. The transaction is declined with a refund
// marker and the order cancelled.
func (s *Service) cancelForStockRace(ctx context.Context, tx *models.Transaction, order *models.Order, updates map[string]any, productID uuid.UUID) error {
	now := s.now()
	cols := map[string]any{
		"refunded_at":   &now,
		"refund_reason": "insufficient stock at settlement",
	}
	for k, v := range updates {
		cols[k] = v
	}
	err := s.stores.Transactions.TransitionStatus(ctx, tx.ID, models.TxProcessing, models.TxDeclined, cols)
	if err != nil && !errors.Is(err, errors.ErrAlreadyProcessed) {
		return err
	}
	order.Status = models.OrderCancelled
	if serr := s.stores.Orders.Save(ctx, order); serr != nil {
		return serr
	}
	metrics.StockRaceCancellations.Inc()
	metrics.PaymentsSettled.WithLabelValues("declined").Inc()

	s.logger.Error("stock depleted at settlement, manual refund required",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("product_id", productID.String()))
	return errors.ErrInsufficientStock.
		WithDetail("transaction_id", tx.ID.String()).
		WithDetail("order_id", order.ID.String())
}

// Status returns a read-only transaction snapshot for the owning user.
func (s *Service) Status(ctx context.Context, userID, txID uuid.UUID) (*models.Transaction, error) {
	tx, err := s.stores.Transactions.FindByIDAndUser(ctx, txID, userID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.ErrNotFound.Explain("transaction not found")
		}
		return nil, err
	}
	return tx, nil
}

func (s *Service) settleResult(tx *models.Transaction, order *models.Order, gatewayRes simulator.AuthorizationResult, bankRes simulator.SettlementResult, status models.TransactionStatus, msg string) *SettleResult {
	return &SettleResult{
		Approved:             status == models.TxApproved,
		Message:              msg,
		TransactionID:        tx.ID,
		TransactionStatus:    status,
		OrderID:              order.ID,
		OrderStatus:          order.Status,
		Amount:               tx.Amount,
		MaskedCard:           tx.MaskedCardNumber,
		PaymentToken:         tx.PaymentToken,
		GatewayTransactionID: gatewayRes.GatewayTransactionID,
		BankTransactionID:    bankRes.BankTransactionID,
	}
}

func settlementColumns(gatewayRes simulator.AuthorizationResult, bankRes simulator.SettlementResult) map[string]any {
	cols := map[string]any{
		"gw_response_code":    gatewayRes.ResponseCode,
		"gw_response_message": gatewayRes.ResponseMessage,
		"bank_approved":       bankRes.Approved,
		"bank_reason":         bankRes.Reason,
	}
	if gatewayRes.GatewayTransactionID != "" {
		cols["gw_gateway_transaction_id"] = gatewayRes.GatewayTransactionID
	}
	if gatewayRes.AuthCode != "" {
		cols["gw_auth_code"] = gatewayRes.AuthCode
	}
	if !gatewayRes.ProcessedAt.IsZero() {
		t := gatewayRes.ProcessedAt
		cols["gw_processed_at"] = &t
	}
	if bankRes.BankTransactionID != "" {
		cols["bank_bank_transaction_id"] = bankRes.BankTransactionID
	}
	if !bankRes.SettlementDate.IsZero() {
		t := bankRes.SettlementDate
		cols["bank_settlement_date"] = &t
	}
	if !bankRes.ProcessedAt.IsZero() {
		t := bankRes.ProcessedAt
		cols["bank_processed_at"] = &t
	}
	return cols
}

var validate = validator.New()

func validateCard(card CardDetails) error {
	// Card numbers arrive with presentation spacing.
	card.Number = strings.ReplaceAll(card.Number, " ", "")
	card.HolderName = strings.TrimSpace(card.HolderName)
	if err := validate.Struct(card); err != nil {
		return errors.ErrValidation.Explain("card details are invalid").Wrap(err)
	}
	return nil
}
