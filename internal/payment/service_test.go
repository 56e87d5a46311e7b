package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridpay/paycore/internal/otp"
	"github.com/hybridpay/paycore/internal/risk"
	"github.com/hybridpay/paycore/internal/simulator"
	"github.com/hybridpay/paycore/internal/storage"
	"github.com/hybridpay/paycore/internal/vault"
	"github.com/hybridpay/paycore/pkg/errors"
	"github.com/hybridpay/paycore/pkg/models"
)

// scriptedAuthorizer returns canned gateway results without latency.
type scriptedAuthorizer struct {
	mu      sync.Mutex
	results []simulator.AuthorizationResult
	calls   int
}

func approveAlways() *scriptedAuthorizer {
	return &scriptedAuthorizer{results: []simulator.AuthorizationResult{{
		Success:              true,
		ResponseCode:         "00",
		ResponseMessage:      "Transaction Approved",
		GatewayTransactionID: "GW_1_TEST",
		AuthCode:             "A1B2C3",
		ProcessedAt:          time.Now(),
	}}}
}

func declineAlways(code, msg string) *scriptedAuthorizer {
	return &scriptedAuthorizer{results: []simulator.AuthorizationResult{{
		Success:              false,
		ResponseCode:         code,
		ResponseMessage:      msg,
		GatewayTransactionID: "GW_1_TEST",
		ProcessedAt:          time.Now(),
	}}}
}

func (a *scriptedAuthorizer) Authorize(_ context.Context, _ simulator.AuthorizationRequest) (simulator.AuthorizationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res := a.results[a.calls%len(a.results)]
	a.calls++
	return res, nil
}

// realBank runs the actual bank simulator with the latency model removed.
func realBank() *simulator.Bank {
	cfg := simulator.DefaultBankConfig()
	cfg.MinDelay, cfg.MaxDelay = 0, 0
	return simulator.NewBank(cfg, nil)
}

type fixture struct {
	svc     *Service
	mem     *storage.MemoryStores
	userID  uuid.UUID
	orderID uuid.UUID
	product *models.Product
}

type fixtureOpt func(*fixtureCfg)

type fixtureCfg struct {
	authorizer Authorizer
	settler    Settler
	amount     decimal.Decimal
	stock      int
	quantity   int
}

func withAuthorizer(a Authorizer) fixtureOpt {
	return func(c *fixtureCfg) { c.authorizer = a }
}

func withAmount(amount int64) fixtureOpt {
	return func(c *fixtureCfg) { c.amount = decimal.NewFromInt(amount) }
}

func withStock(stock int) fixtureOpt {
	return func(c *fixtureCfg) { c.stock = stock }
}

func withQuantity(q int) fixtureOpt {
	return func(c *fixtureCfg) { c.quantity = q }
}

const (
	knownIP     = "10.0.0.1"
	knownDevice = "device-known"
)

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()

	cfg := fixtureCfg{
		authorizer: approveAlways(),
		settler:    realBank(),
		amount:     decimal.NewFromInt(50),
		stock:      10,
		quantity:   2,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	mem := storage.NewMemoryStores()
	userID := uuid.New()
	mem.AddUser(&models.User{
		ID:                 userID,
		Email:              "buyer@example.com",
		IsActive:           true,
		DeviceFingerprints: []models.DeviceFingerprint{{DeviceID: knownDevice}},
		KnownLocations:     []models.KnownLocation{{IP: knownIP}},
	})

	product := &models.Product{
		ID:       uuid.New(),
		Name:     "widget",
		Price:    cfg.amount,
		Stock:    cfg.stock,
		IsActive: true,
	}
	mem.AddProduct(product)

	orderID := uuid.New()
	mem.AddOrder(&models.Order{
		ID:     orderID,
		UserID: userID,
		Items: []models.OrderItem{{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: product.ID,
			Name:      product.Name,
			Price:     cfg.amount,
			Quantity:  cfg.quantity,
		}},
		PaymentMethod: "card",
		TotalAmount:   cfg.amount,
		Status:        models.OrderPending,
	})

	v, err := vault.New("fixture-secret")
	require.NoError(t, err)
	engine := risk.NewEngine(risk.DefaultConfig())
	stores := mem.Stores()

	svc := NewService(
		stores,
		v,
		otp.NewIssuer(6, 5*time.Minute),
		engine,
		risk.NewLedger(stores.FraudLogs, engine, nil),
		cfg.authorizer,
		cfg.settler,
		nil,
		WithDevOTPEcho(),
	)

	return &fixture{svc: svc, mem: mem, userID: userID, orderID: orderID, product: product}
}

func validCard() CardDetails {
	return CardDetails{
		Number:      "4111 1111 1111 1111",
		HolderName:  "Pat Buyer",
		ExpiryMonth: 12,
		ExpiryYear:  2030,
		CVV:         "123",
	}
}

func knownDeviceCtx() DeviceContext {
	return DeviceContext{DeviceID: knownDevice, UserAgent: "test-agent", IP: knownIP}
}

func (f *fixture) initiate(t *testing.T) *InitiateResult {
	t.Helper()
	res, err := f.svc.Initiate(context.Background(), f.userID, f.orderID, validCard(), knownDeviceCtx(), false)
	require.NoError(t, err)
	require.True(t, res.OTPRequired)
	require.NotEmpty(t, res.DevOTP)
	return res
}

func (f *fixture) transaction(t *testing.T, id uuid.UUID) *models.Transaction {
	t.Helper()
	tx, err := f.svc.Status(context.Background(), f.userID, id)
	require.NoError(t, err)
	return tx
}

func (f *fixture) order(t *testing.T) *models.Order {
	t.Helper()
	o, err := f.mem.Stores().Orders.FindByID(context.Background(), f.orderID)
	require.NoError(t, err)
	return o
}

// Scenario: clean signals end to end. $50 order, known device and IP, no
// velocity: score 0, OTP issued, gateway and bank approve, transaction
// approved, order confirmed, stock reduced by the exact quantities.
func TestHappyPathSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	init := f.initiate(t)
	assert.Equal(t, 0, init.RiskScore)
	assert.Empty(t, init.Flags)
	assert.Equal(t, "**** **** **** 1111", init.MaskedCard)
	assert.Contains(t, init.PaymentToken, "TOK_")
	assert.Equal(t, models.TxOTPPending, f.transaction(t, init.TransactionID).Status)

	res, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	require.NoError(t, err)

	assert.True(t, res.Approved)
	assert.Equal(t, models.TxApproved, res.TransactionStatus)
	assert.Equal(t, models.OrderConfirmed, res.OrderStatus)
	assert.NotEmpty(t, res.GatewayTransactionID)
	assert.NotEmpty(t, res.BankTransactionID)

	tx := f.transaction(t, init.TransactionID)
	assert.Equal(t, models.TxApproved, tx.Status)
	assert.True(t, tx.OTPVerified)
	assert.True(t, tx.BankResponse.Approved)

	order := f.order(t)
	assert.Equal(t, models.OrderConfirmed, order.Status)
	assert.True(t, order.OTPVerified)
	require.NotNil(t, order.TransactionID)
	assert.Equal(t, init.TransactionID, *order.TransactionID)

	assert.Equal(t, 8, f.mem.ProductStock(f.product.ID), "stock reduced by the ordered quantity")
	assert.Equal(t, 0, f.mem.FraudLogCount())
}

// Scenario: same order from a brand-new device and unrecognized IP with 5
// recent transactions: score 3 >= threshold 2, blocked, declined, cancelled,
// one fraud log row with the three flags.
func TestRiskBlockedInitiate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Five transactions inside the trailing hour trip the velocity factor.
	for i := 0; i < 5; i++ {
		require.NoError(t, f.mem.Stores().Transactions.Create(ctx, &models.Transaction{
			ID:           uuid.New(),
			OrderID:      uuid.New(),
			UserID:       f.userID,
			PaymentToken: "TOK_SEED_" + uuid.NewString(),
			Amount:       decimal.NewFromInt(10),
			Status:       models.TxApproved,
			CreatedAt:    time.Now().Add(-10 * time.Minute),
		}))
	}

	_, err := f.svc.Initiate(ctx, f.userID, f.orderID, validCard(),
		DeviceContext{DeviceID: "fresh-device", UserAgent: "ua", IP: "203.0.113.50"}, false)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrRiskBlocked))

	var domainErr *errors.Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, 3, domainErr.Details["risk_score"])
	assert.ElementsMatch(t,
		[]string{risk.FlagUnusualLocation, risk.FlagNewDevice, risk.FlagVelocityCheck},
		domainErr.Details["flags"])

	assert.Equal(t, models.OrderCancelled, f.order(t).Status)
	assert.Equal(t, 1, f.mem.FraudLogCount())
	assert.Equal(t, 10, f.mem.ProductStock(f.product.ID), "no stock movement on block")

	logs, err := f.mem.Stores().FraudLogs.ListUnreviewed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 3, logs[0].RiskScore)
	assert.Equal(t, models.FraudActionFlagged, logs[0].Action) // 3 < 2*threshold
	assert.Equal(t, "**** **** **** 1111", logs[0].TransactionDetails.MaskedCard)
}

// Scenario: $15,000 with correct OTP and gateway success: the bank declines
// on the single-transaction ceiling, transaction declined, order cancelled,
// no stock change.
func TestBankDeclinesOverLimit(t *testing.T) {
	f := newFixture(t, withAmount(15000))
	ctx := context.Background()

	init := f.initiate(t)
	res, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	require.NoError(t, err)

	assert.False(t, res.Approved)
	assert.Equal(t, models.TxDeclined, res.TransactionStatus)
	assert.Equal(t, models.OrderCancelled, res.OrderStatus)

	tx := f.transaction(t, init.TransactionID)
	assert.Equal(t, "Amount exceeds single transaction limit", tx.BankResponse.Reason)
	assert.False(t, tx.BankResponse.Approved)
	assert.Equal(t, 10, f.mem.ProductStock(f.product.ID))
}

func TestGatewayDeclineCancelsOrder(t *testing.T) {
	f := newFixture(t, withAuthorizer(declineAlways("CARD_DECLINED", "Card declined by issuer")))
	ctx := context.Background()

	init := f.initiate(t)
	res, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	require.NoError(t, err)

	assert.False(t, res.Approved)
	assert.Equal(t, models.TxDeclined, res.TransactionStatus)
	assert.Equal(t, models.OrderCancelled, f.order(t).Status)

	tx := f.transaction(t, init.TransactionID)
	assert.Equal(t, "CARD_DECLINED", tx.GatewayResponse.ResponseCode)
	assert.Equal(t, "Gateway declined transaction", tx.BankResponse.Reason)
	assert.Equal(t, 10, f.mem.ProductStock(f.product.ID))
}

func TestInitiateRejectsIneligibleOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Unknown order.
	_, err := f.svc.Initiate(ctx, f.userID, uuid.New(), validCard(), knownDeviceCtx(), false)
	assert.True(t, errors.Is(err, errors.ErrOrderNotEligible))

	// Someone else's order.
	_, err = f.svc.Initiate(ctx, uuid.New(), f.orderID, validCard(), knownDeviceCtx(), false)
	assert.Error(t, err)

	// Already-processed order.
	order := f.order(t)
	order.Status = models.OrderConfirmed
	require.NoError(t, f.mem.Stores().Orders.Save(ctx, order))
	_, err = f.svc.Initiate(ctx, f.userID, f.orderID, validCard(), knownDeviceCtx(), false)
	assert.True(t, errors.Is(err, errors.ErrOrderNotEligible))
}

func TestInitiateValidatesCardFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []CardDetails{
		{},
		{Number: "4111", HolderName: "Pat", ExpiryMonth: 12, ExpiryYear: 2030, CVV: "123"},
		{Number: "4111111111111111", HolderName: "", ExpiryMonth: 12, ExpiryYear: 2030, CVV: "123"},
		{Number: "4111111111111111", HolderName: "Pat", ExpiryMonth: 13, ExpiryYear: 2030, CVV: "123"},
		{Number: "4111111111111111", HolderName: "Pat", ExpiryMonth: 12, ExpiryYear: 2030, CVV: "12"},
		{Number: "41111111111111xx", HolderName: "Pat", ExpiryMonth: 12, ExpiryYear: 2030, CVV: "123"},
	}
	for i, card := range cases {
		_, err := f.svc.Initiate(ctx, f.userID, f.orderID, card, knownDeviceCtx(), false)
		assert.True(t, errors.Is(err, errors.ErrValidation), "case %d", i)
	}

	// Validation failures leave no state behind.
	assert.Equal(t, models.OrderPending, f.order(t).Status)
}

func TestVerifyWrongOTPCountsAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	init := f.initiate(t)

	for n := 1; n <= 2; n++ {
		_, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, "000000", false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))

		var domainErr *errors.Error
		require.True(t, errors.As(err, &domainErr))
		assert.Equal(t, maxOTPAttempts-n, domainErr.Details["attempts_left"])
	}

	// Still pending; the correct code still works after two misses.
	res, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	require.NoError(t, err)
	assert.True(t, res.Approved)
}

// The 4th consecutive wrong submission forces failed even when the 4th code
// is correct.
func TestFourthSubmissionFailsEvenIfCorrect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	init := f.initiate(t)

	for n := 0; n < 3; n++ {
		_, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, "000000", false)
		require.True(t, errors.Is(err, errors.ErrValidation))
	}

	_, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	require.True(t, errors.Is(err, errors.ErrTooManyAttempts))

	assert.Equal(t, models.TxFailed, f.transaction(t, init.TransactionID).Status)
	assert.Equal(t, 10, f.mem.ProductStock(f.product.ID))
}

// The challenge is single use: after a successful settlement the same code
// cannot drive a second transition.
func TestOTPChallengeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	init := f.initiate(t)

	_, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	require.NoError(t, err)

	// The transaction left otp_pending and the challenge was cleared.
	_, err = f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	assert.True(t, errors.Is(err, errors.ErrTxNotEligible))

	user := f.mem.User(f.userID)
	require.NotNil(t, user)
	assert.False(t, user.OTP.Active())
}

func TestVerifyWithoutChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	init := f.initiate(t)

	require.NoError(t, f.mem.Stores().Users.ClearOTPChallenge(ctx, f.userID))

	_, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	assert.True(t, errors.Is(err, errors.ErrNoActiveChallenge))
}

func TestVerifyExpiredOTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	init := f.initiate(t)

	// Rewind the stored expiry behind the clock.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, f.mem.Stores().Users.SetOTPChallenge(ctx, f.userID, models.OTPChallenge{
		Code:      init.DevOTP,
		ExpiresAt: &past,
	}))

	_, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	require.True(t, errors.Is(err, errors.ErrValidation))
	assert.Contains(t, err.Error(), "expired")
}

func TestVerifyRejectsNonPendingTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	init := f.initiate(t)

	_, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	require.NoError(t, err)

	// Terminal transaction: replay is rejected on the status precondition.
	_, err = f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	assert.True(t, errors.Is(err, errors.ErrTxNotEligible))
}

// Duplicate concurrent submissions of the same valid OTP settle exactly once.
func TestConcurrentDuplicateVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	init := f.initiate(t)

	const workers = 8
	var wg sync.WaitGroup
	approved := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
			if err == nil && res.Approved {
				approved <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(approved)

	assert.Equal(t, 1, len(approved), "exactly one duplicate settles")
	assert.Equal(t, models.TxApproved, f.transaction(t, init.TransactionID).Status)
	assert.Equal(t, 8, f.mem.ProductStock(f.product.ID), "stock decremented exactly once")
}

// Two orders racing for the last units: authorization succeeds for both but
// only one settlement finds stock; the loser is cancelled with a refund
// obligation and stock never goes negative.
func TestSettlementStockRace(t *testing.T) {
	f := newFixture(t, withStock(2), withQuantity(2))
	ctx := context.Background()

	init := f.initiate(t)

	// A competing order drains the product between authorization and commit.
	require.NoError(t, f.mem.Stores().Products.AtomicDecrementStock(ctx, f.product.ID, 1))

	_, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	tx := f.transaction(t, init.TransactionID)
	assert.Equal(t, models.TxDeclined, tx.Status)
	assert.NotNil(t, tx.RefundedAt, "flagged for manual refund reconciliation")
	assert.Equal(t, "insufficient stock at settlement", tx.RefundReason)

	assert.Equal(t, models.OrderCancelled, f.order(t).Status)
	assert.Equal(t, 1, f.mem.ProductStock(f.product.ID), "remaining unit untouched")
}

func TestStatusIsReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	init := f.initiate(t)

	before := f.transaction(t, init.TransactionID)
	again := f.transaction(t, init.TransactionID)
	assert.Equal(t, before.Status, again.Status)

	// Unknown and foreign transactions are not found.
	_, err := f.svc.Status(ctx, f.userID, uuid.New())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = f.svc.Status(ctx, uuid.New(), init.TransactionID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestInitiateNeverExposesCardNumber(t *testing.T) {
	f := newFixture(t)
	init := f.initiate(t)

	assert.NotContains(t, init.MaskedCard, "4111 1111")
	assert.NotContains(t, init.PaymentToken, "4111")

	tx := f.transaction(t, init.TransactionID)
	assert.NotContains(t, tx.MaskedCardNumber, "41111111")
	assert.NotEqual(t, "4111111111111111", tx.EncryptedCardNumber)
	assert.NotEmpty(t, tx.EncryptedCardNumber)
	assert.Equal(t, vault.HashData("4111111111111111"), tx.CardFingerprint,
		"fingerprint is stable across spacing variants")
}

func TestDeviceFingerprintRecordedOnCleanInitiate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, f.userID, f.orderID, validCard(),
		DeviceContext{DeviceID: "second-device", UserAgent: "ua", IP: knownIP}, false)
	require.NoError(t, err)

	user, err := f.mem.Stores().Users.FindByID(ctx, f.userID)
	require.NoError(t, err)
	assert.False(t, user.IsNewDevice("second-device"))
}

func TestUpstreamFailureIsHardDecline(t *testing.T) {
	failing := &failingAuthorizer{}
	f := newFixture(t, withAuthorizer(failing))
	ctx := context.Background()

	init := f.initiate(t)
	_, err := f.svc.VerifyAndSettle(ctx, f.userID, init.TransactionID, init.DevOTP, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUpstreamUnavailable))

	assert.Equal(t, models.TxDeclined, f.transaction(t, init.TransactionID).Status)
	assert.Equal(t, models.OrderCancelled, f.order(t).Status)
	assert.Equal(t, 10, f.mem.ProductStock(f.product.ID))
}

type failingAuthorizer struct{}

func (f *failingAuthorizer) Authorize(_ context.Context, _ simulator.AuthorizationRequest) (simulator.AuthorizationResult, error) {
	return simulator.AuthorizationResult{}, context.DeadlineExceeded
}
