package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hybridpay/paycore/pkg/errors"
	"github.com/hybridpay/paycore/pkg/models"
)

// MemoryStores is a mutex-guarded in-memory implementation of every store
// contract. Used by orchestrator tests and local development; semantics match
// the GORM implementation, including the atomicity of stock decrements and
// status transitions.
type MemoryStores struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*models.User
	orders       map[uuid.UUID]*models.Order
	products     map[uuid.UUID]*models.Product
	transactions map[uuid.UUID]*models.Transaction
	fraudLogs    []*models.FraudLog
}

// NewMemoryStores creates an empty in-memory store set.
func NewMemoryStores() *MemoryStores {
	return &MemoryStores{
		users:        make(map[uuid.UUID]*models.User),
		orders:       make(map[uuid.UUID]*models.Order),
		products:     make(map[uuid.UUID]*models.Product),
		transactions: make(map[uuid.UUID]*models.Transaction),
	}
}

// Stores returns the bundled contracts.
func (m *MemoryStores) Stores() Stores {
	return Stores{
		Orders:       (*memOrders)(m),
		Transactions: (*memTransactions)(m),
		Products:     (*memProducts)(m),
		Users:        (*memUsers)(m),
		FraudLogs:    (*memFraudLogs)(m),
	}
}

// AddUser seeds a user.
func (m *MemoryStores) AddUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

// AddOrder seeds an order.
func (m *MemoryStores) AddOrder(o *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	m.orders[o.ID] = &cp
}

// AddProduct seeds a product.
func (m *MemoryStores) AddProduct(p *models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.ID] = &cp
}

// ProductStock reads a product's current stock, for test assertions.
func (m *MemoryStores) ProductStock(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		return p.Stock
	}
	return -1
}

// FraudLogCount reports the number of ledger entries, for test assertions.
func (m *MemoryStores) FraudLogCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fraudLogs)
}

// User returns a copy of a seeded user, for test assertions.
func (m *MemoryStores) User(id uuid.UUID) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp
}

func copyTransaction(t *models.Transaction) *models.Transaction {
	cp := *t
	return &cp
}

type memOrders MemoryStores

func (s *memOrders) FindEligibleForPayment(_ context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.UserID != userID || o.Status != models.OrderPending {
		return nil, errors.ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *memOrders) FindByID(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *memOrders) Save(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.UpdatedAt = time.Now()
	s.orders[order.ID] = copyOrder(order)
	return nil
}

type memTransactions MemoryStores

func (s *memTransactions) Create(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	s.transactions[tx.ID] = copyTransaction(tx)
	return nil
}

func (s *memTransactions) FindByIDAndUser(_ context.Context, txID, userID uuid.UUID) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[txID]
	if !ok || t.UserID != userID {
		return nil, errors.ErrNotFound
	}
	return copyTransaction(t), nil
}

func (s *memTransactions) FindByIDAndStatus(_ context.Context, txID, userID uuid.UUID, status models.TransactionStatus) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[txID]
	if !ok || t.UserID != userID || t.Status != status {
		return nil, errors.ErrNotFound
	}
	return copyTransaction(t), nil
}

func (s *memTransactions) TransitionStatus(_ context.Context, txID uuid.UUID, from, to models.TransactionStatus, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[txID]
	if !ok || t.Status != from {
		return errors.ErrAlreadyProcessed
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	applyTransactionUpdates(t, updates)
	return nil
}

// applyTransactionUpdates mirrors the column map the GORM store accepts.
func applyTransactionUpdates(t *models.Transaction, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "otp_verified":
			t.OTPVerified, _ = v.(bool)
		case "biometric_verified":
			t.BiometricVerified, _ = v.(bool)
		case "gw_gateway_transaction_id":
			t.GatewayResponse.GatewayTransactionID, _ = v.(string)
		case "gw_auth_code":
			t.GatewayResponse.AuthCode, _ = v.(string)
		case "gw_response_code":
			t.GatewayResponse.ResponseCode, _ = v.(string)
		case "gw_response_message":
			t.GatewayResponse.ResponseMessage, _ = v.(string)
		case "gw_processed_at":
			t.GatewayResponse.ProcessedAt, _ = v.(*time.Time)
		case "bank_bank_transaction_id":
			t.BankResponse.BankTransactionID, _ = v.(string)
		case "bank_approved":
			t.BankResponse.Approved, _ = v.(bool)
		case "bank_reason":
			t.BankResponse.Reason, _ = v.(string)
		case "bank_settlement_date":
			t.BankResponse.SettlementDate, _ = v.(*time.Time)
		case "bank_processed_at":
			t.BankResponse.ProcessedAt, _ = v.(*time.Time)
		case "refunded_at":
			t.RefundedAt, _ = v.(*time.Time)
		case "refund_reason":
			t.RefundReason, _ = v.(string)
		}
	}
}

func (s *memTransactions) CountRecentByUser(_ context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, t := range s.transactions {
		if t.UserID == userID && !t.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type memProducts MemoryStores

func (s *memProducts) AtomicDecrementStock(_ context.Context, productID uuid.UUID, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok || p.Stock < quantity {
		return errors.ErrInsufficientStock
	}
	p.Stock -= quantity
	return nil
}

func (s *memProducts) FindByID(_ context.Context, productID uuid.UUID) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type memUsers MemoryStores

func (s *memUsers) FindByID(_ context.Context, userID uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *u
	cp.DeviceFingerprints = append([]models.DeviceFingerprint(nil), u.DeviceFingerprints...)
	cp.KnownLocations = append([]models.KnownLocation(nil), u.KnownLocations...)
	return &cp, nil
}

func (s *memUsers) SetOTPChallenge(_ context.Context, userID uuid.UUID, challenge models.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return errors.ErrNotFound
	}
	u.OTP = challenge
	return nil
}

func (s *memUsers) ClearOTPChallenge(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return errors.ErrNotFound
	}
	u.OTP = models.OTPChallenge{}
	return nil
}

func (s *memUsers) IncrementOTPAttempts(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, errors.ErrNotFound
	}
	u.OTP.Attempts++
	return u.OTP.Attempts, nil
}

func (s *memUsers) TouchDeviceFingerprint(_ context.Context, userID uuid.UUID, device models.DeviceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return errors.ErrNotFound
	}
	now := time.Now()
	for i := range u.DeviceFingerprints {
		if u.DeviceFingerprints[i].DeviceID == device.DeviceID {
			u.DeviceFingerprints[i].LastSeen = now
			u.DeviceFingerprints[i].IP = device.IP
			return nil
		}
	}
	u.DeviceFingerprints = append(u.DeviceFingerprints, models.DeviceFingerprint{
		ID:        uuid.New(),
		UserID:    userID,
		DeviceID:  device.DeviceID,
		UserAgent: device.UserAgent,
		IP:        device.IP,
		FirstSeen: now,
		LastSeen:  now,
	})
	return nil
}

type memFraudLogs MemoryStores

func (s *memFraudLogs) Create(_ context.Context, entry *models.FraudLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.fraudLogs = append(s.fraudLogs, &cp)
	return nil
}

func (s *memFraudLogs) ListUnreviewed(_ context.Context, limit int) ([]models.FraudLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FraudLog
	for i := len(s.fraudLogs) - 1; i >= 0; i-- {
		if s.fraudLogs[i].Reviewed {
			continue
		}
		out = append(out, *s.fraudLogs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
