// Package storage defines the collaborator contracts the payment core
// depends on and provides GORM and in-memory implementations.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hybridpay/paycore/pkg/models"
)

// OrderStore reads and writes checkout orders.
type OrderStore interface {
	// FindEligibleForPayment returns the order only when it exists, belongs
	// to the user and is still pending. ErrNotFound otherwise.
	FindEligibleForPayment(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Save(ctx context.Context, order *models.Order) error
}

// TransactionStore reads and writes payment transactions. Transactions are
// append-only audit records; status moves strictly forward.
type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	FindByIDAndUser(ctx context.Context, txID, userID uuid.UUID) (*models.Transaction, error)
	// FindByIDAndStatus returns ErrNotFound unless the transaction exists for
	// the user in exactly the given status.
	FindByIDAndStatus(ctx context.Context, txID, userID uuid.UUID, status models.TransactionStatus) (*models.Transaction, error)
	// TransitionStatus atomically moves a transaction from one status to
	// another, applying updates in the same write. Reports ErrAlreadyProcessed
	// when the record is no longer in the expected source status.
	TransitionStatus(ctx context.Context, txID uuid.UUID, from, to models.TransactionStatus, updates map[string]any) error
	// CountRecentByUser counts the user's transactions created at or after
	// the cutoff, feeding the velocity risk factor.
	CountRecentByUser(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
}

// ProductStore adjusts inventory.
type ProductStore interface {
	// AtomicDecrementStock performs a single subtract-if-sufficient update.
	// Reports ErrInsufficientStock when concurrent depletion would drive the
	// counter negative. Never a read-then-write pair.
	AtomicDecrementStock(ctx context.Context, productID uuid.UUID, quantity int) error
	FindByID(ctx context.Context, productID uuid.UUID) (*models.Product, error)
}

// UserStore reads risk history and owns the single active OTP challenge.
type UserStore interface {
	FindByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	SetOTPChallenge(ctx context.Context, userID uuid.UUID, challenge models.OTPChallenge) error
	ClearOTPChallenge(ctx context.Context, userID uuid.UUID) error
	// IncrementOTPAttempts bumps the attempt counter atomically and returns
	// the new count.
	IncrementOTPAttempts(ctx context.Context, userID uuid.UUID) (int, error)
	// TouchDeviceFingerprint records a device sighting: first seen on new
	// devices, last seen on known ones.
	TouchDeviceFingerprint(ctx context.Context, userID uuid.UUID, device models.DeviceInfo) error
}

// FraudLogStore is the append-only fraud ledger.
type FraudLogStore interface {
	Create(ctx context.Context, entry *models.FraudLog) error
	ListUnreviewed(ctx context.Context, limit int) ([]models.FraudLog, error)
}

// Stores bundles every collaborator contract for injection into the
// orchestrator.
type Stores struct {
	Orders       OrderStore
	Transactions TransactionStore
	Products     ProductStore
	Users        UserStore
	FraudLogs    FraudLogStore
}
