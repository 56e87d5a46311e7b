package risk

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hybridpay/paycore/pkg/models"
)

// FraudLogs is the append-only ledger the engine writes adverse decisions to.
type FraudLogs interface {
	Create(ctx context.Context, entry *models.FraudLog) error
}

// Ledger persists blocked and flagged attempts for human review.
type Ledger struct {
	store  FraudLogs
	engine *Engine
	logger *zap.Logger
}

// NewLedger creates a ledger writer bound to an engine's threshold.
func NewLedger(store FraudLogs, engine *Engine, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, engine: engine, logger: logger}
}

// Entry is the snapshot of one adverse attempt.
type Entry struct {
	UserID             uuid.UUID
	TransactionID      uuid.UUID
	OrderID            uuid.UUID
	Assessment         Assessment
	DeviceInfo         models.DeviceInfo
	TransactionDetails models.TransactionDetails
}

// LogBlocked appends a fraud log record. Scores at or above twice the
// threshold are recorded as blocked, the rest as flagged.
func (l *Ledger) LogBlocked(ctx context.Context, e Entry) (*models.FraudLog, error) {
	action := models.FraudActionFlagged
	if e.Assessment.Score >= 2*l.engine.Threshold() {
		action = models.FraudActionBlocked
	}

	entry := &models.FraudLog{
		ID:                 uuid.New(),
		UserID:             e.UserID,
		TransactionID:      e.TransactionID,
		OrderID:            e.OrderID,
		RiskScore:          e.Assessment.Score,
		Threshold:          l.engine.Threshold(),
		Flags:              strings.Join(e.Assessment.Flags, ","),
		DeviceInfo:         e.DeviceInfo,
		TransactionDetails: e.TransactionDetails,
		Action:             action,
		CreatedAt:          time.Now(),
	}
	if err := l.store.Create(ctx, entry); err != nil {
		l.logger.Error("fraud log write failed",
			zap.String("user_id", e.UserID.String()),
			zap.Error(err))
		return nil, err
	}

	l.logger.Warn("payment attempt recorded in fraud ledger",
		zap.String("user_id", e.UserID.String()),
		zap.String("transaction_id", e.TransactionID.String()),
		zap.Int("risk_score", e.Assessment.Score),
		zap.Strings("flags", e.Assessment.Flags),
		zap.String("action", string(action)))
	return entry, nil
}
