package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hybridpay/paycore/pkg/errors"
	"github.com/hybridpay/paycore/pkg/models"
)

// NewGormStores migrates the payment tables and returns the store contracts
// backed by one gorm.DB handle. Postgres in production, sqlite in tests.
func NewGormStores(db *gorm.DB) (Stores, error) {
	if err := db.AutoMigrate(
		&models.User{},
		&models.DeviceFingerprint{},
		&models.KnownLocation{},
		&models.Product{},
		&models.Order{},
		&models.OrderItem{},
		&models.Transaction{},
		&models.FraudLog{},
	); err != nil {
		return Stores{}, err
	}
	return Stores{
		Orders:       &gormOrders{db: db},
		Transactions: &gormTransactions{db: db},
		Products:     &gormProducts{db: db},
		Users:        &gormUsers{db: db},
		FraudLogs:    &gormFraudLogs{db: db},
	}, nil
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.ErrNotFound
	}
	return err
}

type gormOrders struct {
	db *gorm.DB
}

func (s *gormOrders) FindEligibleForPayment(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("id = ? AND user_id = ? AND status = ?", orderID, userID, models.OrderPending).
		First(&order).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &order, nil
}

func (s *gormOrders) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", orderID).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &order, nil
}

func (s *gormOrders) Save(ctx context.Context, order *models.Order) error {
	return s.db.WithContext(ctx).Omit("Items").Save(order).Error
}

type gormTransactions struct {
	db *gorm.DB
}

func (s *gormTransactions) Create(ctx context.Context, tx *models.Transaction) error {
	return s.db.WithContext(ctx).Create(tx).Error
}

func (s *gormTransactions) FindByIDAndUser(ctx context.Context, txID, userID uuid.UUID) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", txID, userID).
		First(&tx).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &tx, nil
}

func (s *gormTransactions) FindByIDAndStatus(ctx context.Context, txID, userID uuid.UUID, status models.TransactionStatus) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND status = ?", txID, userID, status).
		First(&tx).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &tx, nil
}

func (s *gormTransactions) TransitionStatus(ctx context.Context, txID uuid.UUID, from, to models.TransactionStatus, updates map[string]any) error {
	values := map[string]any{"status": to, "updated_at": time.Now()}
	for k, v := range updates {
		values[k] = v
	}
	res := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", txID, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrAlreadyProcessed
	}
	return nil
}

func (s *gormTransactions) CountRecentByUser(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

type gormProducts struct {
	db *gorm.DB
}

func (s *gormProducts) AtomicDecrementStock(ctx context.Context, productID uuid.UUID, quantity int) error {
	// Single conditional UPDATE; the WHERE clause is the sufficiency check.
	res := s.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND stock >= ?", productID, quantity).
		UpdateColumn("stock", gorm.Expr("stock - ?", quantity))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrInsufficientStock
	}
	return nil
}

func (s *gormProducts) FindByID(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.WithContext(ctx).First(&product, "id = ?", productID).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &product, nil
}

type gormUsers struct {
	db *gorm.DB
}

func (s *gormUsers) FindByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Preload("DeviceFingerprints").
		Preload("KnownLocations").
		First(&user, "id = ?", userID).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &user, nil
}

func (s *gormUsers) SetOTPChallenge(ctx context.Context, userID uuid.UUID, challenge models.OTPChallenge) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"otp_code":       challenge.Code,
			"otp_expires_at": challenge.ExpiresAt,
			"otp_attempts":   challenge.Attempts,
		}).Error
}

func (s *gormUsers) ClearOTPChallenge(ctx context.Context, userID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"otp_code":       "",
			"otp_expires_at": nil,
			"otp_attempts":   0,
		}).Error
}

func (s *gormUsers) IncrementOTPAttempts(ctx context.Context, userID uuid.UUID) (int, error) {
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("otp_attempts", gorm.Expr("otp_attempts + 1")).Error
	if err != nil {
		return 0, err
	}
	var user models.User
	if err := s.db.WithContext(ctx).Select("otp_attempts").First(&user, "id = ?", userID).Error; err != nil {
		return 0, translateNotFound(err)
	}
	return user.OTP.Attempts, nil
}

func (s *gormUsers) TouchDeviceFingerprint(ctx context.Context, userID uuid.UUID, device models.DeviceInfo) error {
	now := time.Now()
	var existing models.DeviceFingerprint
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", userID, device.DeviceID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&models.DeviceFingerprint{
			ID:        uuid.New(),
			UserID:    userID,
			DeviceID:  device.DeviceID,
			UserAgent: device.UserAgent,
			IP:        device.IP,
			FirstSeen: now,
			LastSeen:  now,
		}).Error
	}
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&existing).
		Updates(map[string]any{"last_seen": now, "ip": device.IP}).Error
}

type gormFraudLogs struct {
	db *gorm.DB
}

func (s *gormFraudLogs) Create(ctx context.Context, entry *models.FraudLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *gormFraudLogs) ListUnreviewed(ctx context.Context, limit int) ([]models.FraudLog, error) {
	var entries []models.FraudLog
	q := s.db.WithContext(ctx).Where("reviewed = ?", false).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return entries, q.Find(&entries).Error
}
