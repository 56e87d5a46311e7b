// Package models defines the persistent entities of the payment core.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

// TransactionStatus is the lifecycle state of a Transaction. Progression is
// strictly forward; no state is ever revisited.
type TransactionStatus string

const (
	TxInitiated  TransactionStatus = "initiated"
	TxOTPPending TransactionStatus = "otp_pending"
	TxProcessing TransactionStatus = "processing"
	TxApproved   TransactionStatus = "approved"
	TxDeclined   TransactionStatus = "declined"
	TxFailed     TransactionStatus = "failed"
	TxRefunded   TransactionStatus = "refunded"
)

// FraudAction is the disposition recorded on a fraud log entry.
type FraudAction string

const (
	FraudActionBlocked           FraudAction = "blocked"
	FraudActionFlagged           FraudAction = "flagged"
	FraudActionAllowedWithReview FraudAction = "allowed_with_review"
)

// OrderItem is one line of an Order with a price snapshot taken at checkout.
type OrderItem struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	OrderID   uuid.UUID       `json:"order_id" gorm:"type:uuid;index"`
	ProductID uuid.UUID       `json:"product_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Name      string          `json:"name" validate:"required,max=200"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(20,2)" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,min=1"`
	Image     string          `json:"image,omitempty"`
}

// ShippingAddress is embedded on Order.
type ShippingAddress struct {
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Zip     string `json:"zip" validate:"required"`
	Country string `json:"country" gorm:"default:US"`
}

// Order represents a checkout order awaiting payment. Created at checkout
// (outside this core); from pending onward it is mutated only by the payment
// orchestrator.
type Order struct {
	ID              uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID          uuid.UUID       `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Items           []OrderItem     `json:"items" gorm:"foreignKey:OrderID" validate:"required,min=1,dive"`
	ShippingAddress ShippingAddress `json:"shipping_address" gorm:"embedded;embeddedPrefix:ship_"`
	PaymentMethod   string          `json:"payment_method" gorm:"default:card" validate:"required,oneof=card upi netbanking wallet"`
	Subtotal        decimal.Decimal `json:"subtotal" gorm:"type:decimal(20,2)"`
	TaxAmount       decimal.Decimal `json:"tax_amount" gorm:"type:decimal(20,2)"`
	ShippingAmount  decimal.Decimal `json:"shipping_amount" gorm:"type:decimal(20,2)"`
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:decimal(20,2)" validate:"required"`
	Status          OrderStatus     `json:"status" gorm:"index;default:pending"` // pending, processing, confirmed, shipped, delivered, cancelled, refunded
	TransactionID   *uuid.UUID      `json:"transaction_id,omitempty" gorm:"type:uuid"`
	OTPVerified     bool            `json:"otp_verified"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RiskAssessment is the fraud-engine verdict embedded on a Transaction.
type RiskAssessment struct {
	RiskScore int    `json:"risk_score"`
	Flags     string `json:"flags" gorm:"type:text"` // comma-joined flag names
	Assessed  bool   `json:"assessed"`
}

// DeviceInfo captures the client device a payment attempt came from.
type DeviceInfo struct {
	DeviceID    string `json:"device_id"`
	UserAgent   string `json:"user_agent"`
	IP          string `json:"ip"`
	IsNewDevice bool   `json:"is_new_device"`
}

// GatewayResponse is the card-network authorization result embedded on a
// Transaction for audit correlation.
type GatewayResponse struct {
	GatewayTransactionID string     `json:"gateway_transaction_id,omitempty"`
	AuthCode             string     `json:"auth_code,omitempty"`
	ResponseCode         string     `json:"response_code,omitempty"`
	ResponseMessage      string     `json:"response_message,omitempty"`
	ProcessedAt          *time.Time `json:"processed_at,omitempty"`
}

// BankResponse is the issuing-bank settlement result embedded on a
// Transaction.
type BankResponse struct {
	BankTransactionID string     `json:"bank_transaction_id,omitempty"`
	Approved          bool       `json:"approved"`
	Reason            string     `json:"reason,omitempty"`
	SettlementDate    *time.Time `json:"settlement_date,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
}

// Transaction is the audit record of one payment attempt. Identity fields are
// immutable after creation; only the orchestrator writes status transitions,
// exactly once each. Never deleted.
type Transaction struct {
	ID                  uuid.UUID         `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	OrderID             uuid.UUID         `json:"order_id" gorm:"type:uuid;index" validate:"required,uuid"`
	UserID              uuid.UUID         `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	PaymentToken        string            `json:"payment_token" gorm:"uniqueIndex" validate:"required"`
	MaskedCardNumber    string            `json:"masked_card_number"`
	EncryptedCardNumber string            `json:"-" gorm:"type:text"` // vault blob, audit only
	CardFingerprint     string            `json:"-" gorm:"index"`     // sha256 of the card number, ties attempts to one card
	CardHolderName      string            `json:"card_holder_name,omitempty"`
	PaymentMethod       string            `json:"payment_method" validate:"required,oneof=card upi netbanking wallet"`
	Amount              decimal.Decimal   `json:"amount" gorm:"type:decimal(20,2)" validate:"required"`
	Currency            string            `json:"currency" gorm:"default:USD"`
	Status              TransactionStatus `json:"status" gorm:"index;default:initiated"` // initiated, otp_pending, processing, approved, declined, failed, refunded
	GatewayResponse     GatewayResponse   `json:"gateway_response" gorm:"embedded;embeddedPrefix:gw_"`
	BankResponse        BankResponse      `json:"bank_response" gorm:"embedded;embeddedPrefix:bank_"`
	RiskAssessment      RiskAssessment    `json:"risk_assessment" gorm:"embedded;embeddedPrefix:risk_"`
	DeviceInfo          DeviceInfo        `json:"device_info" gorm:"embedded;embeddedPrefix:device_"`
	OTPVerified         bool              `json:"otp_verified"`
	BiometricVerified   bool              `json:"biometric_verified"`
	RefundedAt          *time.Time        `json:"refunded_at,omitempty"`
	RefundReason        string            `json:"refund_reason,omitempty"`
	CreatedAt           time.Time         `json:"created_at" gorm:"index"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// OTPChallenge is the single active second-factor challenge for a user.
// Single use: created at issuance, cleared on success, capped at 3 failed
// attempts.
type OTPChallenge struct {
	Code      string     `json:"-"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Attempts  int        `json:"attempts"`
}

// Active reports whether a challenge is present.
func (c OTPChallenge) Active() bool {
	return c.Code != "" && c.ExpiresAt != nil
}

// DeviceFingerprint is one device previously seen for a user.
type DeviceFingerprint struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	DeviceID  string    `json:"device_id" gorm:"index"`
	UserAgent string    `json:"user_agent"`
	IP        string    `json:"ip"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// KnownLocation is one IP location previously seen for a user.
type KnownLocation struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	IP        string    `json:"ip" gorm:"index"`
	City      string    `json:"city,omitempty"`
	Country   string    `json:"country,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
}

// User is the risk-relevant subset of the account record: device and
// location history plus the ephemeral OTP challenge.
type User struct {
	ID                 uuid.UUID           `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Email              string              `json:"email" gorm:"uniqueIndex" validate:"required,email"`
	DeviceFingerprints []DeviceFingerprint `json:"device_fingerprints,omitempty" gorm:"foreignKey:UserID"`
	KnownLocations     []KnownLocation     `json:"known_locations,omitempty" gorm:"foreignKey:UserID"`
	OTP                OTPChallenge        `json:"-" gorm:"embedded;embeddedPrefix:otp_"`
	IsActive           bool                `json:"is_active" gorm:"default:true"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// IsNewDevice reports whether deviceID has never been seen for this user.
func (u *User) IsNewDevice(deviceID string) bool {
	for _, d := range u.DeviceFingerprints {
		if d.DeviceID == deviceID {
			return false
		}
	}
	return true
}

// IsUnusualLocation reports whether ip is absent from the user's known
// locations. A user with no history is never flagged.
func (u *User) IsUnusualLocation(ip string) bool {
	if len(u.KnownLocations) == 0 {
		return false
	}
	for _, loc := range u.KnownLocations {
		if loc.IP == ip {
			return false
		}
	}
	return true
}

// Product is the stock-relevant subset of the catalog record. Stock is
// mutated only by the orchestrator at final settlement, never below zero.
type Product struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Name      string          `json:"name" validate:"required,max=200"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(20,2)"`
	Stock     int             `json:"stock" gorm:"check:stock >= 0" validate:"min=0"`
	IsActive  bool            `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TransactionDetails is the masked snapshot of an attempt stored on a fraud
// log entry. Never contains full card data.
type TransactionDetails struct {
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(20,2)"`
	PaymentMethod string          `json:"payment_method"`
	MaskedCard    string          `json:"masked_card"`
}

// FraudLog is an append-only record of a blocked or flagged payment attempt,
// kept for human review.
type FraudLog struct {
	ID                 uuid.UUID          `json:"id" gorm:"primaryKey;type:uuid"`
	UserID             uuid.UUID          `json:"user_id" gorm:"type:uuid;index"`
	TransactionID      uuid.UUID          `json:"transaction_id" gorm:"type:uuid;index"`
	OrderID            uuid.UUID          `json:"order_id" gorm:"type:uuid"`
	RiskScore          int                `json:"risk_score" gorm:"index" validate:"required"`
	Threshold          int                `json:"threshold" validate:"required"`
	Flags              string             `json:"flags" gorm:"type:text"` // comma-joined flag names
	DeviceInfo         DeviceInfo         `json:"device_info" gorm:"embedded;embeddedPrefix:device_"`
	TransactionDetails TransactionDetails `json:"transaction_details" gorm:"embedded;embeddedPrefix:txn_"`
	Action             FraudAction        `json:"action" gorm:"default:blocked"` // blocked, flagged, allowed_with_review
	Reviewed           bool               `json:"reviewed" gorm:"index"`
	ReviewedBy         *uuid.UUID         `json:"reviewed_by,omitempty" gorm:"type:uuid"`
	ReviewNotes        string             `json:"review_notes,omitempty"`
	ReviewedAt         *time.Time         `json:"reviewed_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at" gorm:"index"`
}
