package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hybridpay/paycore/internal/payment"
	"github.com/hybridpay/paycore/pkg/errors"
)

type cardRequest struct {
	Number      string `json:"number" binding:"required"`
	HolderName  string `json:"holder_name" binding:"required"`
	ExpiryMonth int    `json:"expiry_month" binding:"required"`
	ExpiryYear  int    `json:"expiry_year" binding:"required"`
	CVV         string `json:"cvv" binding:"required"`
}

type deviceRequest struct {
	DeviceID  string `json:"device_id"`
	UserAgent string `json:"user_agent"`
}

type initiatePaymentRequest struct {
	OrderID   string        `json:"order_id" binding:"required,uuid"`
	Card      cardRequest   `json:"card" binding:"required"`
	Device    deviceRequest `json:"device"`
	Biometric bool          `json:"biometric"`
}

type verifyPaymentRequest struct {
	TransactionID string `json:"transaction_id" binding:"required,uuid"`
	OTP           string `json:"otp" binding:"required"`
	Biometric     bool   `json:"biometric"`
}

// handleInitiatePayment starts a payment attempt for a pending order
func (s *Server) handleInitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.ErrValidation.Explain("invalid request body").Wrap(err))
		return
	}
	orderID, _ := uuid.Parse(req.OrderID)

	device := payment.DeviceContext{
		DeviceID:  req.Device.DeviceID,
		UserAgent: req.Device.UserAgent,
		IP:        c.ClientIP(),
	}
	if device.UserAgent == "" {
		device.UserAgent = c.Request.UserAgent()
	}

	res, err := s.paymentSvc.Initiate(c.Request.Context(), s.userID(c), orderID, payment.CardDetails{
		Number:      req.Card.Number,
		HolderName:  req.Card.HolderName,
		ExpiryMonth: req.Card.ExpiryMonth,
		ExpiryYear:  req.Card.ExpiryYear,
		CVV:         req.Card.CVV,
	}, device, req.Biometric)
	if err != nil {
		s.writeError(c, err)
		return
	}

	body := gin.H{
		"transaction_id": res.TransactionID,
		"payment_token":  res.PaymentToken,
		"masked_card":    res.MaskedCard,
		"risk_score":     res.RiskScore,
		"flags":          res.Flags,
		"otp_required":   res.OTPRequired,
		"message":        "OTP sent, please verify to complete payment",
	}
	if res.DevOTP != "" {
		body["dev_otp"] = res.DevOTP
	}
	c.JSON(http.StatusOK, body)
}

// handleVerifyPayment validates the OTP and runs settlement
func (s *Server) handleVerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.ErrValidation.Explain("invalid request body").Wrap(err))
		return
	}
	txID, _ := uuid.Parse(req.TransactionID)

	res, err := s.paymentSvc.VerifyAndSettle(c.Request.Context(), s.userID(c), txID, req.OTP, req.Biometric)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"approved":               res.Approved,
		"message":                res.Message,
		"transaction_id":         res.TransactionID,
		"transaction_status":     res.TransactionStatus,
		"order_id":               res.OrderID,
		"order_status":           res.OrderStatus,
		"amount":                 res.Amount,
		"masked_card":            res.MaskedCard,
		"payment_token":          res.PaymentToken,
		"gateway_transaction_id": res.GatewayTransactionID,
		"bank_transaction_id":    res.BankTransactionID,
	})
}

// handleGetPayment returns a transaction snapshot for the owning user
func (s *Server) handleGetPayment(c *gin.Context) {
	txID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.writeError(c, errors.ErrValidation.Explain("transaction id is not a uuid"))
		return
	}

	tx, err := s.paymentSvc.Status(c.Request.Context(), s.userID(c), txID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}
