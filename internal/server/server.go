// Package server exposes the payment core over HTTP.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hybridpay/paycore/internal/payment"
	"github.com/hybridpay/paycore/internal/vault"
	"github.com/hybridpay/paycore/pkg/errors"
)

// Server represents the HTTP server
type Server struct {
	logger     *zap.Logger
	paymentSvc *payment.Service
}

// NewServer creates a new HTTP server
func NewServer(logger *zap.Logger, paymentSvc *payment.Service) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger, paymentSvc: paymentSvc}
}

// Router creates a new HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	// Add middleware
	router.Use(requestIDMiddleware())
	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	// Add health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			payments := v1.Group("/payments", s.identityMiddleware())
			{
				payments.POST("/initiate", s.handleInitiatePayment)
				payments.POST("/verify", s.handleVerifyPayment)
				payments.GET("/:id", s.handleGetPayment)
			}
		}
	}

	return router
}

// writeError writes a JSON error response with the status the domain kind
// maps to. Only kind, message and the curated details leave the process.
func (s *Server) writeError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": gin.H{"kind": errors.KindInternal, "message": "internal error"}})
		return
	}

	body := gin.H{"kind": errors.Kind(err), "message": domainMessage(err)}
	var domainErr *errors.Error
	if errors.As(err, &domainErr) && len(domainErr.Details) > 0 {
		body["details"] = domainErr.Details
	}
	c.JSON(status, gin.H{"error": body})
}

func domainMessage(err error) string {
	var domainErr *errors.Error
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// requestIDMiddleware tags every request with an opaque correlation id,
// keeping one supplied by the caller.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			if generated, err := vault.GenerateSecureID(); err == nil {
				id = generated
			}
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// identityMiddleware resolves the calling user. Authentication proper lives in
// the fronting identity service; this trusts the X-User-ID header it injects.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"kind":    "Unauthorized",
				"message": "missing X-User-ID header",
			}})
			c.Abort()
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"kind":    "Unauthorized",
				"message": "malformed X-User-ID header",
			}})
			c.Abort()
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

func (s *Server) userID(c *gin.Context) uuid.UUID {
	return c.MustGet("userID").(uuid.UUID)
}
