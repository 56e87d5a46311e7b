package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hybridpay/paycore/internal/config"
	"github.com/hybridpay/paycore/internal/otp"
	"github.com/hybridpay/paycore/internal/payment"
	"github.com/hybridpay/paycore/internal/risk"
	"github.com/hybridpay/paycore/internal/server"
	"github.com/hybridpay/paycore/internal/simulator"
	"github.com/hybridpay/paycore/internal/storage"
	"github.com/hybridpay/paycore/internal/vault"
	"github.com/hybridpay/paycore/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.DBUrl == "" {
		zapLogger.Fatal("DB_URL is required")
	}
	if cfg.EncryptionKey == "" {
		zapLogger.Fatal("ENCRYPTION_KEY is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DBUrl), &gorm.Config{})
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	stores, err := storage.NewGormStores(db)
	if err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		zapLogger.Fatal("Failed to initialize vault", zap.Error(err))
	}

	engine := risk.NewEngine(risk.Config{
		Threshold:  cfg.RiskThreshold,
		HighAmount: decimal.NewFromInt(cfg.HighAmountThreshold),
		Weights:    risk.DefaultWeights(),
	})
	ledger := risk.NewLedger(stores.FraudLogs, engine, logger.Named(zapLogger, "risk"))

	gateway := simulator.NewGateway(simulator.GatewayConfig{
		SuccessRate: cfg.GatewaySuccessRate,
		MinDelay:    cfg.GatewayMinDelay,
		MaxDelay:    cfg.GatewayMaxDelay,
	}, logger.Named(zapLogger, "gateway"))
	bank := simulator.NewBank(simulator.BankConfig{
		MaxSingleTransaction: decimal.NewFromInt(cfg.MaxSingleTransaction),
		DailyLimit:           decimal.NewFromInt(cfg.DailyLimit),
		MinDelay:             cfg.BankMinDelay,
		MaxDelay:             cfg.BankMaxDelay,
	}, logger.Named(zapLogger, "bank"))

	issuer := otp.NewIssuer(cfg.OTPLength, time.Duration(cfg.OTPExpireMinutes)*time.Minute)

	var svcOpts []payment.Option
	if cfg.DevOTPEcho {
		zapLogger.Warn("DEV_OTP_ECHO is enabled, OTP codes are returned in API responses")
		svcOpts = append(svcOpts, payment.WithDevOTPEcho())
	}
	paymentSvc := payment.NewService(
		stores, v, issuer, engine, ledger, gateway, bank,
		logger.Named(zapLogger, "payment"), svcOpts...,
	)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.NewServer(logger.Named(zapLogger, "http"), paymentSvc).Router(),
	}

	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("Forced shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
