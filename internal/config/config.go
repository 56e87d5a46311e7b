package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config carries all tunables of the payment core. Values come from the
// environment with an optional .env file, one key per field.
type Config struct {
	ListenAddr string
	LogLevel   string
	DBUrl      string

	EncryptionKey string

	OTPLength        int
	OTPExpireMinutes int
	DevOTPEcho       bool

	RiskThreshold       int
	HighAmountThreshold int64

	GatewaySuccessRate   float64
	GatewayMinDelay      time.Duration
	GatewayMaxDelay      time.Duration
	BankMinDelay         time.Duration
	BankMaxDelay         time.Duration
	MaxSingleTransaction int64
	DailyLimit           int64
}

// LoadConfig reads configuration from .env and the environment.
func LoadConfig() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found: %v", err)
	}

	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("OTP_LENGTH", 6)
	viper.SetDefault("OTP_EXPIRE_MINUTES", 5)
	viper.SetDefault("FRAUD_RISK_THRESHOLD", 2)
	viper.SetDefault("HIGH_AMOUNT_THRESHOLD", 500)
	viper.SetDefault("GATEWAY_SUCCESS_RATE", 0.95)
	viper.SetDefault("GATEWAY_MIN_DELAY_MS", 300)
	viper.SetDefault("GATEWAY_MAX_DELAY_MS", 500)
	viper.SetDefault("BANK_MIN_DELAY_MS", 200)
	viper.SetDefault("BANK_MAX_DELAY_MS", 500)
	viper.SetDefault("MAX_SINGLE_TRANSACTION", 10000)
	viper.SetDefault("DAILY_LIMIT", 25000)

	return &Config{
		ListenAddr:           viper.GetString("LISTEN_ADDR"),
		LogLevel:             viper.GetString("LOG_LEVEL"),
		DBUrl:                viper.GetString("DB_URL"),
		EncryptionKey:        viper.GetString("ENCRYPTION_KEY"),
		OTPLength:            viper.GetInt("OTP_LENGTH"),
		OTPExpireMinutes:     viper.GetInt("OTP_EXPIRE_MINUTES"),
		DevOTPEcho:           viper.GetBool("DEV_OTP_ECHO"),
		RiskThreshold:        viper.GetInt("FRAUD_RISK_THRESHOLD"),
		HighAmountThreshold:  viper.GetInt64("HIGH_AMOUNT_THRESHOLD"),
		GatewaySuccessRate:   viper.GetFloat64("GATEWAY_SUCCESS_RATE"),
		GatewayMinDelay:      time.Duration(viper.GetInt("GATEWAY_MIN_DELAY_MS")) * time.Millisecond,
		GatewayMaxDelay:      time.Duration(viper.GetInt("GATEWAY_MAX_DELAY_MS")) * time.Millisecond,
		BankMinDelay:         time.Duration(viper.GetInt("BANK_MIN_DELAY_MS")) * time.Millisecond,
		BankMaxDelay:         time.Duration(viper.GetInt("BANK_MAX_DELAY_MS")) * time.Millisecond,
		MaxSingleTransaction: viper.GetInt64("MAX_SINGLE_TRANSACTION"),
		DailyLimit:           viper.GetInt64("DAILY_LIMIT"),
	}
}
