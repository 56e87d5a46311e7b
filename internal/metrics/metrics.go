// Package metrics exposes Prometheus counters for the payment pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PaymentsInitiated counts payment attempts entering the pipeline.
	PaymentsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "payments_initiated_total",
		Help:      "Payment attempts entering the pipeline.",
	})

	// PaymentsSettled counts terminal settlement outcomes by result.
	PaymentsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "payments_settled_total",
		Help:      "Terminal settlement outcomes.",
	}, []string{"outcome"}) // approved, declined, failed

	// FraudBlocks counts attempts vetoed by the risk engine.
	FraudBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "fraud_blocks_total",
		Help:      "Payment attempts vetoed by the risk engine.",
	})

	// StockRaceCancellations counts settlements aborted by concurrent stock
	// depletion, each one a manual refund obligation.
	StockRaceCancellations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "stock_race_cancellations_total",
		Help:      "Settlements aborted because stock depleted after authorization.",
	})

	// OTPFailures counts rejected OTP submissions by reason.
	OTPFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Name:      "otp_failures_total",
		Help:      "Rejected OTP submissions.",
	}, []string{"reason"}) // expired, invalid, exhausted
)
