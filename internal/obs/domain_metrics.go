package obs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// DiscountEvaluationsTotal counts cart line evaluation outcomes.
	DiscountEvaluationsTotal *prometheus.CounterVec
	// DiscountAmountTotal accumulates the monetary value of emitted discounts.
	DiscountAmountTotal prometheus.Counter
	// TierRecordsTotal counts tier record parse outcomes by status.
	TierRecordsTotal *prometheus.CounterVec
	// DiscountRunLatency records function run latency in milliseconds.
	DiscountRunLatency prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		DiscountEvaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_evaluations_total",
			Help:      "Count of cart line discount evaluations by outcome.",
		}, []string{"result"})
		DiscountAmountTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_amount_total",
			Help:      "Sum of discount amounts emitted to the commerce platform.",
		})
		TierRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_records_total",
			Help:      "Count of tier record parse outcomes by status.",
		}, []string{"status"})
		DiscountRunLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discount_run_duration_ms",
			Help:      "Latency of discount function runs in milliseconds.",
			Buckets:   []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500},
		})

		DiscountEvaluationsTotal = register(reg, DiscountEvaluationsTotal)
		DiscountAmountTotal = register(reg, DiscountAmountTotal)
		TierRecordsTotal = register(reg, TierRecordsTotal)
		DiscountRunLatency = register(reg, DiscountRunLatency)
	})
}

// ObserveEvaluation records one line outcome. It is a no-op until metrics are registered.
func ObserveEvaluation(result string) {
	if DiscountEvaluationsTotal != nil {
		DiscountEvaluationsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveDiscountAmount adds an emitted discount to the running total.
func ObserveDiscountAmount(amount float64) {
	if DiscountAmountTotal != nil && amount > 0 {
		DiscountAmountTotal.Add(amount)
	}
}

// ObserveTierRecord records a tier record parse status.
func ObserveTierRecord(status string) {
	if TierRecordsTotal != nil {
		TierRecordsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveRunLatency records a discount function run duration.
func ObserveRunLatency(ms float64) {
	if DiscountRunLatency != nil {
		DiscountRunLatency.Observe(ms)
	}
}

// register adds c to reg, handing back the collector already registered under
// the same descriptor when there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
	return c
}
