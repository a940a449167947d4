package ca

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts issuance and verification outcomes. A nil *Metrics
// records nothing.
type Metrics struct {
	// issuanceTotal labels: variant, operation (create_csr, self_signed,
	// sign_cert), result (success, validation_error, configuration_error,
	// issuance_error)
	issuanceTotal *prometheus.CounterVec

	// issuanceDuration buckets: 1ms .. 30s, ACME orders included
	issuanceDuration *prometheus.HistogramVec

	// verificationTotal labels: result (valid, invalid, error), reason
	verificationTotal *prometheus.CounterVec
}

// NewMetrics registers the certengine collectors on reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		issuanceTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certengine_issuance_total",
				Help: "Total number of CSR and certificate operations grouped by variant, operation and result",
			},
			[]string{"variant", "operation", "result"},
		),
		issuanceDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "certengine_issuance_duration_seconds",
				Help:    "Duration of CSR and certificate operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"variant", "operation"},
		),
		verificationTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certengine_verification_total",
				Help: "Total number of chain verifications grouped by result and reason",
			},
			[]string{"result", "reason"},
		),
	}
}

func (m *Metrics) observeIssuance(variant Variant, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.issuanceTotal.WithLabelValues(string(variant), op, resultLabel(err)).Inc()
	m.issuanceDuration.WithLabelValues(string(variant), op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeVerification(res *VerificationResult, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.verificationTotal.WithLabelValues("error", "").Inc()
	case res.Valid:
		m.verificationTotal.WithLabelValues("valid", "").Inc()
	default:
		m.verificationTotal.WithLabelValues("invalid", string(res.Reason)).Inc()
	}
}

func resultLabel(err error) string {
	switch err.(type) {
	case nil:
		return "success"
	case *ValidationError:
		return "validation_error"
	case *ConfigurationError:
		return "configuration_error"
	}
	return "issuance_error"
}
