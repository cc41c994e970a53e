package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Binding states exported by the binding state gauge.
var bindingStates = []string{"absent", "provisioned", "stale", "destroying"}

var (
	// Pass metrics
	passTotal    *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	actionsTotal *prometheus.CounterVec

	// Provisioning metrics
	provisioningDuration *prometheus.HistogramVec
	provisioningErrors   *prometheus.CounterVec

	// Spec state
	currentEpoch *prometheus.GaugeVec
	bindingState *prometheus.GaugeVec
	nextRotation *prometheus.GaugeVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// Metrics records reconciliation metrics. The zero value is usable; nothing
// is recorded until InitMetrics has run.
type Metrics struct{}

// New creates a Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

// InitMetrics registers all collectors with the default registry.
// Safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		passTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credrotate_pass_total",
				Help: "Total number of reconciliation passes",
			},
			[]string{"spec", "status"},
		)

		passDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credrotate_pass_duration_seconds",
				Help:    "Duration of reconciliation passes in seconds",
				Buckets: []float64{0.1, 1, 5, 30, 120, 600},
			},
			[]string{"spec"},
		)

		actionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credrotate_actions_total",
				Help: "Total number of plan actions applied",
			},
			[]string{"spec", "action"},
		)

		provisioningDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credrotate_provisioning_call_duration_seconds",
				Help:    "Duration of provisioning API calls in seconds",
				Buckets: []float64{0.05, 0.25, 1, 5, 30, 120},
			},
			[]string{"backend", "op"},
		)

		provisioningErrors = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credrotate_provisioning_errors_total",
				Help: "Total number of failed provisioning API calls",
			},
			[]string{"backend", "op"},
		)

		currentEpoch = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "credrotate_epoch",
				Help: "Current rotation epoch id",
			},
			[]string{"spec"},
		)

		bindingState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "credrotate_binding_state",
				Help: "Binding state of the spec (1 for the current state)",
			},
			[]string{"spec", "state"},
		)

		nextRotation = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "credrotate_next_rotation_timestamp_seconds",
				Help: "Unix time at which the current epoch expires",
			},
			[]string{"spec"},
		)

		metricsRegistered = true
	})
}

// RecordPass records the outcome of one reconciliation pass.
func (m *Metrics) RecordPass(spec, status string, duration time.Duration) {
	if !metricsRegistered {
		return
	}
	passTotal.WithLabelValues(spec, status).Inc()
	passDuration.WithLabelValues(spec).Observe(duration.Seconds())
}

// RecordAction records an applied plan action.
func (m *Metrics) RecordAction(spec, action string) {
	if !metricsRegistered {
		return
	}
	actionsTotal.WithLabelValues(spec, action).Inc()
}

// ObserveProvisioningCall records a provisioning API call.
func (m *Metrics) ObserveProvisioningCall(backend, op string, duration time.Duration, err error) {
	if !metricsRegistered {
		return
	}
	provisioningDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
	if err != nil {
		provisioningErrors.WithLabelValues(backend, op).Inc()
	}
}

// RecordState exports the epoch and binding state of a spec.
func (m *Metrics) RecordState(spec string, epochID uint64, state string, nextDue time.Time) {
	if !metricsRegistered {
		return
	}
	currentEpoch.WithLabelValues(spec).Set(float64(epochID))
	for _, s := range bindingStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		bindingState.WithLabelValues(spec, s).Set(value)
	}
	if !nextDue.IsZero() {
		nextRotation.WithLabelValues(spec).Set(float64(nextDue.Unix()))
	}
}

// GetPassTotal returns the pass counter for testing.
func GetPassTotal() *prometheus.CounterVec {
	return passTotal
}

// GetActionsTotal returns the action counter for testing.
func GetActionsTotal() *prometheus.CounterVec {
	return actionsTotal
}

// GetProvisioningErrors returns the provisioning error counter for testing.
func GetProvisioningErrors() *prometheus.CounterVec {
	return provisioningErrors
}

// GetBindingState returns the binding state gauge for testing.
func GetBindingState() *prometheus.GaugeVec {
	return bindingState
}

// GetCurrentEpoch returns the epoch gauge for testing.
func GetCurrentEpoch() *prometheus.GaugeVec {
	return currentEpoch
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
