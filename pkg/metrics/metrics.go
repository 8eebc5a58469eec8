// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pinvault.
//
// go-pinvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for go-pinvault.
// It exposes counters and histograms for keystore operations, biometric
// challenges and secret store I/O, plus the HTTP and resource gauges served
// by the status daemon.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all pinvault metrics
	Namespace = "pinvault"

	// Label names
	LabelOperation  = "operation"
	LabelComponent  = "component"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelOutcome    = "outcome"
	LabelCapability = "capability"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Components
	ComponentKeystore    = "keystore"
	ComponentBiometric   = "biometric"
	ComponentSecretStore = "secretstore"
	ComponentVault       = "vault"

	// Operation names
	OpGenerate   = "generate"
	OpLoad       = "load"
	OpDelete     = "delete"
	OpEncrypt    = "encrypt"
	OpDecrypt    = "decrypt"
	OpAuthorize  = "authorize"
	OpPut        = "put"
	OpGet        = "get"
	OpEnroll     = "enroll"
	OpChallenge  = "challenge"
	OpSavePIN    = "save_pin"
	OpRevealPIN  = "reveal_pin"
	OpUnlock     = "unlock"
	OpCapability = "capability"
)

var (
	// OperationsTotal counts operations by name, component and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of pinvault operations by type, component, and status",
		},
		[]string{LabelOperation, LabelComponent, LabelStatus},
	)

	// OperationDuration tracks operation latency in seconds. Challenges
	// include the time the user spends at the sensor.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of pinvault operations in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{LabelOperation, LabelComponent},
	)

	// ErrorsTotal counts errors by operation, component and error type
	// (e.g. "integrity", "consumed", "lockout").
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, component, and error type",
		},
		[]string{LabelOperation, LabelComponent, LabelErrorType},
	)

	// PromptsTotal counts finished biometric prompts by terminal outcome.
	PromptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "biometric",
			Name:      "prompts_total",
			Help:      "Total number of biometric prompts by terminal outcome",
		},
		[]string{LabelOutcome},
	)

	// RejectedSamplesTotal counts biometric samples that did not match.
	RejectedSamplesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "biometric",
			Name:      "rejected_samples_total",
			Help:      "Total number of rejected biometric samples",
		},
	)

	// LockoutsTotal counts sensor lockouts caused by too many rejected samples.
	LockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "biometric",
			Name:      "lockouts_total",
			Help:      "Total number of biometric lockouts",
		},
	)

	// Capability is 1 for the most recently observed capability and 0 otherwise.
	Capability = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "biometric",
			Name:      "capability",
			Help:      "Most recently observed biometric capability (1 = current)",
		},
		[]string{LabelCapability},
	)

	// HTTPRequestsTotal counts status daemon requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks status daemon request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current number of goroutines in the daemon.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// Uptime tracks the daemon uptime in seconds since startup.
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "uptime_seconds",
			Help:      "Daemon uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

// knownCapabilities mirrors the names of types.Capability. It is kept here
// so metrics stays free of go-pinvault imports.
var knownCapabilities = []string{
	"unknown",
	"ready",
	"no_hardware",
	"hardware_unavailable",
	"none_enrolled",
	"security_update_required",
	"unsupported",
}

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordOperation records an operation with its duration and status.
//
// Example:
//
//	start := time.Now()
//	err := store.Put(key, msg)
//	metrics.RecordOperation(metrics.OpPut, metrics.ComponentSecretStore,
//	    metrics.StatusOf(err), time.Since(start).Seconds())
func RecordOperation(operation, component, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, component, status).Inc()
	OperationDuration.WithLabelValues(operation, component).Observe(duration)
}

// RecordError records an error event with a specific error type.
func RecordError(operation, component, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, component, errorType).Inc()
}

// StatusOf maps an error to StatusSuccess or StatusError.
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordPrompt records the terminal outcome of a biometric prompt.
func RecordPrompt(outcome string) {
	if !enabled.Load() {
		return
	}
	PromptsTotal.WithLabelValues(outcome).Inc()
}

// RecordRejectedSample records a biometric sample that did not match.
func RecordRejectedSample() {
	if !enabled.Load() {
		return
	}
	RejectedSamplesTotal.Inc()
}

// RecordLockout records a sensor lockout.
func RecordLockout() {
	if !enabled.Load() {
		return
	}
	LockoutsTotal.Inc()
}

// SetCapability marks capability as the current one.
func SetCapability(capability string) {
	if !enabled.Load() {
		return
	}
	for _, name := range knownCapabilities {
		Capability.WithLabelValues(name).Set(0)
	}
	Capability.WithLabelValues(capability).Set(1)
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
