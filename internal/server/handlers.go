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

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jeremyhahn/go-pinvault/pkg/correlation"
	"github.com/jeremyhahn/go-pinvault/pkg/health"
	"github.com/jeremyhahn/go-pinvault/pkg/logging"
	"github.com/jeremyhahn/go-pinvault/pkg/ratelimit"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
)

var (
	errNotFound         = errors.New("not found")
	errMethodNotAllowed = errors.New("method not allowed")
	errInternal         = errors.New("internal server error")
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the body of /healthz and /readyz
type HealthResponse struct {
	Status    health.Status        `json:"status"`
	Version   string               `json:"version"`
	Checks    []health.CheckResult `json:"checks,omitempty"`
	RateLimit *ratelimit.Stats     `json:"rate_limit,omitempty"`
}

// StatusResponse is the body of /status
type StatusResponse struct {
	Capability        types.Capability `json:"capability"`
	BiometricsEnabled bool             `json:"biometrics_enabled"`
	PINStored         bool             `json:"pin_stored"`
	LockoutRemaining  float64          `json:"lockout_remaining_seconds"`
	CheckedAt         time.Time        `json:"checked_at"`
}

type handlers struct {
	status  StatusProvider
	lockout LockoutProvider
	health  *health.Checker
	limiter *ratelimit.Limiter
	version string
	logger  *logging.Logger
}

func (h *handlers) live(w http.ResponseWriter, r *http.Request) {
	result := h.health.Live(r.Context())
	writeJSON(w, httpStatus(result.Status), HealthResponse{Status: result.Status, Version: h.version})
}

// ready returns 503 only when a check is unhealthy; degraded still serves.
func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	results := h.health.Ready(r.Context())
	status := health.AggregateStatus(results)
	resp := HealthResponse{Status: status, Version: h.version, Checks: results}
	if h.limiter != nil && h.limiter.IsEnabled() {
		stats := h.limiter.Stats()
		resp.RateLimit = &stats
	}
	writeJSON(w, httpStatus(status), resp)
}

func httpStatus(status health.Status) int {
	if status == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (h *handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.Status(r.Context())
	if err != nil {
		h.logger.Errorf("status: request %s: %v", correlation.RequestID(r.Context()), err)
		writeRequestError(w, r, errInternal, http.StatusInternalServerError)
		return
	}

	resp := StatusResponse{
		Capability:        status.Capability,
		BiometricsEnabled: status.BiometricsEnabled,
		PINStored:         status.PINStored,
		CheckedAt:         time.Now().UTC(),
	}
	if h.lockout != nil {
		resp.LockoutRemaining = h.lockout.LockoutRemaining().Seconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error, code int) {
	writeJSON(w, code, ErrorResponse{Error: err.Error(), Code: code})
}

func writeRequestError(w http.ResponseWriter, r *http.Request, err error, code int) {
	writeJSON(w, code, ErrorResponse{Error: err.Error(), Code: code, RequestID: correlation.RequestID(r.Context())})
}
