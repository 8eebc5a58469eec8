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

// Package health runs liveness and readiness checks for the status daemon.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component works but cannot serve every action.
	StatusDegraded Status = "degraded"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs one check. It should return quickly.
type CheckFunc func(ctx context.Context) CheckResult

// Checker holds the registered readiness checks.
//
// Thread-safe: Yes.
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	checks    map[string]CheckFunc
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
	}
}

// RegisterCheck adds a check, replacing any check with the same name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// MarkStarted marks initialization complete.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// MarkNotStarted marks the daemon as not serving, e.g. during shutdown.
func (c *Checker) MarkNotStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// IsStarted reports whether MarkStarted has been called.
func (c *Checker) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Uptime returns how long the checker has existed.
func (c *Checker) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.startTime)
}

// Live reports that the process is serving. It only fails before startup.
func (c *Checker) Live(ctx context.Context) CheckResult {
	if !c.IsStarted() {
		return CheckResult{
			Name:    "liveness",
			Status:  StatusUnhealthy,
			Message: "not started",
		}
	}
	return CheckResult{
		Name:    "liveness",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("up %s", c.Uptime().Round(time.Second)),
	}
}

// Ready runs every registered check, sorted by name.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	sort.Strings(names)
	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		start := time.Now()
		result := checks[name](ctx)
		result.Latency = time.Since(start)
		if result.Name == "" {
			result.Name = name
		}
		results = append(results, result)
	}
	return results
}

// AggregateStatus is unhealthy if any result is, else degraded if any
// result is, else healthy.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// StorageCheck probes backend with an Exists call on probeKey.
func StorageCheck(backend storage.Backend, probeKey string) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if _, err := backend.Exists(probeKey); err != nil {
			return CheckResult{Name: "storage", Status: StatusUnhealthy, Error: err.Error()}
		}
		return CheckResult{Name: "storage", Status: StatusHealthy}
	}
}

// CapabilityCheck reports biometric capability. Missing hardware is
// unhealthy; any other non-ready capability is degraded.
func CapabilityCheck(capability func(ctx context.Context) types.Capability) CheckFunc {
	return func(ctx context.Context) CheckResult {
		c := capability(ctx)
		result := CheckResult{Name: "biometric", Message: c.String()}
		switch c {
		case types.CapabilityReady:
			result.Status = StatusHealthy
		case types.CapabilityNoHardware, types.CapabilityUnsupported:
			result.Status = StatusUnhealthy
		default:
			result.Status = StatusDegraded
		}
		return result
	}
}
