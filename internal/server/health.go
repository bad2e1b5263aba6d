// Package server implements health check handlers.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jittakal/kafspill/pkg/spill"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// EngineHealthChecker reports engine health. Readiness runs the engine's
// byte-accounting consistency check: a mismatch between the maintained
// counter and the recomputed sum marks the process not ready, since every
// spill decision made from a corrupt counter is suspect.
//
// The engine is single-writer, so the checker never calls it directly from
// handler goroutines. The ingest loop refreshes the snapshot via Observe
// and the handlers read the published copy.
type EngineHealthChecker struct {
	consuming atomic.Bool
	snapshot  atomic.Pointer[engineSnapshot]
}

type engineSnapshot struct {
	bufferedBytes  int64
	openBuffers    int
	recordsWritten uint64
	spills         uint64
	consistent     bool
}

// NewEngineHealthChecker creates a health checker with an empty snapshot.
func NewEngineHealthChecker() *EngineHealthChecker {
	c := &EngineHealthChecker{}
	c.snapshot.Store(&engineSnapshot{consistent: true})
	return c
}

// SetConsuming records whether the ingest loop is attached to Kafka.
func (c *EngineHealthChecker) SetConsuming(v bool) {
	c.consuming.Store(v)
}

// Observe refreshes the published snapshot from the engine. Must be called
// from the engine's writer goroutine.
func (c *EngineHealthChecker) Observe(engine spill.Engine) {
	stats := engine.Stats()
	_, err := engine.FilledBytes()

	c.snapshot.Store(&engineSnapshot{
		bufferedBytes:  stats.BufferedBytes,
		openBuffers:    stats.OpenBuffers,
		recordsWritten: stats.RecordsWritten,
		spills:         stats.Spills,
		consistent:     err == nil,
	})
}

// Liveness reports whether the process should keep running.
func (c *EngineHealthChecker) Liveness() bool {
	return true
}

// Readiness reports whether the pipeline can handle traffic.
func (c *EngineHealthChecker) Readiness(ctx context.Context) bool {
	return c.consuming.Load() && c.snapshot.Load().consistent
}

// GetStatus returns a snapshot of engine state for the readiness payload.
func (c *EngineHealthChecker) GetStatus() map[string]string {
	snap := c.snapshot.Load()

	accounting := "consistent"
	if !snap.consistent {
		accounting = "inconsistent"
	}

	return map[string]string{
		"consuming":       strconv.FormatBool(c.consuming.Load()),
		"accounting":      accounting,
		"buffered_bytes":  strconv.FormatInt(snap.bufferedBytes, 10),
		"open_buffers":    strconv.Itoa(snap.openBuffers),
		"records_written": strconv.FormatUint(snap.recordsWritten, 10),
		"spills":          strconv.FormatUint(snap.spills, 10),
	}
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode liveness response", "error", err)
		}
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// Readiness probes indicate if the application can handle traffic.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode readiness response", "error", err)
		}
	}
}
