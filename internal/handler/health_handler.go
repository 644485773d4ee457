package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

// Health returns basic health check
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// BrokerState reports whether the message broker connection is down.
type BrokerState interface {
	IsClosed() bool
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    string         `json:"status"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (r HealthCheckResult) healthy() bool {
	return r.Status == "up" || r.Status == "disabled"
}

// Ready checks the database and, when configured, the broker. A nil broker
// means events are delivered in-process and is reported as "disabled".
func Ready(db *sql.DB, broker BrokerState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dbResult := make(chan HealthCheckResult, 1)
		go func() {
			dbResult <- checkDatabase(ctx, db)
		}()
		brokerCheck := checkBroker(broker)
		dbCheck := <-dbResult

		response := map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks": map[string]HealthCheckResult{
				"database": dbCheck,
				"broker":   brokerCheck,
			},
		}

		status := http.StatusOK
		response["status"] = "ready"
		if !dbCheck.healthy() || !brokerCheck.healthy() {
			status = http.StatusServiceUnavailable
			response["status"] = "not_ready"
		}

		writeJSON(w, status, response)
	}
}

func checkDatabase(ctx context.Context, db *sql.DB) HealthCheckResult {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	if err != nil {
		return HealthCheckResult{
			Status:    "down",
			LatencyMs: latency.Milliseconds(),
			Error:     err.Error(),
		}
	}

	stats := db.Stats()
	return HealthCheckResult{
		Status:    "up",
		LatencyMs: latency.Milliseconds(),
		Metadata: map[string]any{
			"connections_open":   stats.OpenConnections,
			"connections_in_use": stats.InUse,
			"connections_idle":   stats.Idle,
			"max_open":           stats.MaxOpenConnections,
		},
	}
}

func checkBroker(broker BrokerState) HealthCheckResult {
	if broker == nil {
		return HealthCheckResult{Status: "disabled"}
	}
	if broker.IsClosed() {
		return HealthCheckResult{Status: "down", Error: "connection closed"}
	}
	return HealthCheckResult{Status: "up"}
}
