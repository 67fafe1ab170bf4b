package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Probes are the dependencies the health checker looks at. Nil fields are
// skipped; a nil Redis client means the mirror is disabled.
type Probes struct {
	SQLite      *sql.DB
	Redis       *goredis.Client
	Instruments func(ctx context.Context) (int, error)
	Session     func() string
	Breaker     func() string
	WSClients   func() int
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu     sync.RWMutex
	probes Probes

	SQLiteOK        bool      `json:"sqlite_ok"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	RedisEnabled    bool      `json:"redis_enabled"`
	RedisConnected  bool      `json:"redis_connected"`
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	BreakerState    string    `json:"breaker_state,omitempty"`
	SessionStatus   string    `json:"session_status"`
	Instruments     int       `json:"instruments"`
	WSClients       int       `json:"ws_clients"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a health status over probes.
func NewHealthStatus(probes Probes) *HealthStatus {
	return &HealthStatus{
		probes:       probes,
		RedisEnabled: probes.Redis != nil,
		StartedAt:    time.Now(),
	}
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the instrument database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// Refresh runs every configured probe once.
func (h *HealthStatus) Refresh(ctx context.Context) {
	p := h.probes
	if p.SQLite != nil {
		h.CheckSQLite(ctx, p.SQLite)
	}
	if p.Redis != nil {
		h.CheckRedis(ctx, p.Redis)
	}

	count := -1
	if p.Instruments != nil {
		if n, err := p.Instruments(ctx); err == nil {
			count = n
		}
	}

	h.mu.Lock()
	if count >= 0 {
		h.Instruments = count
	}
	if p.Session != nil {
		h.SessionStatus = p.Session()
	}
	if p.Breaker != nil {
		h.BreakerState = p.Breaker()
	}
	if p.WSClients != nil {
		h.WSClients = p.WSClients()
	}
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs Refresh immediately and then every interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		h.Refresh(probeCtx)
		cancel()
	}
	probe()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. SQLite down is unhealthy; a
// configured but unreachable Redis mirror only degrades.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if h.RedisEnabled && !h.RedisConnected {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		BreakerState    string  `json:"breaker_state,omitempty"`
		SessionStatus   string  `json:"session_status"`
		Instruments     int     `json:"instruments"`
		WSClients       int     `json:"ws_clients"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		BreakerState:    h.BreakerState,
		SessionStatus:   h.SessionStatus,
		Instruments:     h.Instruments,
		WSClients:       h.WSClients,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
