package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	_ "github.com/mattn/go-sqlite3"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDispatch("ka10001", "ok", time.Second)
	m.ObserveSession(1, "active")
	m.ObserveReplace(10, time.Millisecond)
	m.CacheWriteFailed()
	m.BreakerChanged(1, true)
	m.ObserveInvoke("login", "http")
	m.WSClientDelta(1)
}

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := NewMetrics()
	// A second instance must not collide with the first.
	_ = NewMetrics()

	m.ObserveDispatch("ka10001", "ok", 20*time.Millisecond)
	m.ObserveDispatch("ka10001", "remote_api", 0)
	m.ObserveSession(2, "revoked")
	m.BreakerChanged(1, true)

	if got := testutil.ToFloat64(m.DispatchTotal.WithLabelValues("ka10001", "ok")); got != 1 {
		t.Errorf("dispatch ok = %v", got)
	}
	if got := testutil.ToFloat64(m.SessionState); got != 2 {
		t.Errorf("session state = %v", got)
	}
	if got := testutil.ToFloat64(m.RedisCircuitBreakerTrips); got != 1 {
		t.Errorf("trips = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `stockdesk_dispatch_total{outcome="remote_api",query="ka10001"} 1`) {
		t.Errorf("metrics output missing dispatch counter:\n%s", body)
	}
}

func TestHealth_Refresh(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	h := NewHealthStatus(Probes{
		SQLite:      db,
		Instruments: func(context.Context) (int, error) { return 42, nil },
		Session:     func() string { return "active" },
		WSClients:   func() int { return 3 },
	})
	h.Refresh(context.Background())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "healthy" || got["instruments"] != float64(42) || got["session_status"] != "active" || got["ws_clients"] != float64(3) {
		t.Errorf("unexpected health: %v", got)
	}
	if got["redis_enabled"] != false {
		t.Errorf("redis should be disabled: %v", got)
	}
}

func TestHealth_SQLiteDownIsUnhealthy(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	h := NewHealthStatus(Probes{SQLite: db})
	h.Refresh(context.Background())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
