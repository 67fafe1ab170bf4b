package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// The desk listens on loopback for a local presentation layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const maxInvokeBody = 1 << 20

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// Routes are the handlers mounted by RegisterRoutes. Health and Metrics are
// optional.
type Routes struct {
	Service *Service
	Hub     *Hub
	Health  http.Handler
	Metrics http.Handler
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, rt Routes) {
	svc := rt.Service

	// WebSocket invoke channel
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			svc.log.Warn("ws upgrade error", "err", err)
			return
		}
		rt.Hub.HandleWSRequest(conn)
	})

	// REST: invoke one operation
	mux.HandleFunc("/invoke", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}

		var req Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInvokeBody)).Decode(&req); err != nil || req.Op == "" {
			http.Error(w, `{"error":"invalid JSON, expected {\"op\",\"args\"}"}`, http.StatusBadRequest)
			return
		}

		svc.metrics.ObserveInvoke(req.Op, "http")
		result, err := svc.Invoke(r.Context(), req.Op, req.Args)
		json.NewEncoder(w).Encode(NewResponse(req.ID, result, err))
	})

	// REST: registry listing
	mux.HandleFunc("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Endpoints(svc.dispatcher.Registry()))
	})

	if rt.Health != nil {
		mux.Handle("/healthz", rt.Health)
	}
	if rt.Metrics != nil {
		mux.Handle("/metrics", rt.Metrics)
	}
}
