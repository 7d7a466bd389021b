package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/hybridgroup/mjpeg"

	"gatecam/broadcast"
	"gatecam/counting"
	"gatecam/detection"
	"gatecam/notify"
	"gatecam/signaling"
	"gatecam/store"
)

// serverDeps are the components the HTTP surface exposes
type serverDeps struct {
	counter  *counting.LineCounter
	hub      *broadcast.Hub
	notifier *notify.Notifier
	store    *store.Store
	peers    *signaling.Manager
	preview  *mjpeg.Stream
	logger   *DebugLogger
	stats    func() PipelineStats

	modelsDir    string
	currentModel string
	staticDir    string
}

// tokenRequest is the body of /subscribe and /unsubscribe
type tokenRequest struct {
	Token string `json:"token"`
}

// newServer builds the HTTP mux. Every handler is wrapped with permissive
// CORS because the browser UI may be served from another origin during
// development.
func newServer(deps *serverDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/offer", deps.handleOffer)
	mux.HandleFunc("/ws/data", deps.hub.ServeWS)
	mux.HandleFunc("/subscribe", deps.handleSubscribe)
	mux.HandleFunc("/unsubscribe", deps.handleUnsubscribe)
	mux.HandleFunc("/models", deps.handleModels)
	mux.HandleFunc("/api/counts", deps.handleCounts)
	mux.HandleFunc("/api/reset", deps.handleReset)
	mux.HandleFunc("/api/stats", deps.handleStats)
	mux.HandleFunc("/api/debug", deps.handleDebug)
	if deps.preview != nil {
		mux.Handle("/preview", deps.preview)
	}

	if deps.staticDir != "" {
		if _, err := os.Stat(deps.staticDir); err == nil {
			mux.Handle("/", http.FileServer(http.Dir(deps.staticDir)))
		}
	}

	return allowCORS(mux)
}

func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleOffer negotiates a WebRTC peer connection from a browser offer
func (d *serverDeps) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var offer signaling.Offer
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// All peers share one pipeline, so a per-offer model request cannot be
	// honored mid-run; surface the mismatch instead of silently ignoring it.
	if offer.Model != "" && offer.Model != d.currentModel {
		debugMsg("SERVER", fmt.Sprintf("Client requested model %q, active model is %q", offer.Model, d.currentModel))
	}

	answer, err := d.peers.HandleOffer(offer)
	if err != nil {
		debugMsg("SERVER", fmt.Sprintf("Offer rejected: %v", err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (d *serverDeps) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	d.handleTopic(w, r, d.notifier.Subscribe)
}

func (d *serverDeps) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	d.handleTopic(w, r, d.notifier.Unsubscribe)
}

// handleTopic is the shared body of /subscribe and /unsubscribe
func (d *serverDeps) handleTopic(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, token string) error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}

	if err := op(r.Context(), req.Token); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"message": fmt.Sprintf("Error: %v", err),
			"count":   0,
		})
		return
	}
	message := "Success"
	if d.notifier.MockMode() {
		message = "Success (Mock)"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": message, "count": 1})
}

// handleModels lists the loadable models and which one is active
func (d *serverDeps) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := detection.ListModels(d.modelsDir)
	if err != nil {
		// Missing models directory means an empty list, mirroring how the
		// UI treats a fresh install.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"models":  []string{},
			"current": d.currentModel,
		})
		return
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":  names,
		"current": d.currentModel,
	})
}

// handleCounts returns the live in/out totals
func (d *serverDeps) handleCounts(w http.ResponseWriter, r *http.Request) {
	in, out := d.counter.Counts()
	writeJSON(w, http.StatusOK, broadcast.CountUpdate{InCount: in, OutCount: out})
}

// handleReset zeroes the live counters and tells every data client
func (d *serverDeps) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	d.counter.Reset()
	d.hub.BroadcastCounts(0, 0)
	writeJSON(w, http.StatusOK, broadcast.CountUpdate{})
}

// handleStats returns lifetime totals from the database plus processing
// counters
func (d *serverDeps) handleStats(w http.ResponseWriter, r *http.Request) {
	dbStats, err := d.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"total_in":  dbStats.TotalIn,
		"total_out": dbStats.TotalOut,
	}
	if d.stats != nil {
		resp["pipeline"] = d.stats()
	}
	if d.peers != nil {
		resp["peers"] = d.peers.PeerCount()
	}
	resp["ws_clients"] = d.hub.ClientCount()
	writeJSON(w, http.StatusOK, resp)
}

// handleDebug returns the recent captured log lines
func (d *serverDeps) handleDebug(w http.ResponseWriter, r *http.Request) {
	if d.logger == nil {
		writeJSON(w, http.StatusOK, []DebugMessage{})
		return
	}
	writeJSON(w, http.StatusOK, d.logger.Recent())
}
