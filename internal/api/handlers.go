package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nrgchamp/trending/internal/broadcast"
	"github.com/nrgchamp/trending/internal/engine"
	"github.com/nrgchamp/trending/internal/model"
)

var errNotPositive = errors.New("value must be positive")

type handlers struct {
	engine      *engine.Engine
	broadcaster *broadcast.ChangeBroadcaster
	log         *slog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type topKResponse struct {
	Window     string              `json:"window"`
	Category   string              `json:"category"`
	Generation uint64              `json:"generation"`
	TakenAt    time.Time           `json:"taken_at"`
	Entries    []model.RankedEntry `json:"entries"`
}

func (h *handlers) getTopK(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	category := r.URL.Query().Get("category")
	if category == "" {
		category = string(model.AllCategory)
	}
	if window == "" {
		h.respondError(w, http.StatusBadRequest, "window query parameter is required")
		return
	}

	snap, ok := h.engine.Snapshot(window, model.Category(category))
	if !ok {
		h.respondError(w, http.StatusNotFound, "unknown window/category board")
		return
	}

	limit := len(snap.Entries)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil && n < limit {
			limit = n
		}
	}

	resp := topKResponse{
		Window:     snap.Window,
		Category:   string(snap.Category),
		Generation: snap.Generation,
		TakenAt:    snap.TakenAt,
		Entries:    snap.Entries[:limit],
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("topk_encode_failed", slog.Any("err", err))
	}
}

func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	category := r.URL.Query().Get("category")
	if category == "" {
		category = string(model.AllCategory)
	}
	if window == "" {
		h.respondError(w, http.StatusBadRequest, "window query parameter is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket_upgrade_failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	if err := h.broadcaster.ServeWebSocket(r.Context(), conn, window, model.Category(category)); err != nil {
		h.log.Debug("stream_closed", slog.Any("err", err))
	}
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func readyz(health *HealthState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !health.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

func (h *handlers) respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errNotPositive
	}
	return n, nil
}
