package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kaleho/amber-ant-sub001/internal/auth"
	"github.com/kaleho/amber-ant-sub001/internal/monitor"
	"go.uber.org/zap"
)

// OpsHandler — операторская поверхность: здоровье, алерты, боттлнеки.
// Все вызовы read-only и без побочных эффектов.
type OpsHandler struct {
	monitor   *monitor.Monitor
	detector  *monitor.Detector
	store     *monitor.Store
	blacklist *auth.Blacklist
	logger    *zap.Logger
}

func NewOpsHandler(m *monitor.Monitor, d *monitor.Detector, s *monitor.Store, bl *auth.Blacklist, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{
		monitor:   m,
		detector:  d,
		store:     s,
		blacklist: bl,
		logger:    logger.Named("ops-handler"),
	}
}

// Health отдает сводку монитора, состояние блэклиста и срез ресурсов.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, map[string]any{
		"performance": h.monitor.Summary(),
		"blacklist":   h.blacklist.Stats(ctx),
		"system":      h.store.SystemHealth(ctx),
	})
}

// Alerts — история алертов за ?hours= (по умолчанию 24).
func (h *OpsHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid hours parameter", http.StatusBadRequest)
			return
		}
		hours = parsed
	}

	alerts := h.monitor.RecentAlerts(time.Duration(hours) * time.Hour)
	writeJSON(w, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// Bottlenecks запускает низкоуровневые эвристики по текущему окну метрик.
func (h *OpsHandler) Bottlenecks(w http.ResponseWriter, r *http.Request) {
	found := h.detector.DetectAll()
	writeJSON(w, map[string]any{
		"bottlenecks": found,
		"count":       len(found),
	})
}

// BlacklistStats — интроспекция блэклиста.
func (h *OpsHandler) BlacklistStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.blacklist.Stats(r.Context()))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
