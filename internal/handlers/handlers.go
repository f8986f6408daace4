// Package handlers содержит HTTP обработчики панели телеметрии
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"telemetry-dashboard/internal/analytics"
	"telemetry-dashboard/internal/buffer"
	"telemetry-dashboard/internal/export"
	"telemetry-dashboard/internal/history"
	"telemetry-dashboard/internal/ingest"
	"telemetry-dashboard/internal/metrics"
	"telemetry-dashboard/internal/models"
)

const pingTimeout = 2 * time.Second

// SourceStatus состояние канала приема, реализуется ingest.Channel
type SourceStatus interface {
	State() ingest.State
	Loading() bool
	Reconnects() int64
	URL() string
}

// Pinger хранилище, умеющее проверять соединение
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	buffer    *buffer.Buffer
	analyzer  *analytics.Analyzer
	source    SourceStatus
	store     history.Store
	hub       *Hub
	logger    *slog.Logger
	startTime time.Time
}

// NewHandler создает новый обработчик. store может быть nil.
func NewHandler(buf *buffer.Buffer, analyzer *analytics.Analyzer, source SourceStatus, store history.Store, hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		buffer:    buf,
		analyzer:  analyzer,
		source:    source,
		store:     store,
		hub:       hub,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Hub возвращает концентратор живого потока
func (h *Handler) Hub() *Hub {
	return h.hub
}

// LiveHandler обрабатывает GET /api/live - текущие показания
func (h *Handler) LiveHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/live", r.Method))
	defer timer.ObserveDuration()

	rec, ok := h.buffer.Current()
	response := models.LiveResponse{
		Readouts: make([]models.ChannelReadout, 0, models.NumChannels),
	}
	if ok {
		received := rec.Received
		response.ReceivedAt = &received
	}
	for _, c := range models.Channels() {
		reading := rec.Get(c)
		response.Readouts = append(response.Readouts, models.ChannelReadout{
			Channel: c.String(),
			Title:   c.Title(),
			Unit:    c.Unit(),
			Value:   reading,
			Display: reading.Format(c.Unit()),
		})
	}

	metrics.RequestsTotal.WithLabelValues("/api/live", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// HistoryHandler обрабатывает GET /api/history - полный временной ряд
func (h *Handler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/history", r.Method))
	defer timer.ObserveDuration()

	metrics.RequestsTotal.WithLabelValues("/api/history", r.Method, "200").Inc()
	h.respondJSON(w, h.buffer.Snapshot(), http.StatusOK)
}

// StatsHandler обрабатывает GET /api/stats - скользящая статистика по каналам
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/stats", r.Method))
	defer timer.ObserveDuration()

	metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))

	response := map[string]interface{}{
		"timestamp": time.Now(),
		"channels":  h.analyzer.GetStats(),
		"thresholds": map[string]float64{
			"anomaly_z_score": analytics.ZScoreThreshold,
			"window_size":     float64(analytics.WindowSize),
		},
	}

	metrics.RequestsTotal.WithLabelValues("/api/stats", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// StatusHandler обрабатывает GET /api/status - состояние канала приема
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/status", r.Method))
	defer timer.ObserveDuration()

	response := models.StatusResponse{
		State:         h.source.State().String(),
		Loading:       h.source.Loading(),
		SourceURL:     h.source.URL(),
		HistoryLength: h.buffer.Len(),
		Reconnects:    h.source.Reconnects(),
	}

	metrics.RequestsTotal.WithLabelValues("/api/status", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// ResetHandler обрабатывает POST /api/reset - очистка истории и зеркала
func (h *Handler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/reset", r.Method))
	defer timer.ObserveDuration()

	if r.Method != http.MethodPost {
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		metrics.RequestsTotal.WithLabelValues("/api/reset", r.Method, "405").Inc()
		return
	}

	// Сбой зеркала уже залогирован буфером, очистка в памяти выполнена
	if err := h.buffer.Reset(r.Context()); err != nil {
		h.logger.Warn("history reset not mirrored", "error", err)
	}
	h.analyzer.Reset()

	metrics.RequestsTotal.WithLabelValues("/api/reset", r.Method, "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// CSVHandler обрабатывает GET /export/csv - выгрузка таблицы
func (h *Handler) CSVHandler(w http.ResponseWriter, r *http.Request) {
	h.serveExport(w, r, "/export/csv", "csv", "text/csv; charset=utf-8", func(buf *bytes.Buffer, s models.Series) error {
		return export.WriteCSV(buf, s)
	})
}

// PDFHandler обрабатывает GET /export/pdf - выгрузка графиков по каналам
func (h *Handler) PDFHandler(w http.ResponseWriter, r *http.Request) {
	h.serveExport(w, r, "/export/pdf", "pdf", "application/pdf", func(buf *bytes.Buffer, s models.Series) error {
		return export.WritePDF(buf, s, export.PDFOptions{})
	})
}

// ChartsHandler обрабатывает GET /charts - страница графиков
func (h *Handler) ChartsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/charts", r.Method))
	defer timer.ObserveDuration()

	var buf bytes.Buffer
	if err := export.WriteChartPage(&buf, h.buffer.Snapshot()); err != nil {
		h.logger.Error("chart render failed", "error", err)
		h.respondError(w, "Failed to render charts: "+err.Error(), http.StatusInternalServerError)
		metrics.RequestsTotal.WithLabelValues("/charts", r.Method, "500").Inc()
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
	metrics.RequestsTotal.WithLabelValues("/charts", r.Method, "200").Inc()
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	historyStatus := "disabled"
	if h.store != nil {
		historyStatus = "ok"
		if p, ok := h.store.(Pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			historyStatus = "connected"
			if p.Ping(ctx) != nil {
				historyStatus = "disconnected"
			}
			cancel()
		}
	}

	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		History:   historyStatus,
		Uptime:    time.Since(h.startTime).String(),
	}

	h.respondJSON(w, status, http.StatusOK)
}

// serveExport кодирует один снимок целиком до отправки, чтобы сбой
// кодирования не оставил клиенту обрезанный файл
func (h *Handler) serveExport(w http.ResponseWriter, r *http.Request, endpoint, format, contentType string, encode func(*bytes.Buffer, models.Series) error) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(endpoint, r.Method))
	defer timer.ObserveDuration()

	snapshot := h.buffer.Snapshot()

	var buf bytes.Buffer
	if err := encode(&buf, snapshot); err != nil {
		metrics.ExportsTotal.WithLabelValues(format, "error").Inc()
		metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, "500").Inc()
		h.logger.Error("export failed", "format", format, "rows", snapshot.Len(), "error", err)
		h.respondError(w, "Export failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("telemetry-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)

	metrics.ExportsTotal.WithLabelValues(format, "ok").Inc()
	metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, "200").Inc()
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
