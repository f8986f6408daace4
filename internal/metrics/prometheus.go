// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество HTTP запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_requests_total",
			Help: "Total number of dashboard requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"endpoint", "method"},
	)

	// FramesReceived количество принятых кадров
	FramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_frames_received_total",
			Help: "Total number of frames read from the telemetry source",
		},
	)

	// DecodeErrors количество отброшенных кадров
	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_decode_errors_total",
			Help: "Total number of malformed frames dropped",
		},
	)

	// AppendsTotal количество добавленных записей
	AppendsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_appends_total",
			Help: "Total number of records appended to the time series",
		},
	)

	// HistoryLength текущая длина ряда
	HistoryLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_history_length",
			Help: "Number of rows currently held in the time series",
		},
	)

	// PersistErrors сбои зеркала истории
	PersistErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_persist_errors_total",
			Help: "Total number of history mirror failures",
		},
		[]string{"op"},
	)

	// PersistLatency время записи зеркала
	PersistLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_persist_latency_seconds",
			Help:    "History mirror write latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
	)

	// ConnectionState состояние канала приема (значение ingest.State)
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_connection_state",
			Help: "Ingestion channel state: 0 disconnected, 1 connecting, 2 open, 3 closing, 4 faulted",
		},
	)

	// ReconnectAttempts попытки переподключения
	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_reconnect_attempts_total",
			Help: "Total number of reconnection attempts",
		},
	)

	// AlertsFired сработавшие оповещения
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_alerts_fired_total",
			Help: "Total number of threshold alerts fired",
		},
		[]string{"channel"},
	)

	// AlertsDropped оповещения, не поместившиеся в очередь
	AlertsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_alerts_dropped_total",
			Help: "Total number of alerts dropped because the dispatch queue was full",
		},
	)

	// RollingAvg скользящее среднее по каналу
	RollingAvg = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_rolling_avg",
			Help: "Rolling average per channel",
		},
		[]string{"channel"},
	)

	// ZScore z-score последнего показания по каналу
	ZScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_zscore",
			Help: "Z-score of the latest reading per channel",
		},
		[]string{"channel"},
	)

	// AnomaliesDetected количество обнаруженных аномалий
	AnomaliesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_anomalies_detected_total",
			Help: "Total number of records with at least one anomalous channel",
		},
	)

	// ExportsTotal выполненные выгрузки
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_exports_total",
			Help: "Total number of exports by format and outcome",
		},
		[]string{"format", "status"},
	)

	// LiveClients подключенные наблюдатели живого потока
	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_live_clients",
			Help: "Number of connected live-push clients",
		},
	)

	// InFlightRequests запросы в обработке
	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_in_flight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_active_goroutines",
			Help: "Number of active goroutines",
		},
	)
)

// UpdateChannelMetrics обновляет метрики анализа канала
func UpdateChannelMetrics(channel string, avg, z float64) {
	RollingAvg.WithLabelValues(channel).Set(avg)
	ZScore.WithLabelValues(channel).Set(z)
}
