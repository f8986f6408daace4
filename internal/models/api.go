package models

import "time"

// ChannelReadout живое показание одного канала для табло
type ChannelReadout struct {
	Channel string  `json:"channel"`
	Title   string  `json:"title"`
	Unit    string  `json:"unit"`
	Value   Reading `json:"value"`
	Display string  `json:"display"`
}

// LiveResponse текущий снимок последних показаний
type LiveResponse struct {
	ReceivedAt *time.Time       `json:"received_at,omitempty"`
	Readouts   []ChannelReadout `json:"readouts"`
}

// ChannelStats скользящая статистика одного канала
type ChannelStats struct {
	Channel    string  `json:"channel"`
	RollingAvg float64 `json:"rolling_avg"`
	StdDev     float64 `json:"std_dev"`
	ZScore     float64 `json:"z_score"`
	Samples    int     `json:"samples"`
	IsAnomaly  bool    `json:"is_anomaly"`
}

// AnalysisResult результат анализа одной записи по всем каналам
type AnalysisResult struct {
	Timestamp       time.Time      `json:"timestamp"`
	Channels        []ChannelStats `json:"channels"`
	AnomalyDetected bool           `json:"anomaly_detected"`
}

// StatusResponse состояние канала приема
type StatusResponse struct {
	State         string `json:"state"`
	Loading       bool   `json:"loading"`
	SourceURL     string `json:"source_url"`
	HistoryLength int    `json:"history_length"`
	Reconnects    int64  `json:"reconnects"`
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	History   string    `json:"history"`
	Uptime    string    `json:"uptime"`
}
