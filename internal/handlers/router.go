package handlers

import (
	"github.com/gorilla/mux"
)

// NewRouter регистрирует маршруты панели
func NewRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()

	// API эндпоинты
	router.HandleFunc("/api/live", h.LiveHandler).Methods("GET")
	router.HandleFunc("/api/history", h.HistoryHandler).Methods("GET")
	router.HandleFunc("/api/stats", h.StatsHandler).Methods("GET")
	router.HandleFunc("/api/status", h.StatusHandler).Methods("GET")
	router.HandleFunc("/api/reset", h.ResetHandler).Methods("POST")

	// Выгрузки и графики
	router.HandleFunc("/export/csv", h.CSVHandler).Methods("GET")
	router.HandleFunc("/export/pdf", h.PDFHandler).Methods("GET")
	router.HandleFunc("/charts", h.ChartsHandler).Methods("GET")

	// Живой поток
	router.Handle("/ws/live", h.hub).Methods("GET")

	router.HandleFunc("/health", h.HealthHandler).Methods("GET")

	return router
}
