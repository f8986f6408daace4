// Package main запускает панель телеметрии ракеты.
// Сервис:
// - принимает кадры телеметрии по WebSocket от источника
// - ведет временной ряд с зеркалом в Redis или в файле
// - оповещает о превышении порога по одному каналу
// - отдает живые показания, историю, графики и выгрузки CSV/PDF
// - экспортирует метрики в Prometheus
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telemetry-dashboard/internal/alert"
	"telemetry-dashboard/internal/analytics"
	"telemetry-dashboard/internal/buffer"
	"telemetry-dashboard/internal/config"
	"telemetry-dashboard/internal/handlers"
	"telemetry-dashboard/internal/history"
	"telemetry-dashboard/internal/ingest"
	"telemetry-dashboard/internal/logging"
	"telemetry-dashboard/internal/metrics"
	"telemetry-dashboard/internal/models"
)

const (
	redisConnectAttempts = 5
	alertQueueSize       = 64
	analysisBufferSize   = 1024
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting telemetry dashboard", "go", runtime.Version(), "source", cfg.SourceURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Хранилище истории
	store, redisStore := openStore(ctx, cfg, logger)

	// Буфер временного ряда
	buf := buffer.New(
		buffer.WithStore(store),
		buffer.WithLimit(cfg.HistoryLimit),
		buffer.WithLogger(logger.With("component", "buffer")),
	)
	// Сбой чтения уже залогирован буфером, стартуем с пустой историей
	_ = buf.Restore(ctx)

	// Скользящая статистика; один обработчик сохраняет порядок записей
	analyzer := analytics.NewAnalyzer(analysisBufferSize)
	analyzer.Start(1)

	// Оповещения
	hub := handlers.NewHub(buf, logger)
	notifiers := []alert.Notifier{alert.LogNotifier{Logger: logger.With("component", "alert")}, hub}
	if redisStore != nil {
		notifiers = append(notifiers, alert.NewRedisNotifier(redisStore.Client(), cfg.AlertsChannel))
	}
	dispatcher := alert.NewDispatcher(alertQueueSize, logger.With("component", "alert"), notifiers...)
	dispatcher.Start()

	rule := alert.Rule{Channel: cfg.AlertRuleChannel(), Threshold: cfg.AlertThreshold}
	evaluator := alert.NewEvaluator(rule, cfg.AlertCooldown)
	logger.Info("alert rule", "channel", rule.Channel, "threshold", rule.Threshold, "cooldown", cfg.AlertCooldown)

	// Канал приема
	source := ingest.New(ingest.Config{
		URL:            cfg.SourceURL,
		ReadTimeout:    cfg.SourceReadTimeout,
		InitialBackoff: cfg.ReconnectInitial,
		MaxBackoff:     cfg.ReconnectMax,
		Jitter:         ingest.DefaultJitter,
	}, buf,
		ingest.WithLogger(logger),
		ingest.WithAlerting(evaluator, dispatcher),
		ingest.WithRecordHook(func(rec models.Record) {
			if !analyzer.Submit(rec) {
				logger.Debug("analysis queue full, record skipped")
			}
		}),
		ingest.WithStateHook(func(from, to ingest.State) {
			if to == ingest.Open {
				logger.Info("telemetry source connected")
			}
		}),
	)

	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		if err := source.Run(ctx); err != nil {
			logger.Error("ingest channel stopped", "error", err)
		}
	}()

	// Создаем обработчики
	handler := handlers.NewHandler(buf, analyzer, source, store, hub, logger)
	router := handlers.NewRouter(handler)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())

	// Middleware для логирования и метрик
	router.Use(loggingMiddleware(logger))
	router.Use(metricsMiddleware)

	// Создаем HTTP сервер с настройками таймаутов
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go updateMetricsLoop(ctx)
	go processAnalysisResults(analyzer, logger)

	go func() {
		logger.Info("server listening", "addr", cfg.ServerAddr)
		logger.Info("endpoints",
			"live", "GET /api/live",
			"history", "GET /api/history",
			"stats", "GET /api/stats",
			"status", "GET /api/status",
			"reset", "POST /api/reset",
			"csv", "GET /export/csv",
			"pdf", "GET /export/pdf",
			"charts", "GET /charts",
			"push", "GET /ws/live",
			"health", "GET /health",
			"prometheus", "GET /prometheus",
		)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Сначала останавливаем прием, чтобы после этого ничего не попало в буфер
	source.Close()
	<-ingestDone

	dispatcher.Stop()
	hub.Close()
	analyzer.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if redisStore != nil {
		_ = redisStore.Close()
	}

	logger.Info("server stopped")
}

// openStore подключает Redis с повторами и при неудаче переходит на файл
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (history.Store, *history.RedisStore) {
	if cfg.HistoryBackend == config.BackendRedis {
		var lastErr error
		for i := 0; i < redisConnectAttempts; i++ {
			rs, err := history.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.HistoryKey)
			if err == nil {
				logger.Info("connected to redis", "addr", cfg.RedisAddr, "key", cfg.HistoryKey)
				return rs, rs
			}
			lastErr = err
			logger.Warn("redis connection attempt failed", "attempt", i+1, "error", err)
			if i < redisConnectAttempts-1 {
				select {
				case <-ctx.Done():
					return nil, nil
				case <-time.After(time.Duration(i+1) * time.Second):
				}
			}
		}
		logger.Warn("redis unavailable, falling back to file history", "path", cfg.HistoryFile, "error", lastErr)
	}

	fs, err := history.NewFileStore(cfg.HistoryFile)
	if err != nil {
		logger.Error("file history unavailable, running without persistence", "error", err)
		return nil, nil
	}
	logger.Info("using file history", "path", fs.Path())
	return fs, nil
}

// loggingMiddleware логирует HTTP запросы
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

// metricsMiddleware учитывает запросы в обработке
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.InFlightRequests.Inc()
		defer metrics.InFlightRequests.Dec()
		next.ServeHTTP(w, r)
	})
}

// updateMetricsLoop периодически обновляет метрики Prometheus
func updateMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// processAnalysisResults логирует обнаруженные аномалии
func processAnalysisResults(analyzer *analytics.Analyzer, logger *slog.Logger) {
	for result := range analyzer.GetResults() {
		if !result.AnomalyDetected {
			continue
		}
		for _, ch := range result.Channels {
			if ch.IsAnomaly {
				logger.Info("anomaly detected", "channel", ch.Channel, "z_score", ch.ZScore, "rolling_avg", ch.RollingAvg)
			}
		}
	}
}
