// Package main запускает имитатор источника телеметрии ракеты.
// Каждый подключенный по WebSocket клиент получает кадр раз в интервал.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"telemetry-dashboard/internal/logging"
	"telemetry-dashboard/internal/models"
)

func main() {
	_ = godotenv.Load()

	logger := logging.New(slog.LevelInfo)
	slog.SetDefault(logger)

	addr := getEnv("SIM_ADDR", ":3000")
	interval, err := time.ParseDuration(getEnv("SIM_INTERVAL", "1s"))
	if err != nil || interval <= 0 {
		logger.Error("invalid SIM_INTERVAL", "value", os.Getenv("SIM_INTERVAL"))
		os.Exit(1)
	}
	missingRate, err := strconv.ParseFloat(getEnv("SIM_MISSING_RATE", "0.05"), 64)
	if err != nil || missingRate < 0 || missingRate > 1 {
		logger.Error("invalid SIM_MISSING_RATE", "value", os.Getenv("SIM_MISSING_RATE"))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", &simulator{
		interval:    interval,
		missingRate: missingRate,
		logger:      logger,
		ctx:         ctx,
	})

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("sensor simulator listening", "addr", addr, "path", "/ws", "interval", interval)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("sensor simulator stopped")
}

type simulator struct {
	interval    time.Duration
	missingRate float64
	logger      *slog.Logger
	ctx         context.Context
	upgrader    websocket.Upgrader
}

func (s *simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := s.logger.With("client", uuid.NewString(), "remote", r.RemoteAddr)
	logger.Info("client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	flight := newFlight(rand.New(rand.NewSource(time.Now().UnixNano())), s.missingRate)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		case <-closed:
			logger.Info("client disconnected")
			return
		case <-ticker.C:
			frame, err := json.Marshal(flight.next(s.interval))
			if err != nil {
				logger.Error("encode frame", "error", err)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Warn("write frame", "error", err)
				return
			}
		}
	}
}

// flight модель полета: подъем, нагрев корпуса, шум датчиков
type flight struct {
	rng         *rand.Rand
	missingRate float64
	elapsed     time.Duration
}

func newFlight(rng *rand.Rand, missingRate float64) *flight {
	return &flight{rng: rng, missingRate: missingRate}
}

// next возвращает кадр в формате источника; пропущенные показания равны null
func (f *flight) next(step time.Duration) map[string]*float64 {
	f.elapsed += step
	t := f.elapsed.Seconds()

	altitude := 5*t*t/(1+t/60) + f.noise(0.5)
	values := map[models.Channel]float64{
		models.DHTTemp:     24 + t/30 + f.noise(0.3),
		models.Humidity:    45 - t/20 + f.noise(1),
		models.Temperature: 25 + 14*(1-math.Exp(-t/90)) + f.noise(0.4),
		models.Pressure:    101325 * math.Exp(-altitude/8400),
		models.Altitude:    altitude,
		models.AccelX:      f.noise(0.3),
		models.AccelY:      f.noise(0.3),
		models.AccelZ:      9.81 + 15*math.Exp(-t/20) + f.noise(0.5),
	}

	frame := make(map[string]*float64, models.NumChannels)
	for c, v := range values {
		if f.rng.Float64() < f.missingRate {
			frame[c.String()] = nil
			continue
		}
		v := math.Round(v*100) / 100
		frame[c.String()] = &v
	}
	return frame
}

func (f *flight) noise(scale float64) float64 {
	return f.rng.NormFloat64() * scale
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
