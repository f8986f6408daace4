// Package config загружает конфигурацию сервиса из переменных окружения
// и необязательного файла .env
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"telemetry-dashboard/internal/models"
)

// Бэкенды истории
const (
	BackendRedis = "redis"
	BackendFile  = "file"
)

// Config содержит конфигурацию сервиса
type Config struct {
	ServerAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	SourceURL         string
	SourceReadTimeout time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	HistoryBackend string
	HistoryFile    string
	HistoryKey     string
	HistoryLimit   int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AlertsChannel string

	AlertChannel   string
	AlertThreshold float64
	AlertCooldown  time.Duration

	LogLevel slog.Level
}

// Load читает .env (если есть) и переменные окружения
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv собирает конфигурацию из окружения
func FromEnv() (Config, error) {
	var errs []error
	cfg := Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		ReadTimeout:  getEnvDuration("READ_TIMEOUT", 15*time.Second, &errs),
		WriteTimeout: getEnvDuration("WRITE_TIMEOUT", 15*time.Second, &errs),
		IdleTimeout:  getEnvDuration("IDLE_TIMEOUT", 60*time.Second, &errs),

		SourceURL:         getEnv("SOURCE_URL", "ws://localhost:3000/ws"),
		SourceReadTimeout: getEnvDuration("SOURCE_READ_TIMEOUT", 30*time.Second, &errs),
		ReconnectInitial:  getEnvDuration("RECONNECT_INITIAL", time.Second, &errs),
		ReconnectMax:      getEnvDuration("RECONNECT_MAX", 30*time.Second, &errs),

		HistoryBackend: strings.ToLower(getEnv("HISTORY_BACKEND", BackendRedis)),
		HistoryFile:    getEnv("HISTORY_FILE", "data/history.json"),
		HistoryKey:     getEnv("HISTORY_KEY", "telemetry:history"),
		HistoryLimit:   getEnvInt("HISTORY_LIMIT", 0, &errs),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0, &errs),
		AlertsChannel: getEnv("ALERTS_PUBSUB_CHANNEL", "telemetry:alerts"),

		AlertChannel:   getEnv("ALERT_CHANNEL", models.Temperature.String()),
		AlertThreshold: getEnvFloat("ALERT_THRESHOLD", 37, &errs),
		AlertCooldown:  getEnvDuration("ALERT_COOLDOWN", 0, &errs),
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.LogLevel = level

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность значений
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.SourceURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errs = append(errs, fmt.Errorf("SOURCE_URL must be a ws:// or wss:// URL, got %q", c.SourceURL))
	}
	switch c.HistoryBackend {
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis history backend"))
		}
	case BackendFile:
		if c.HistoryFile == "" {
			errs = append(errs, errors.New("HISTORY_FILE is required for the file history backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND must be %q or %q, got %q", BackendRedis, BackendFile, c.HistoryBackend))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT must not be negative"))
	}
	if _, ok := models.ParseChannel(c.AlertChannel); !ok {
		errs = append(errs, fmt.Errorf("ALERT_CHANNEL %q is not a known channel", c.AlertChannel))
	}
	if c.AlertCooldown < 0 {
		errs = append(errs, errors.New("ALERT_COOLDOWN must not be negative"))
	}
	if c.ReconnectInitial <= 0 || c.ReconnectMax < c.ReconnectInitial {
		errs = append(errs, errors.New("RECONNECT_INITIAL must be positive and not exceed RECONNECT_MAX"))
	}
	return errors.Join(errs...)
}

// AlertRuleChannel канал порогового правила
func (c Config) AlertRuleChannel() models.Channel {
	ch, _ := models.ParseChannel(c.AlertChannel)
	return ch
}

// getEnv получает переменную окружения со значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64, errs *[]error) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
