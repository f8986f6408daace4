// Package ingest управляет долгоживущим WebSocket соединением с источником
// телеметрии: декодирует кадры, передает записи в буфер и переподключается
// с экспоненциальной задержкой после сбоев транспорта.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"telemetry-dashboard/internal/alert"
	"telemetry-dashboard/internal/metrics"
	"telemetry-dashboard/internal/models"
)

const (
	// DefaultInitialBackoff начальная задержка переподключения
	DefaultInitialBackoff = 1 * time.Second
	// DefaultMaxBackoff предельная задержка переподключения
	DefaultMaxBackoff = 30 * time.Second
	// DefaultJitter доля случайного разброса задержки
	DefaultJitter = 0.25
	// DefaultReadLimit максимальный размер кадра
	DefaultReadLimit = 64 << 10

	closeGrace = time.Second
)

// Appender принимает декодированные записи, реализуется buffer.Buffer
type Appender interface {
	Append(ctx context.Context, rec models.Record) (models.Record, error)
}

// AlertSink принимает сработавшие оповещения, реализуется alert.Dispatcher
type AlertSink interface {
	Dispatch(a alert.Alert) bool
}

// Config параметры соединения
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	ReadLimit        int64
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	Multiplier       float64
	Jitter           float64
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = DefaultJitter
	}
	return c
}

// Option настраивает канал
type Option func(*Channel)

// WithLogger задает логгер
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithAlerting подключает пороговое правило и получателя оповещений
func WithAlerting(ev *alert.Evaluator, sink AlertSink) Option {
	return func(c *Channel) {
		c.evaluator = ev
		c.alerts = sink
	}
}

// WithRecordHook вызывается для каждой записи после добавления в буфер
func WithRecordHook(hook func(models.Record)) Option {
	return func(c *Channel) { c.onRecord = append(c.onRecord, hook) }
}

// WithBackOff заменяет расписание переподключений, построенное из Config
func WithBackOff(b backoff.BackOff) Option {
	return func(c *Channel) { c.backoff = b }
}

// WithStateHook вызывается при каждом переходе состояния
func WithStateHook(hook func(from, to State)) Option {
	return func(c *Channel) { c.onState = append(c.onState, hook) }
}

// Channel единственный писатель в буфер временного ряда
type Channel struct {
	cfg    Config
	sink   Appender
	dialer *websocket.Dialer
	logger *slog.Logger

	evaluator *alert.Evaluator
	alerts    AlertSink
	onRecord  []func(models.Record)
	onState   []func(from, to State)
	backoff   backoff.BackOff

	stateMu sync.Mutex
	state   State

	loading    atomic.Bool
	reconnects atomic.Int64

	// applyMu упорядочивает применение кадров и начало остановки:
	// после установки closing ни один кадр не попадет в буфер.
	applyMu sync.Mutex
	closing bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New создает канал приема
func New(cfg Config, sink Appender, opts ...Option) *Channel {
	cfg = cfg.withDefaults()
	c := &Channel{
		cfg:  cfg,
		sink: sink,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: slog.Default(),
		state:  Disconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "ingest", "source", cfg.URL)
	c.loading.Store(true)
	return c
}

// State возвращает текущее состояние
func (c *Channel) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Loading истинно, пока соединение ни разу не открывалось
func (c *Channel) Loading() bool {
	return c.loading.Load()
}

// Reconnects количество запланированных переподключений
func (c *Channel) Reconnects() int64 {
	return c.reconnects.Load()
}

// URL адрес источника
func (c *Channel) URL() string {
	return c.cfg.URL
}

func (c *Channel) transition(to State) error {
	c.stateMu.Lock()
	from := c.state
	if !canTransition(from, to) {
		c.stateMu.Unlock()
		c.logger.Error("rejected state transition", "from", from, "to", to)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.state = to
	c.stateMu.Unlock()

	metrics.ConnectionState.Set(float64(to))
	if from != to {
		c.logger.Debug("connection state changed", "from", from, "to", to)
	}
	for _, hook := range c.onState {
		hook(from, to)
	}
	return nil
}

// Run держит соединение до отмены ctx или вызова Close.
// Возвращает nil при штатной остановке.
func (c *Channel) Run(ctx context.Context) error {
	c.runMu.Lock()
	if c.done != nil {
		c.runMu.Unlock()
		return errors.New("ingest channel already started")
	}
	if c.isClosing() {
		c.runMu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.runMu.Unlock()

	defer close(done)
	defer cancel()

	bo := c.backoff
	if bo == nil {
		bo = newBackOff(c.cfg)
	}
	bo.Reset()

	for {
		if err := c.transition(Connecting); err != nil {
			return err
		}

		err := c.connectAndServe(ctx, bo)
		if err == nil {
			// Штатная остановка: Closing -> Disconnected
			c.beginTeardown()
			_ = c.transition(Disconnected)
			c.logger.Info("telemetry channel stopped")
			return nil
		}

		_ = c.transition(Faulted)
		c.logger.Warn("telemetry transport fault", "error", err)
		_ = c.transition(Disconnected)

		delay := bo.NextBackOff()
		c.reconnects.Add(1)
		metrics.ReconnectAttempts.Inc()
		c.logger.Info("reconnecting", "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.beginTeardown()
			c.logger.Info("telemetry channel stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Close останавливает канал и ждет завершения Run.
// После возврата ни один кадр больше не будет применен.
func (c *Channel) Close() {
	c.beginTeardown()

	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Channel) isClosing() bool {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	return c.closing
}

func (c *Channel) beginTeardown() {
	c.applyMu.Lock()
	c.closing = true
	c.applyMu.Unlock()
}

// connectAndServe возвращает nil при остановке и ошибку при сбое транспорта
func (c *Channel) connectAndServe(ctx context.Context, bo backoff.BackOff) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			_ = c.transition(Closing)
			return nil
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	session := uuid.NewString()
	logger := c.logger.With("session", session)

	c.loading.Store(false)
	if err := c.transition(Open); err != nil {
		conn.Close()
		return err
	}
	logger.Info("telemetry connection open")

	return c.serve(ctx, conn, bo, logger)
}

// serve читает кадры до сбоя или остановки. Задержка переподключения
// сбрасывается только после первого примененного кадра, чтобы источник,
// который принимает соединение и сразу рвет его, не опрашивался
// с начальной задержкой бесконечно.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn, bo backoff.BackOff, logger *slog.Logger) error {
	conn.SetReadLimit(c.cfg.ReadLimit)

	stop := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			c.beginTeardown()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGrace))
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-watcherDone
		_ = conn.Close()
	}()

	stable := false
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				_ = c.transition(Closing)
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		metrics.FramesReceived.Inc()
		_ = c.transition(Open)
		if c.handleFrame(ctx, frame, logger) && !stable {
			stable = true
			bo.Reset()
		}
	}
}

// handleFrame декодирует и применяет кадр. Испорченный кадр отбрасывается
// до каких-либо изменений буфера. Возвращает true, если запись добавлена.
func (c *Channel) handleFrame(ctx context.Context, frame []byte, logger *slog.Logger) bool {
	rec, err := models.DecodeRecord(frame)
	if err != nil {
		metrics.DecodeErrors.Inc()
		logger.Warn("dropping malformed frame", "error", err, "size", len(frame))
		return false
	}

	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	if c.closing {
		return false
	}

	stored, err := c.sink.Append(ctx, rec)
	if err != nil {
		logger.Warn("record kept in memory only", "error", err)
	}

	if c.evaluator != nil && c.alerts != nil {
		if a, fired := c.evaluator.Check(stored); fired {
			c.alerts.Dispatch(a)
		}
	}
	for _, hook := range c.onRecord {
		hook(stored)
	}
	return true
}

// newBackOff экспоненциальное расписание без ограничения числа попыток
func newBackOff(cfg Config) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.MaxInterval = cfg.MaxBackoff
	bo.Multiplier = cfg.Multiplier
	bo.RandomizationFactor = cfg.Jitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return &cappedBackOff{BackOff: bo, max: cfg.MaxBackoff}
}

// cappedBackOff не дает разбросу вывести задержку за верхнюю границу
type cappedBackOff struct {
	backoff.BackOff
	max time.Duration
}

func (b *cappedBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d > b.max {
		return b.max
	}
	return d
}
