// Package buffer реализует буфер временного ряда телеметрии:
// добавление, сброс и неизменяемые снимки с зеркалированием в хранилище истории.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"telemetry-dashboard/internal/history"
	"telemetry-dashboard/internal/metrics"
	"telemetry-dashboard/internal/models"
)

const (
	// DefaultSaveTimeout предельное время записи зеркала
	DefaultSaveTimeout = 5 * time.Second
	subscriberBuffer   = 16
)

// EventKind тип изменения буфера
type EventKind int

const (
	EventAppended EventKind = iota
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventAppended:
		return "appended"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event уведомление наблюдателя об изменении буфера
type Event struct {
	Kind   EventKind
	Record models.Record
	Len    int
}

// PersistError сбой записи зеркала. Состояние в памяти при этом уже зафиксировано.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist history (%s): %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Option настраивает буфер
type Option func(*Buffer)

// WithStore задает долговременное зеркало
func WithStore(store history.Store) Option {
	return func(b *Buffer) { b.store = store }
}

// WithLimit задает предел хранимых строк, 0 означает без ограничения
func WithLimit(limit int) Option {
	return func(b *Buffer) {
		if limit > 0 {
			b.limit = limit
		}
	}
}

// WithLogger задает логгер
func WithLogger(logger *slog.Logger) Option {
	return func(b *Buffer) { b.logger = logger }
}

// WithClock задает источник времени получения
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// WithSaveTimeout задает предельное время записи зеркала
func WithSaveTimeout(d time.Duration) Option {
	return func(b *Buffer) { b.saveTimeout = d }
}

// Buffer единственный владелец временного ряда и текущего снимка.
// Мутации сериализуются writeMu, читатели берут только mu на короткое время.
type Buffer struct {
	writeMu sync.Mutex

	mu         sync.RWMutex
	series     models.Series
	current    models.Record
	hasCurrent bool

	store       history.Store
	limit       int
	now         func() time.Time
	saveTimeout time.Duration
	logger      *slog.Logger

	subsMu sync.Mutex
	subs   map[chan Event]struct{}
}

// New создает пустой буфер
func New(opts ...Option) *Buffer {
	b := &Buffer{
		now:         time.Now,
		saveTimeout: DefaultSaveTimeout,
		logger:      slog.Default(),
		subs:        make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Restore загружает историю из зеркала. Вызывается один раз при старте.
// Ошибка чтения не фатальна: буфер остается пустым.
func (b *Buffer) Restore(ctx context.Context) error {
	if b.store == nil {
		return nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	loaded, err := b.store.Load(ctx)
	if err != nil {
		metrics.PersistErrors.WithLabelValues("load").Inc()
		b.logger.Warn("history load failed, starting empty", "error", err)
	}
	if b.limit > 0 && loaded.Len() > b.limit {
		loaded = loaded.DropFront(loaded.Len() - b.limit)
	}

	b.mu.Lock()
	b.series = loaded
	b.current = models.Record{}
	b.hasCurrent = false
	b.mu.Unlock()

	metrics.HistoryLength.Set(float64(loaded.Len()))
	b.logger.Info("history restored", "rows", loaded.Len())
	if err != nil {
		return &PersistError{Op: "load", Err: err}
	}
	return nil
}

// Append добавляет запись во все каналы одной транзакцией и обновляет зеркало.
// Метка времени берется в момент добавления. Возвращается записанная запись;
// ошибка бывает только *PersistError и не отменяет добавление.
func (b *Buffer) Append(ctx context.Context, rec models.Record) (models.Record, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	rec.Received = b.now()

	b.mu.Lock()
	b.series = b.series.Append(rec)
	if b.limit > 0 && b.series.Len() > b.limit {
		b.series = b.series.DropFront(b.series.Len() - b.limit)
	}
	b.current = rec
	b.hasCurrent = true
	view := b.series.View()
	b.mu.Unlock()

	metrics.AppendsTotal.Inc()
	metrics.HistoryLength.Set(float64(view.Len()))
	b.publish(Event{Kind: EventAppended, Record: rec, Len: view.Len()})

	return rec, b.persist(ctx, "append", func(ctx context.Context) error {
		return b.store.Save(ctx, view)
	})
}

// Reset очищает ряд и зеркало. Повторный вызов безопасен.
func (b *Buffer) Reset(ctx context.Context) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	b.series = models.Series{}
	b.current = models.Record{}
	b.hasCurrent = false
	b.mu.Unlock()

	metrics.HistoryLength.Set(0)
	b.publish(Event{Kind: EventReset})
	b.logger.Info("history reset")

	return b.persist(ctx, "reset", func(ctx context.Context) error {
		return b.store.Clear(ctx)
	})
}

// Snapshot возвращает неизменяемое представление ряда
func (b *Buffer) Snapshot() models.Series {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.series.View()
}

// Current возвращает последнюю добавленную запись
func (b *Buffer) Current() (models.Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current, b.hasCurrent
}

// Len возвращает текущую длину ряда
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.series.Len()
}

// Subscribe подписывает наблюдателя на изменения.
// Медленный наблюдатель теряет события, но может перечитать Snapshot.
func (b *Buffer) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.subsMu.Lock()
	b.subs[ch] = struct{}{}
	b.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subsMu.Lock()
			delete(b.subs, ch)
			b.subsMu.Unlock()
			close(ch)
		})
	}
}

func (b *Buffer) publish(ev Event) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// persist пишет зеркало даже если контекст вызывающего уже отменен:
// состояние в памяти зафиксировано и зеркало не должно от него отставать.
func (b *Buffer) persist(ctx context.Context, op string, write func(context.Context) error) error {
	if b.store == nil {
		return nil
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.saveTimeout)
	defer cancel()

	start := time.Now()
	err := write(saveCtx)
	metrics.PersistLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PersistErrors.WithLabelValues(op).Inc()
		b.logger.Error("history mirror write failed", "op", op, "error", err)
		return &PersistError{Op: op, Err: err}
	}
	return nil
}
