package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"telemetry-dashboard/internal/metrics"
)

const notifyTimeout = 5 * time.Second

// Dispatcher доставляет оповещения асинхронно через ограниченную очередь.
// При переполнении оповещение отбрасывается и учитывается.
type Dispatcher struct {
	notifiers []Notifier
	logger    *slog.Logger

	mu     sync.Mutex
	queue  chan Alert
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher создает диспетчер с очередью заданного размера
func NewDispatcher(queueSize int, logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		notifiers: notifiers,
		logger:    logger,
		queue:     make(chan Alert, queueSize),
	}
}

// Start запускает горутину доставки
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for a := range d.queue {
		for _, n := range d.notifiers {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			if err := n.Notify(ctx, a); err != nil {
				d.logger.Warn("alert notification failed", "alert_id", a.ID, "error", err)
			}
			cancel()
		}
	}
}

// Dispatch ставит оповещение в очередь без блокировки
func (d *Dispatcher) Dispatch(a Alert) bool {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	countFired(a)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		metrics.AlertsDropped.Inc()
		return false
	}
	select {
	case d.queue <- a:
		return true
	default:
		metrics.AlertsDropped.Inc()
		d.logger.Warn("alert queue full, dropping alert", "channel", a.Channel, "value", a.Value)
		return false
	}
}

// Stop доставляет оставшиеся оповещения и останавливает диспетчер
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
