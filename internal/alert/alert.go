// Package alert реализует пороговое оповещение по одному каналу записи
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telemetry-dashboard/internal/metrics"
	"telemetry-dashboard/internal/models"
)

// DefaultThreshold порог температуры BMP280 в градусах Цельсия
const DefaultThreshold = 37.0

// Rule срабатывает, когда показание канала строго больше порога
type Rule struct {
	Channel   models.Channel
	Threshold float64
}

// DefaultRule правило temperature > 37
func DefaultRule() Rule {
	return Rule{Channel: models.Temperature, Threshold: DefaultThreshold}
}

// Alert одно сработавшее оповещение
type Alert struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

func (a Alert) String() string {
	return fmt.Sprintf("%s %.2f exceeds threshold %.2f", a.Channel, a.Value, a.Threshold)
}

// Evaluate чистый предикат по записи. Пропущенное показание не срабатывает.
func (r Rule) Evaluate(rec models.Record) (Alert, bool) {
	reading := rec.Get(r.Channel)
	if !reading.Valid || reading.Value <= r.Threshold {
		return Alert{}, false
	}
	return Alert{
		Channel:   r.Channel.String(),
		Value:     reading.Value,
		Threshold: r.Threshold,
		At:        rec.Received,
	}, true
}

// Evaluator применяет правило с необязательным окном затишья.
// При нулевом окне срабатывает на каждой записи выше порога.
type Evaluator struct {
	rule     Rule
	cooldown time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewEvaluator создает оценщик правила
func NewEvaluator(rule Rule, cooldown time.Duration) *Evaluator {
	return &Evaluator{rule: rule, cooldown: cooldown}
}

// Rule возвращает действующее правило
func (e *Evaluator) Rule() Rule {
	return e.rule
}

// Check оценивает запись, время затишья отсчитывается по времени получения
func (e *Evaluator) Check(rec models.Record) (Alert, bool) {
	a, ok := e.rule.Evaluate(rec)
	if !ok {
		return Alert{}, false
	}
	if e.cooldown <= 0 {
		return a, true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.last.IsZero() && a.At.Sub(e.last) < e.cooldown {
		return Alert{}, false
	}
	e.last = a.At
	return a, true
}

// Notifier побочный эффект оповещения
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// NotifierFunc адаптер функции к Notifier
type NotifierFunc func(ctx context.Context, a Alert) error

// Notify вызывает f
func (f NotifierFunc) Notify(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// countFired учитывает сработавшее оповещение
func countFired(a Alert) {
	metrics.AlertsFired.WithLabelValues(a.Channel).Inc()
}
