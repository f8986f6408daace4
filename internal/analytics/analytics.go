// Package analytics реализует скользящую статистику по каналам телеметрии
// Включает rolling average для сглаживания и z-score для детекции аномалий
package analytics

import (
	"math"
	"sync"
	"sync/atomic"

	"telemetry-dashboard/internal/metrics"
	"telemetry-dashboard/internal/models"
)

const (
	// WindowSize размер окна для rolling average и z-score (50 событий)
	WindowSize = 50
	// ZScoreThreshold порог для детекции аномалий (> 2σ)
	ZScoreThreshold = 2.0
)

// Analyzer выполняет статистический анализ записей телеметрии
type Analyzer struct {
	mu          sync.RWMutex
	windows     [models.NumChannels]*SlidingWindow
	recordsChan chan job
	generation  atomic.Uint64
	resultsChan chan models.AnalysisResult
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// job запись в очереди вместе с поколением сброса, в котором она поставлена
type job struct {
	rec        models.Record
	generation uint64
}

// SlidingWindow реализует скользящее окно для хранения значений
type SlidingWindow struct {
	values []float64
	size   int
	index  int
	count  int
	sum    float64
	sumSq  float64
}

// NewSlidingWindow создает новое скользящее окно заданного размера
func NewSlidingWindow(size int) *SlidingWindow {
	return &SlidingWindow{
		values: make([]float64, size),
		size:   size,
	}
}

// Add добавляет новое значение в окно
func (sw *SlidingWindow) Add(value float64) {
	if sw.count >= sw.size {
		// Удаляем старое значение из статистики
		oldValue := sw.values[sw.index]
		sw.sum -= oldValue
		sw.sumSq -= oldValue * oldValue
	} else {
		sw.count++
	}

	sw.values[sw.index] = value
	sw.sum += value
	sw.sumSq += value * value

	sw.index = (sw.index + 1) % sw.size
}

// Mean возвращает среднее значение (rolling average)
func (sw *SlidingWindow) Mean() float64 {
	if sw.count == 0 {
		return 0
	}
	return sw.sum / float64(sw.count)
}

// StdDev возвращает стандартное отклонение
func (sw *SlidingWindow) StdDev() float64 {
	if sw.count < 2 {
		return 0
	}
	n := float64(sw.count)
	variance := (sw.sumSq - (sw.sum*sw.sum)/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// ZScore вычисляет z-score для заданного значения
func (sw *SlidingWindow) ZScore(value float64) float64 {
	stdDev := sw.StdDev()
	if stdDev == 0 {
		return 0
	}
	return (value - sw.Mean()) / stdDev
}

// Count возвращает количество элементов в окне
func (sw *SlidingWindow) Count() int {
	return sw.count
}

// Reset очищает окно
func (sw *SlidingWindow) Reset() {
	for i := range sw.values {
		sw.values[i] = 0
	}
	sw.index, sw.count = 0, 0
	sw.sum, sw.sumSq = 0, 0
}

// NewAnalyzer создает новый анализатор
func NewAnalyzer(bufferSize int) *Analyzer {
	a := &Analyzer{
		recordsChan: make(chan job, bufferSize),
		resultsChan: make(chan models.AnalysisResult, bufferSize),
		stopChan:    make(chan struct{}),
	}
	for i := range a.windows {
		a.windows[i] = NewSlidingWindow(WindowSize)
	}
	return a
}

// Start запускает горутины для обработки записей.
// Окна общие, поэтому порядок сохраняется только при одном обработчике.
func (a *Analyzer) Start(numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		a.wg.Add(1)
		go a.worker()
	}
}

func (a *Analyzer) worker() {
	defer a.wg.Done()
	for {
		select {
		case j := <-a.recordsChan:
			result, ok := a.analyzeJob(j)
			if !ok {
				continue
			}
			select {
			case a.resultsChan <- result:
			default:
				// Канал результатов переполнен, пропускаем
			}
		case <-a.stopChan:
			return
		}
	}
}

// analyzeJob пропускает записи, поставленные в очередь до последнего сброса
func (a *Analyzer) analyzeJob(j job) (models.AnalysisResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if j.generation != a.generation.Load() {
		return models.AnalysisResult{}, false
	}
	return a.analyzeLocked(j.rec), true
}

// analyze выполняет анализ одной записи
func (a *Analyzer) analyze(rec models.Record) models.AnalysisResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.analyzeLocked(rec)
}

func (a *Analyzer) analyzeLocked(rec models.Record) models.AnalysisResult {

	result := models.AnalysisResult{
		Timestamp: rec.Received,
		Channels:  make([]models.ChannelStats, 0, models.NumChannels),
	}

	for _, c := range models.Channels() {
		w := a.windows[c]
		reading := rec.Get(c)
		stats := models.ChannelStats{Channel: c.String()}

		if reading.Valid {
			// Вычисляем z-score до добавления в окно
			stats.ZScore = w.ZScore(reading.Value)
			w.Add(reading.Value)
			stats.IsAnomaly = math.Abs(stats.ZScore) > ZScoreThreshold
			metrics.UpdateChannelMetrics(c.String(), w.Mean(), stats.ZScore)
		}
		stats.RollingAvg = w.Mean()
		stats.StdDev = w.StdDev()
		stats.Samples = w.Count()

		if stats.IsAnomaly {
			result.AnomalyDetected = true
		}
		result.Channels = append(result.Channels, stats)
	}

	if result.AnomalyDetected {
		metrics.AnomaliesDetected.Inc()
	}
	return result
}

// Submit отправляет запись на обработку
func (a *Analyzer) Submit(rec models.Record) bool {
	select {
	case a.recordsChan <- job{rec: rec, generation: a.generation.Load()}:
		return true
	default:
		return false
	}
}

// AnalyzeSync синхронно анализирует запись
func (a *Analyzer) AnalyzeSync(rec models.Record) models.AnalysisResult {
	return a.analyze(rec)
}

// GetResults возвращает канал результатов
func (a *Analyzer) GetResults() <-chan models.AnalysisResult {
	return a.resultsChan
}

// GetStats возвращает текущую статистику по всем каналам
func (a *Analyzer) GetStats() []models.ChannelStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.ChannelStats, 0, models.NumChannels)
	for _, c := range models.Channels() {
		w := a.windows[c]
		out = append(out, models.ChannelStats{
			Channel:    c.String(),
			RollingAvg: w.Mean(),
			StdDev:     w.StdDev(),
			Samples:    w.Count(),
		})
	}
	return out
}

// Reset очищает все окна, вызывается при сбросе истории.
// Записи, поставленные в очередь до сброса, отбрасываются.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation.Add(1)
	for _, w := range a.windows {
		w.Reset()
	}
	for {
		select {
		case <-a.recordsChan:
		default:
			return
		}
	}
}

// Stop останавливает анализатор
func (a *Analyzer) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
	a.wg.Wait()
}
