package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-dashboard/internal/models"
)

func TestSlidingWindow_Add(t *testing.T) {
	sw := NewSlidingWindow(5)

	for _, v := range []float64{10, 20, 30, 40, 50} {
		sw.Add(v)
	}

	assert.Equal(t, 5, sw.Count())
	assert.InDelta(t, 30.0, sw.Mean(), 0.001)
}

func TestSlidingWindow_RollingBehavior(t *testing.T) {
	sw := NewSlidingWindow(3)

	sw.Add(10)
	sw.Add(20)
	sw.Add(30)
	assert.InDelta(t, 20.0, sw.Mean(), 0.001)

	// Pushes out 10: (20+30+40)/3 = 30
	sw.Add(40)
	assert.InDelta(t, 30.0, sw.Mean(), 0.001)
}

func TestSlidingWindow_StdDev(t *testing.T) {
	sw := NewSlidingWindow(5)
	for i := 0; i < 5; i++ {
		sw.Add(50)
	}
	assert.Equal(t, 0.0, sw.StdDev())

	sw2 := NewSlidingWindow(5)
	for _, v := range []float64{2, 4, 4, 4, 5} {
		sw2.Add(v)
	}
	// Sample stddev of [2,4,4,4,5] ≈ 1.095
	assert.InDelta(t, 1.095, sw2.StdDev(), 0.01)
}

func TestSlidingWindow_ZScore(t *testing.T) {
	sw := NewSlidingWindow(WindowSize)
	for i := 0; i < WindowSize; i++ {
		sw.Add(50.0)
	}
	assert.Equal(t, 0.0, sw.ZScore(50.0), "zero stddev yields zero z-score")

	sw2 := NewSlidingWindow(WindowSize)
	for i := 0; i < WindowSize; i++ {
		sw2.Add(float64(40 + i%20))
	}
	assert.Greater(t, sw2.ZScore(100.0), ZScoreThreshold)
}

func TestSlidingWindow_Reset(t *testing.T) {
	sw := NewSlidingWindow(3)
	sw.Add(1)
	sw.Add(2)
	sw.Reset()

	assert.Equal(t, 0, sw.Count())
	assert.Equal(t, 0.0, sw.Mean())
}

func temperature(v float64) models.Record {
	rec := models.Record{Received: time.Now()}
	rec.Set(models.Temperature, v)
	return rec
}

func statsFor(t *testing.T, stats []models.ChannelStats, c models.Channel) models.ChannelStats {
	t.Helper()
	for _, s := range stats {
		if s.Channel == c.String() {
			return s
		}
	}
	t.Fatalf("no stats for channel %s", c)
	return models.ChannelStats{}
}

func TestAnalyzer_AnomalyDetection(t *testing.T) {
	analyzer := NewAnalyzer(100)

	for i := 0; i < WindowSize; i++ {
		analyzer.AnalyzeSync(temperature(20.0 + float64(i%10-5)/10))
	}

	result := analyzer.AnalyzeSync(temperature(20.0))
	assert.False(t, statsFor(t, result.Channels, models.Temperature).IsAnomaly)

	result = analyzer.AnalyzeSync(temperature(80.0))
	assert.True(t, statsFor(t, result.Channels, models.Temperature).IsAnomaly)
	assert.True(t, result.AnomalyDetected)
}

func TestAnalyzer_MissingReadingsSkipped(t *testing.T) {
	analyzer := NewAnalyzer(10)

	analyzer.AnalyzeSync(temperature(10))
	analyzer.AnalyzeSync(models.Record{})
	analyzer.AnalyzeSync(temperature(20))

	temp := statsFor(t, analyzer.GetStats(), models.Temperature)
	assert.Equal(t, 2, temp.Samples)
	assert.InDelta(t, 15.0, temp.RollingAvg, 0.001)

	pressure := statsFor(t, analyzer.GetStats(), models.Pressure)
	assert.Equal(t, 0, pressure.Samples)
}

func TestAnalyzer_Reset(t *testing.T) {
	analyzer := NewAnalyzer(10)
	analyzer.AnalyzeSync(temperature(10))
	analyzer.Reset()

	assert.Equal(t, 0, statsFor(t, analyzer.GetStats(), models.Temperature).Samples)
}

func TestAnalyzer_Worker(t *testing.T) {
	analyzer := NewAnalyzer(100)
	analyzer.Start(1)
	defer analyzer.Stop()

	for i := 0; i < 10; i++ {
		require.True(t, analyzer.Submit(temperature(float64(i))))
	}

	for i := 0; i < 10; i++ {
		select {
		case <-analyzer.GetResults():
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for result %d", i)
		}
	}

	temp := statsFor(t, analyzer.GetStats(), models.Temperature)
	assert.Equal(t, 10, temp.Samples)
	assert.False(t, math.IsNaN(temp.StdDev))
}

func TestAnalyzer_ResetDiscardsQueuedRecords(t *testing.T) {
	analyzer := NewAnalyzer(100)
	for i := 0; i < 10; i++ {
		require.True(t, analyzer.Submit(temperature(float64(i))))
	}
	analyzer.Reset()

	analyzer.Start(1)
	defer analyzer.Stop()
	require.True(t, analyzer.Submit(temperature(42)))

	select {
	case result := <-analyzer.GetResults():
		assert.Equal(t, 1, statsFor(t, result.Channels, models.Temperature).Samples)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the post-reset result")
	}
	assert.Equal(t, 1, statsFor(t, analyzer.GetStats(), models.Temperature).Samples)
}

func TestAnalyzer_StaleJobSkipped(t *testing.T) {
	analyzer := NewAnalyzer(1)
	stale := job{rec: temperature(10), generation: analyzer.generation.Load()}
	analyzer.Reset()

	_, ok := analyzer.analyzeJob(stale)
	assert.False(t, ok)
	assert.Equal(t, 0, statsFor(t, analyzer.GetStats(), models.Temperature).Samples)
}

func TestAnalyzer_StopIsIdempotent(t *testing.T) {
	analyzer := NewAnalyzer(1)
	analyzer.Start(2)
	analyzer.Stop()
	analyzer.Stop()
}

func BenchmarkAnalyzeSync(b *testing.B) {
	analyzer := NewAnalyzer(10000)
	rec := temperature(21.5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		analyzer.AnalyzeSync(rec)
	}
}

func BenchmarkSlidingWindowAdd(b *testing.B) {
	sw := NewSlidingWindow(WindowSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sw.Add(float64(i % 100))
	}
}
