package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-dashboard/internal/alert"
	"telemetry-dashboard/internal/analytics"
	"telemetry-dashboard/internal/buffer"
	"telemetry-dashboard/internal/history"
	"telemetry-dashboard/internal/ingest"
	"telemetry-dashboard/internal/metrics"
	"telemetry-dashboard/internal/models"
)

type fakeSource struct {
	state   ingest.State
	loading bool
}

func (f fakeSource) State() ingest.State { return f.state }
func (f fakeSource) Loading() bool       { return f.loading }
func (f fakeSource) Reconnects() int64   { return 2 }
func (f fakeSource) URL() string         { return "ws://rocket.local/ws" }

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	buf     *buffer.Buffer
	handler *Handler
	server  *httptest.Server
}

func newFixture(t *testing.T, store history.Store) *fixture {
	t.Helper()
	opts := []buffer.Option{buffer.WithClock(fixedClock()), buffer.WithLogger(quietLogger())}
	if store != nil {
		opts = append(opts, buffer.WithStore(store))
	}
	buf := buffer.New(opts...)
	hub := NewHub(buf, quietLogger())
	h := NewHandler(buf, analytics.NewAnalyzer(16), fakeSource{state: ingest.Open}, store, hub, quietLogger())
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(func() {
		h.Hub().Close()
		srv.Close()
	})
	return &fixture{buf: buf, handler: h, server: srv}
}

func (f *fixture) appendRecord(t *testing.T, set func(*models.Record)) {
	t.Helper()
	var rec models.Record
	set(&rec)
	_, err := f.buf.Append(context.Background(), rec)
	require.NoError(t, err)
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLiveHandler_NoDataShowsNA(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.get(t, "/api/live")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var live models.LiveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&live))
	assert.Nil(t, live.ReceivedAt)
	require.Len(t, live.Readouts, models.NumChannels)
	for _, r := range live.Readouts {
		assert.Equal(t, "N/A", r.Display, r.Channel)
		assert.False(t, r.Value.Valid)
	}
}

func TestLiveHandler_FormatsLatestRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.appendRecord(t, func(r *models.Record) {
		r.Set(models.Temperature, 38.5)
		r.Set(models.Altitude, 120)
	})

	var live models.LiveResponse
	require.NoError(t, json.NewDecoder(f.get(t, "/api/live").Body).Decode(&live))

	require.NotNil(t, live.ReceivedAt)
	byChannel := make(map[string]models.ChannelReadout)
	for _, r := range live.Readouts {
		byChannel[r.Channel] = r
	}
	assert.Equal(t, "38.50 °C", byChannel["temperature"].Display)
	assert.Equal(t, "120.00 m", byChannel["altitude"].Display)
	assert.Equal(t, "N/A", byChannel["pressure"].Display)
	assert.Equal(t, "BMP280 Temperature", byChannel["temperature"].Title)
}

func TestHistoryHandler_ReturnsSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.appendRecord(t, func(r *models.Record) { r.Set(models.Altitude, 100) })
	f.appendRecord(t, func(r *models.Record) {})

	var series models.Series
	require.NoError(t, json.NewDecoder(f.get(t, "/api/history").Body).Decode(&series))

	require.Equal(t, 2, series.Len())
	assert.Equal(t, models.Some(100), series.Value(models.Altitude, 0))
	assert.Equal(t, models.Missing, series.Value(models.Altitude, 1))
}

func TestStatusHandler(t *testing.T) {
	f := newFixture(t, nil)
	f.appendRecord(t, func(r *models.Record) { r.Set(models.Humidity, 40) })

	var status models.StatusResponse
	require.NoError(t, json.NewDecoder(f.get(t, "/api/status").Body).Decode(&status))

	assert.Equal(t, "open", status.State)
	assert.False(t, status.Loading)
	assert.Equal(t, 1, status.HistoryLength)
	assert.Equal(t, int64(2), status.Reconnects)
	assert.Equal(t, "ws://rocket.local/ws", status.SourceURL)
}

func TestStatsHandler(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Channels []models.ChannelStats `json:"channels"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Channels, models.NumChannels)
}

func TestResetHandler(t *testing.T) {
	f := newFixture(t, nil)
	f.appendRecord(t, func(r *models.Record) { r.Set(models.Altitude, 100) })

	resp, err := http.Post(f.server.URL+"/api/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, f.buf.Len())
	_, ok := f.buf.Current()
	assert.False(t, ok)
}

func TestResetHandler_RejectsGet(t *testing.T) {
	f := newFixture(t, nil)
	f.appendRecord(t, func(r *models.Record) {})

	resp := f.get(t, "/api/reset")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, 1, f.buf.Len())
}

func TestCSVHandler(t *testing.T) {
	f := newFixture(t, nil)
	f.appendRecord(t, func(r *models.Record) { r.Set(models.Altitude, 100) })
	f.appendRecord(t, func(r *models.Record) {})
	f.appendRecord(t, func(r *models.Record) { r.Set(models.Altitude, 102.5) })

	resp := f.get(t, "/export/csv")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "time,dhtTemp,humidity,temperature,pressure,altitude,accelX,accelY,accelZ", lines[0])
	assert.Equal(t, "2024-05-01T12:00:01.000Z,,,,,100.0,,,", lines[1])
	assert.Equal(t, "2024-05-01T12:00:02.000Z,,,,,,,,", lines[2])
	assert.Equal(t, "2024-05-01T12:00:03.000Z,,,,,102.5,,,", lines[3])
}

func TestPDFHandler(t *testing.T) {
	f := newFixture(t, nil)
	f.appendRecord(t, func(r *models.Record) { r.Set(models.Pressure, 101325) })

	resp := f.get(t, "/export/pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "%PDF"))
}

func TestChartsHandler(t *testing.T) {
	f := newFixture(t, nil)
	f.appendRecord(t, func(r *models.Record) { r.Set(models.Altitude, 100) })

	resp := f.get(t, "/charts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "BMP280 Altitude")
}

func TestHealthHandler(t *testing.T) {
	t.Run("no store", func(t *testing.T) {
		f := newFixture(t, nil)
		var health models.HealthStatus
		require.NoError(t, json.NewDecoder(f.get(t, "/health").Body).Decode(&health))
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "disabled", health.History)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, err := history.NewRedisStore(context.Background(), mr.Addr(), "", 0, history.DefaultKey)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })

		f := newFixture(t, store)
		var health models.HealthStatus
		require.NoError(t, json.NewDecoder(f.get(t, "/health").Body).Decode(&health))
		assert.Equal(t, "connected", health.History)

		mr.Close()
		require.NoError(t, json.NewDecoder(f.get(t, "/health").Body).Decode(&health))
		assert.Equal(t, "disconnected", health.History)
	})
}

type liveFrame struct {
	Type   string         `json:"type"`
	Len    int            `json:"len"`
	Record map[string]any `json:"record"`
	Alert  *alert.Alert   `json:"alert"`
}

func readFrame(t *testing.T, conn *websocket.Conn) liveFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg liveFrame
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_PushesAppendsResetsAndAlerts(t *testing.T) {
	f := newFixture(t, nil)
	f.appendRecord(t, func(r *models.Record) { r.Set(models.Temperature, 20) })

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readFrame(t, conn)
	assert.Equal(t, MessageHello, hello.Type)
	assert.Equal(t, 1, hello.Len)
	assert.Equal(t, 20.0, hello.Record["temperature"])

	f.appendRecord(t, func(r *models.Record) { r.Set(models.Temperature, 38.5) })
	appended := readFrame(t, conn)
	assert.Equal(t, MessageAppended, appended.Type)
	assert.Equal(t, 2, appended.Len)
	assert.Equal(t, 38.5, appended.Record["temperature"])
	assert.Nil(t, appended.Record["pressure"])

	require.NoError(t, f.handler.Hub().Notify(context.Background(), alert.Alert{
		ID: "a-1", Channel: "temperature", Value: 38.5, Threshold: 37,
	}))
	alerted := readFrame(t, conn)
	assert.Equal(t, MessageAlert, alerted.Type)
	require.NotNil(t, alerted.Alert)
	assert.Equal(t, "a-1", alerted.Alert.ID)

	require.NoError(t, f.buf.Reset(context.Background()))
	reset := readFrame(t, conn)
	assert.Equal(t, MessageReset, reset.Type)
	assert.Equal(t, 0, reset.Len)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)
	assert.Equal(t, 1, f.handler.Hub().Clients())

	f.handler.Hub().Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, f.handler.Hub().Clients())
}

func TestServeExport_EncodeFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.appendRecord(t, func(r *models.Record) { r.Set(models.Altitude, 100) })
	f.appendRecord(t, func(r *models.Record) { r.Set(models.Altitude, 101) })
	before := f.buf.Snapshot()
	failed := testutil.ToFloat64(metrics.ExportsTotal.WithLabelValues("xlsx", "error"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/export/xlsx", nil)
	f.handler.serveExport(rec, req, "/export/xlsx", "xlsx", "application/octet-stream",
		func(buf *bytes.Buffer, s models.Series) error {
			buf.WriteString("partial")
			return errors.New("encoder exploded")
		})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	assert.NotContains(t, rec.Body.String(), "partial")
	assert.Equal(t, failed+1, testutil.ToFloat64(metrics.ExportsTotal.WithLabelValues("xlsx", "error")))
	assert.Equal(t, 2, f.buf.Len())
	assert.True(t, before.Equal(f.buf.Snapshot()))
}
