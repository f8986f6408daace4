package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-dashboard/internal/models"
)

func TestFlight_FramesDecodeAsRecords(t *testing.T) {
	f := newFlight(rand.New(rand.NewSource(1)), 0)

	for i := 0; i < 10; i++ {
		data, err := json.Marshal(f.next(time.Second))
		require.NoError(t, err)

		rec, err := models.DecodeRecord(data)
		require.NoError(t, err)
		for _, c := range models.Channels() {
			assert.True(t, rec.Get(c).Valid, c.String())
		}
	}
}

func TestFlight_MissingRateOne(t *testing.T) {
	f := newFlight(rand.New(rand.NewSource(1)), 1)

	data, err := json.Marshal(f.next(time.Second))
	require.NoError(t, err)

	rec, err := models.DecodeRecord(data)
	require.NoError(t, err)
	for _, c := range models.Channels() {
		assert.False(t, rec.Get(c).Valid, c.String())
	}
}

func TestSimulator_StreamsFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewServer(&simulator{
		interval: 10 * time.Millisecond,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		ctx:      ctx,
	})
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		_, err = models.DecodeRecord(frame)
		assert.NoError(t, err)
	}
}
