package data

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsFixture upgrades one connection, checks the subscription, and plays
// back the given payloads before closing.
func wsFixture(t *testing.T, payloads []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub map[string]interface{}
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "subscribe", sub["op"])
		assert.Equal(t, "candles", sub["channel"])

		for _, p := range payloads {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(p)))
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCandleStreamDeliversCandles(t *testing.T) {
	srv := wsFixture(t, []string{
		`{"instrument":"KRW-BTC","timestamp":1735689600000,"open":100,"high":110,"low":95,"close":105,"volume":12.5}`,
		`not json at all`,
		`{"instrument":"","close":50}`,
		`{"instrument":"KRW-ETH","timestamp":1735693200000,"open":10,"high":11,"low":9,"close":10.5,"volume":3}`,
	})
	defer srv.Close()

	stream := NewCandleStream(StreamConfig{
		URL:         wsURL(srv),
		Instruments: []string{"KRW-BTC", "KRW-ETH"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.Run(ctx)

	var events []StreamEvent
	timeout := time.After(3 * time.Second)
	for len(events) < 2 {
		select {
		case ev := <-stream.Events():
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("got %d events, want 2", len(events))
		}
	}

	assert.Equal(t, "KRW-BTC", events[0].Instrument)
	assert.Equal(t, "KRW-BTC", events[0].Candle.Instrument)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), events[0].Candle.Timestamp)
	assert.Equal(t, 105.0, events[0].Candle.Close)
	assert.Equal(t, 12.5, events[0].Candle.Volume)

	// The garbage payload and the empty-instrument record are skipped.
	assert.Equal(t, "KRW-ETH", events[1].Instrument)
	assert.Equal(t, 10.5, events[1].Candle.Close)
}

func TestCandleStreamStopsOnCancel(t *testing.T) {
	srv := wsFixture(t, nil)
	defer srv.Close()

	stream := NewCandleStream(StreamConfig{
		URL:         wsURL(srv),
		Instruments: []string{"KRW-BTC"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}

	// Events channel closes when Run returns.
	for range stream.Events() {
	}
}

func TestCandleStreamReconnects(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		// Drop the first connection right away to force a reconnect.
		if n == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		var sub map[string]interface{}
		require.NoError(t, conn.ReadJSON(&sub))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"instrument":"KRW-BTC","timestamp":1735689600000,"close":105,"open":100,"high":110,"low":95,"volume":1}`)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := NewCandleStream(StreamConfig{
		URL:            wsURL(srv),
		Instruments:    []string{"KRW-BTC"},
		ReconnectDelay: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.Run(ctx)

	select {
	case ev := <-stream.Events():
		assert.Equal(t, "KRW-BTC", ev.Instrument)
		assert.GreaterOrEqual(t, conns.Load(), int32(2))
	case <-time.After(3 * time.Second):
		t.Fatal("no event after reconnect")
	}
}
