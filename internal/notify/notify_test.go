package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	ev := Event{Kind: KindBuy, Instrument: "KRW-BTC", Message: "entry @ 100"}
	assert.Equal(t, "[BUY] KRW-BTC entry @ 100", Format(ev))

	global := Event{Kind: KindRiskAlert, Message: "trading paused"}
	assert.Equal(t, "[RISK_ALERT] trading paused", Format(global))
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background(), Event{Kind: KindExit}))
}

func TestTelegram_SendsFormPost(t *testing.T) {
	var gotPath, gotChatID, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotChatID = r.PostFormValue("chat_id")
		gotText = r.PostFormValue("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("test-token", "12345")
	tg.baseURL = srv.URL

	err := tg.Notify(context.Background(), Event{
		Kind: KindExit, Instrument: "KRW-BTC", Message: "take_profit @ 110", At: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, "12345", gotChatID)
	assert.Equal(t, "[EXIT] KRW-BTC take_profit @ 110", gotText)
}

func TestTelegram_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	tg := NewTelegram("bad", "12345")
	tg.baseURL = srv.URL

	err := tg.Notify(context.Background(), Event{Kind: KindBuy, Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Unauthorized")
}

func TestAsync_DoesNotBlock(t *testing.T) {
	done := make(chan Event, 1)
	inner := notifierFunc(func(_ context.Context, ev Event) error {
		done <- ev
		return nil
	})

	a := NewAsync(inner, zerolog.Nop())
	require.NoError(t, a.Notify(context.Background(), Event{Kind: KindBuy, Instrument: "KRW-BTC"}))

	select {
	case ev := <-done:
		assert.Equal(t, KindBuy, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("async notification never delivered")
	}
}

type notifierFunc func(context.Context, Event) error

func (f notifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }
