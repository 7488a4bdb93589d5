package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/investr/trade-engine/internal/events"
)

type recorder struct {
	got []events.Event
	err error
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.got = append(r.got, e)
	return r.err
}

func TestMultiContinuesPastFailure(t *testing.T) {
	failing := &recorder{err: errors.New("broker down")}
	ok := &recorder{}
	m := events.Multi{{Name: "failing", Publisher: failing}, {Name: "ok", Publisher: ok}}

	err := m.Publish(context.Background(), events.Event{Type: events.TypeCashMoved, Key: "1"})
	require.ErrorContains(t, err, "broker down")
	require.Len(t, failing.got, 1)
	require.Len(t, ok.got, 1)
}

func TestHubBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	sent := events.Event{Type: events.TypePriceTick, Key: "ACME", Time: time.Now().UTC(), Data: map[string]string{"price": "50.25"}}
	require.NoError(t, hub.Publish(ctx, sent))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal(msg, &got))
	require.Equal(t, events.TypePriceTick, got.Type)
	require.Equal(t, "ACME", got.Key)
}

func TestHubTypeFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?types=" + events.TypeTradeExecuted
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, events.Event{Type: events.TypePriceTick, Key: "ACME"}))
	require.NoError(t, hub.Publish(ctx, events.Event{Type: events.TypeTradeExecuted, Key: "6000000001"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal(msg, &got))
	require.Equal(t, events.TypeTradeExecuted, got.Type)
	require.Equal(t, "6000000001", got.Key)
}
