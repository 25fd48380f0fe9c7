package push

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/lancachetools/cacheops/internal/events"
	"github.com/lancachetools/cacheops/internal/ops"
)

// TestBroadcasterDeliversEvents connects a real WebSocket client and checks
// a consumed batch arrives as JSON messages.
func TestBroadcasterDeliversEvents(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(Config{})
	srv := httptest.NewServer(b)
	defer srv.Close()
	defer func() {
		require.NoError(t, b.Close(context.Background()))
	}()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		require.NoError(t, resp.Body.Close())
	}
	defer func() {
		_ = conn.Close()
	}()

	require.Eventually(t, func() bool {
		return b.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Consume(context.Background(), []events.Event{
		{
			Type:            events.TypeProgress,
			OperationID:     "op-1",
			Kind:            ops.KindGameRemoval,
			EntityKey:       "730",
			PercentComplete: 42,
			Message:         "halfway",
			TS:              time.Now().UTC(),
		},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Equal(t, "progress", got["event"])
	require.Equal(t, "op-1", got["operationId"])
	require.Equal(t, "730", got["entityKey"])
	require.Equal(t, 42.0, got["percentComplete"])
	require.Equal(t, "halfway", got["message"])
}

// TestBroadcasterCloseDisconnectsClients verifies Close tears connections
// down and later connection attempts are refused.
func TestBroadcasterCloseDisconnectsClients(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(Config{})
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		require.NoError(t, resp.Body.Close())
	}
	defer func() {
		_ = conn.Close()
	}()

	require.Eventually(t, func() bool {
		return b.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close(context.Background()))
	require.Zero(t, b.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, readErr := conn.ReadMessage()
	require.Error(t, readErr)
}

// TestBroadcasterConsumeWithoutClients verifies consuming with nobody
// connected is a no-op rather than an error.
func TestBroadcasterConsumeWithoutClients(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(Config{})
	require.NoError(t, b.Consume(context.Background(), []events.Event{
		{Type: events.TypeStarted, OperationID: "op-1", TS: time.Now()},
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}
