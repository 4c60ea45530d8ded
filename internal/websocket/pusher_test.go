package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopmgr/internal/entitlement"
	"shopmgr/pkg/contracts/events"
)

type fakeSource struct {
	allowed atomic.Bool
	calls   atomic.Int32
}

func (f *fakeSource) Resolve(context.Context) entitlement.AccessState {
	f.calls.Add(1)
	if f.allowed.Load() {
		return entitlement.AccessState{Allowed: true, Reason: entitlement.ReasonLicensed, DeviceID: "dev"}
	}
	return entitlement.AccessState{Allowed: false, Reason: entitlement.ReasonExpired, DeviceID: "dev"}
}

type pushedMessage struct {
	Type events.MessageType      `json:"type"`
	Data entitlement.AccessState `json:"data"`
}

func startPusher(t *testing.T, interval time.Duration) (*Pusher, *fakeSource, string) {
	t.Helper()

	source := &fakeSource{}
	pusher := NewPusher(source, interval, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pusher.Run(ctx)
	}()

	server := httptest.NewServer(pusher)
	t.Cleanup(func() {
		cancel()
		<-done
		server.Close()
	})

	return pusher, source, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readState(t *testing.T, conn *websocket.Conn) pushedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg pushedMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestPusherSendsStateOnConnect(t *testing.T) {
	_, _, url := startPusher(t, time.Hour)

	conn := dial(t, url)
	msg := readState(t, conn)

	assert.Equal(t, events.MessageTypeEntitlement, msg.Type)
	assert.False(t, msg.Data.Allowed)
	assert.Equal(t, entitlement.ReasonExpired, msg.Data.Reason)
	assert.Equal(t, "dev", msg.Data.DeviceID)
}

func TestPusherNotifyPushesNewState(t *testing.T) {
	pusher, source, url := startPusher(t, time.Hour)

	conn := dial(t, url)
	first := readState(t, conn)
	require.False(t, first.Data.Allowed)

	require.Eventually(t, func() bool {
		return pusher.Clients(context.Background()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	source.allowed.Store(true)
	pusher.Notify(context.Background())

	second := readState(t, conn)
	assert.True(t, second.Data.Allowed)
	assert.Equal(t, entitlement.ReasonLicensed, second.Data.Reason)
}

func TestPusherPushesOnInterval(t *testing.T) {
	pusher, _, url := startPusher(t, 50*time.Millisecond)

	conn := dial(t, url)
	readState(t, conn)

	require.Eventually(t, func() bool {
		return pusher.Clients(context.Background()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	msg := readState(t, conn)
	assert.Equal(t, events.MessageTypeEntitlement, msg.Type)
}

func TestPusherSkipsResolveWithoutClients(t *testing.T) {
	pusher, source, _ := startPusher(t, time.Hour)

	pusher.Notify(context.Background())
	pusher.Notify(context.Background())
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, source.calls.Load())
}

func TestPusherUnregistersClosedClients(t *testing.T) {
	pusher, _, url := startPusher(t, time.Hour)

	conn := dial(t, url)
	readState(t, conn)
	require.Eventually(t, func() bool {
		return pusher.Clients(context.Background()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	assert.Eventually(t, func() bool {
		return pusher.Clients(context.Background()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPusherRejectsCrossOrigin(t *testing.T) {
	_, _, url := startPusher(t, time.Hour)

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPusherClosesClientsOnShutdown(t *testing.T) {
	source := &fakeSource{}
	pusher := NewPusher(source, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pusher.Run(ctx)
	}()
	server := httptest.NewServer(pusher)
	defer server.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(server.URL, "http"))
	readState(t, conn)
	require.Eventually(t, func() bool {
		return pusher.Clients(context.Background()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
