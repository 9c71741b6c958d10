package notify

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_BroadcastsAndFilters(t *testing.T) {
	log, _ := test.NewNullLogger()
	hub := NewHub(log)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	all := dialHub(t, srv, "")
	alice := dialHub(t, srv, "?actor=alice")
	require.Eventually(t, func() bool { return hub.Len() == 2 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.HandleEvent(ctx, domain.Event{Type: domain.EventItemMoved, ActorID: "bob", ItemID: "i-1"}))
	require.NoError(t, hub.HandleEvent(ctx, domain.Event{Type: domain.EventItemEquipped, ActorID: "alice", ItemID: "i-2"}))

	assert.Equal(t, domain.ID("i-1"), readEvent(t, all).ItemID)
	assert.Equal(t, domain.ID("i-2"), readEvent(t, all).ItemID)

	got := readEvent(t, alice)
	assert.Equal(t, domain.EventItemEquipped, got.Type)
	assert.Equal(t, domain.ID("alice"), got.ActorID)
}

func TestHub_ClientDisconnect(t *testing.T) {
	log, _ := test.NewNullLogger()
	hub := NewHub(log)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv, "")
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 10*time.Millisecond)

	assert.NoError(t, hub.HandleEvent(context.Background(), domain.Event{Type: domain.EventItemMoved}))
}

func TestHub_DropsSlowClients(t *testing.T) {
	log, hook := test.NewNullLogger()
	hub := NewHub(log)
	c := &client{send: make(chan []byte, 1)}
	hub.clients[c] = struct{}{}

	ctx := context.Background()
	require.NoError(t, hub.HandleEvent(ctx, domain.Event{Type: domain.EventItemMoved}))
	require.NoError(t, hub.HandleEvent(ctx, domain.Event{Type: domain.EventItemMoved}))

	assert.Equal(t, 0, hub.Len())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	hub.Close()
}

func TestLogListener(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	l := NewLogListener(log)
	ctx := context.Background()

	require.NoError(t, l.HandleEvent(ctx, domain.Event{
		Type:     domain.EventItemMoved,
		ItemID:   "i-1",
		ToParent: domain.ContainerParent("c-1"),
	}))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "container:c-1", entry.Data["to"])
	assert.Equal(t, "none", entry.Data["from"])

	require.NoError(t, l.HandleEvent(ctx, domain.Event{Type: domain.EventTransactionFailed, Error: "SLOT_CONFLICT: occupied"}))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "SLOT_CONFLICT: occupied", hook.LastEntry().Data["error"])
}

func TestRedisPublisher(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	channel := "mudsnake:test:" + domain.NewID().String()
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client, channel)
	require.NoError(t, pub.HandleEvent(ctx, domain.Event{Type: domain.EventItemCreated, ItemID: "i-9"}))

	select {
	case msg := <-sub.Channel():
		var ev domain.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, domain.ID("i-9"), ev.ItemID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}
