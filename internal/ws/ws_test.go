package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/concertify/concertify/internal/appstate"
	"github.com/concertify/concertify/internal/live"
)

type fakeFeed struct {
	mu    sync.Mutex
	items []any
}

func (f *fakeFeed) set(items []any) {
	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
}

func (f *fakeFeed) fetch(ctx context.Context, q live.Query) ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items, nil
}

func setupHub(t *testing.T) (*Hub, *live.Manager, *appstate.Registry, *fakeFeed) {
	t.Helper()
	bus := live.NewManager(zerolog.Nop())
	feed := &fakeFeed{items: []any{}}
	bus.RegisterFetcher(live.CollectionPosts, feed.fetch)

	state := appstate.NewRegistry(zerolog.Nop())
	hub := NewHub(bus, state, zerolog.Nop())
	go hub.Run()
	time.Sleep(10 * time.Millisecond)
	return hub, bus, state, feed
}

func dial(t *testing.T, hub *Hub, userID, username string) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("username", username)
		hub.HandleWebSocket(c)
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) ServerEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var evt ServerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	return evt
}

func send(t *testing.T, conn *websocket.Conn, cmd Command) {
	t.Helper()
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("Failed to send command: %v", err)
	}
}

func TestHubCreation(t *testing.T) {
	hub, _, _, _ := setupHub(t)
	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}
	if hub.register == nil {
		t.Error("Hub register channel is nil")
	}
	if hub.unregister == nil {
		t.Error("Hub unregister channel is nil")
	}
}

func TestConnectRegistersClient(t *testing.T) {
	hub, _, _, _ := setupHub(t)
	conn := dial(t, hub, "u1", "ana")

	time.Sleep(50 * time.Millisecond)
	if !hub.IsUserOnline("u1") {
		t.Error("WebSocket client was not registered in hub")
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond)
	if hub.IsUserOnline("u1") {
		t.Error("Client still registered after disconnect")
	}
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	hub, bus, _, feed := setupHub(t)
	conn := dial(t, hub, "u1", "ana")

	feed.set([]any{"first"})
	send(t, conn, Command{Type: "subscribe", ID: "s1", Stream: "posts", Scope: "c1"})

	evt := readEvent(t, conn)
	if evt.Type != "snapshot" || evt.ID != "s1" {
		t.Fatalf("Expected snapshot for s1, got %+v", evt)
	}
	if len(evt.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(evt.Items))
	}

	feed.set([]any{"first", "second"})
	bus.Publish(live.Event{Collection: live.CollectionPosts, Scope: "c1"})

	evt = readEvent(t, conn)
	if evt.Type != "snapshot" || len(evt.Items) != 2 {
		t.Fatalf("Expected refreshed snapshot with 2 items, got %+v", evt)
	}
}

func TestSubscribeUnknownStream(t *testing.T) {
	hub, _, _, _ := setupHub(t)
	conn := dial(t, hub, "u1", "ana")

	send(t, conn, Command{Type: "subscribe", ID: "s1", Stream: "nope"})

	evt := readEvent(t, conn)
	if evt.Type != "error" {
		t.Fatalf("Expected error event, got %+v", evt)
	}
	if evt.Error == "" {
		t.Error("Error event carries no message")
	}
}

func TestSubscribeWithoutID(t *testing.T) {
	hub, _, _, _ := setupHub(t)
	conn := dial(t, hub, "u1", "ana")

	send(t, conn, Command{Type: "subscribe", Stream: "posts"})

	evt := readEvent(t, conn)
	if evt.Type != "error" {
		t.Fatalf("Expected error event, got %+v", evt)
	}
}

func TestUnsubscribeClosesStream(t *testing.T) {
	hub, _, _, _ := setupHub(t)
	conn := dial(t, hub, "u1", "ana")

	send(t, conn, Command{Type: "subscribe", ID: "s1", Stream: "posts", Scope: "c1"})
	if evt := readEvent(t, conn); evt.Type != "snapshot" {
		t.Fatalf("Expected initial snapshot, got %+v", evt)
	}

	send(t, conn, Command{Type: "unsubscribe", ID: "s1"})

	evt := readEvent(t, conn)
	if evt.Type != "stream_closed" || evt.ID != "s1" {
		t.Fatalf("Expected stream_closed for s1, got %+v", evt)
	}
	if evt.Error != "" {
		t.Errorf("Clean unsubscribe should carry no error, got %q", evt.Error)
	}
}

func TestRoomsScopeIsForcedToSelf(t *testing.T) {
	hub, bus, _, _ := setupHub(t)

	var mu sync.Mutex
	var seenScope string
	bus.RegisterFetcher(live.CollectionRooms, func(ctx context.Context, q live.Query) ([]any, error) {
		mu.Lock()
		seenScope = q.Scope
		mu.Unlock()
		return []any{}, nil
	})

	conn := dial(t, hub, "u1", "ana")

	// Asking for someone else's conversation list must be ignored.
	send(t, conn, Command{Type: "subscribe", ID: "s1", Stream: "rooms", Scope: "u2"})
	readEvent(t, conn)

	mu.Lock()
	defer mu.Unlock()
	if seenScope != "u1" {
		t.Errorf("Expected rooms scope u1, got %q", seenScope)
	}
}

func TestMessagesSubscriptionCarriesViewer(t *testing.T) {
	hub, bus, _, _ := setupHub(t)

	var mu sync.Mutex
	var viewer string
	bus.RegisterFetcher(live.CollectionMessages, func(ctx context.Context, q live.Query) ([]any, error) {
		mu.Lock()
		for _, f := range q.Filters {
			if f.Field == "viewer" {
				viewer = f.Value
			}
		}
		mu.Unlock()
		return []any{}, nil
	})

	conn := dial(t, hub, "u1", "ana")
	send(t, conn, Command{Type: "subscribe", ID: "s1", Stream: "messages", Scope: "u1_u2"})
	readEvent(t, conn)

	mu.Lock()
	defer mu.Unlock()
	if viewer != "u1" {
		t.Errorf("Expected viewer filter u1, got %q", viewer)
	}
}

func TestSetActiveConcertCommand(t *testing.T) {
	hub, _, state, _ := setupHub(t)
	conn := dial(t, hub, "u1", "ana")

	send(t, conn, Command{Type: "set_active_concert", Scope: "c1"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state.Get("u1").ActiveConcertID == "c1" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Active concert was not set, state=%+v", state.Get("u1"))
}
