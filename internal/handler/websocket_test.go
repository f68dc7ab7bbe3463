package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/items-api/internal/model"
)

// waitForClients polls until the handler tracks want clients.
func waitForClients(t *testing.T, h *WebSocketHandler, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), want)
}

func dialFeed(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + EventsPath
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusSwitchingProtocols)
	}
	return conn
}

func newFeedServer(t *testing.T) (*WebSocketHandler, *httptest.Server) {
	t.Helper()

	h := NewWebSocketHandler(zap.NewNop())
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		h.CloseAllConnections()
		server.Close()
	})
	return h, server
}

func TestNewWebSocketHandler(t *testing.T) {
	// Act
	h := NewWebSocketHandler(zap.NewNop())

	// Assert
	if h.clients == nil {
		t.Error("clients map should be initialized")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", h.ClientCount())
	}
}

func TestWebSocketHandler_RegisterRoutes(t *testing.T) {
	// Arrange
	h := NewWebSocketHandler(zap.NewNop())
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	// Act - a plain GET fails the upgrade but must be routed
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, EventsPath, nil))

	// Assert
	if rr.Code == http.StatusNotFound {
		t.Errorf("route %s not found", EventsPath)
	}
}

func TestWebSocketHandler_PublishDeliversEvent(t *testing.T) {
	// Arrange
	h, server := newFeedServer(t)
	conn := dialFeed(t, server)
	defer conn.Close()
	waitForClients(t, h, 1)

	item := model.Item{ID: 7, Title: "T", Content: "C", Status: model.StatusActive}

	// Act
	h.Publish(model.NewItemEvent(model.EventItemCreated, item))

	// Assert
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var event model.ItemEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if event.Type != model.EventItemCreated {
		t.Errorf("Type = %s, want %s", event.Type, model.EventItemCreated)
	}
	if event.Item != item {
		t.Errorf("Item = %+v, want %+v", event.Item, item)
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
}

func TestWebSocketHandler_PublishFansOut(t *testing.T) {
	// Arrange
	h, server := newFeedServer(t)
	const numClients = 3
	conns := make([]*websocket.Conn, 0, numClients)
	for i := 0; i < numClients; i++ {
		conn := dialFeed(t, server)
		defer conn.Close()
		conns = append(conns, conn)
	}
	waitForClients(t, h, numClients)

	// Act
	h.Publish(model.NewItemEvent(model.EventItemDeleted, model.Item{ID: 1, Title: "T"}))

	// Assert
	for i, conn := range conns {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var event model.ItemEvent
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("client %d ReadJSON: %v", i, err)
		}
		if event.Type != model.EventItemDeleted {
			t.Errorf("client %d Type = %s, want %s", i, event.Type, model.EventItemDeleted)
		}
	}
}

func TestWebSocketHandler_PublishWithoutClients(t *testing.T) {
	h := NewWebSocketHandler(zap.NewNop())

	h.Publish(model.NewItemEvent(model.EventItemUpdated, model.Item{ID: 1}))

	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", h.ClientCount())
	}
}

func TestWebSocketHandler_ClientDisconnect(t *testing.T) {
	// Arrange
	h, server := newFeedServer(t)
	conn := dialFeed(t, server)
	waitForClients(t, h, 1)

	// Act
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	// Assert
	waitForClients(t, h, 0)
}

func TestWebSocketHandler_CloseAllConnections(t *testing.T) {
	// Arrange
	h, server := newFeedServer(t)
	conn := dialFeed(t, server)
	defer conn.Close()
	waitForClients(t, h, 1)

	// Act
	h.CloseAllConnections()

	// Assert
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", h.ClientCount())
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected read error after server closed the connection")
	}
}
