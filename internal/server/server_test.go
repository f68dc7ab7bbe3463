package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/items-api/internal/auth"
	"github.com/vyrodovalexey/items-api/internal/config"
	"github.com/vyrodovalexey/items-api/internal/model"
	"github.com/vyrodovalexey/items-api/internal/store"
)

const testAPIKey = "test-key"

// countingStore records how many calls reach the backing store.
type countingStore struct {
	store.Store
	calls atomic.Int64
}

func (c *countingStore) List(ctx context.Context, offset, limit int) ([]model.Item, error) {
	c.calls.Add(1)
	return c.Store.List(ctx, offset, limit)
}

func (c *countingStore) Count(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return c.Store.Count(ctx)
}

func (c *countingStore) Get(ctx context.Context, id int64) (*model.Item, error) {
	c.calls.Add(1)
	return c.Store.Get(ctx, id)
}

func (c *countingStore) Create(ctx context.Context, item *model.Item) (*model.Item, error) {
	c.calls.Add(1)
	return c.Store.Create(ctx, item)
}

func (c *countingStore) Update(ctx context.Context, id int64, patch model.ItemPatch) (*model.Item, error) {
	c.calls.Add(1)
	return c.Store.Update(ctx, id, patch)
}

func (c *countingStore) Delete(ctx context.Context, id int64) (*model.Item, error) {
	c.calls.Add(1)
	return c.Store.Delete(ctx, id)
}

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:      8080,
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
		MetricsEnabled:  true,
		DatabaseDriver:  store.DriverMemory,
		APIKey:          testAPIKey,
		MaxPageSize:     100,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, s store.Store) *Server {
	t.Helper()

	authenticator, err := auth.NewAPIKeyAuthenticator(cfg.APIKey)
	if err != nil {
		t.Fatalf("NewAPIKeyAuthenticator() error = %v", err)
	}
	return New(cfg, zap.NewNop(), s, authenticator)
}

func send(t *testing.T, h http.Handler, method, path, body, key string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(auth.APIKeyHeader, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestServer_ItemLifecycle(t *testing.T) {
	// Arrange
	ctx := context.Background()
	itemStore, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "items.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = itemStore.Close() })
	router := newTestServer(t, testConfig(), itemStore).Router()

	// Create
	rr := send(t, router, http.MethodPost, "/items", `{"title":"A","content":"B"}`, testAPIKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	created := decode[model.Item](t, rr)
	want := model.Item{ID: 1, Title: "A", Content: "B", Status: model.StatusActive}
	if created != want {
		t.Fatalf("created = %+v, want %+v", created, want)
	}

	// List
	rr = send(t, router, http.MethodGet, "/items?page=1&page_size=10", "", testAPIKey)
	page := decode[model.ItemPage](t, rr)
	if len(page.Items) != 1 || page.Items[0] != created {
		t.Errorf("items = %+v, want [%+v]", page.Items, created)
	}
	if page.TotalItems != 1 || page.Page != 1 || page.TotalPages != 1 || page.PageSize != 10 {
		t.Errorf("page = %+v", page)
	}

	// Partial update
	rr = send(t, router, http.MethodPut, "/items/1", `{"status":"not_active"}`, testAPIKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d, want 200", rr.Code)
	}
	updated := decode[model.Item](t, rr)
	want.Status = model.StatusNotActive
	if updated != want {
		t.Errorf("updated = %+v, want %+v", updated, want)
	}

	// Delete
	rr = send(t, router, http.MethodDelete, "/items/1", "", testAPIKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rr.Code)
	}
	if deleted := decode[model.Item](t, rr); deleted != want {
		t.Errorf("deleted = %+v, want %+v", deleted, want)
	}

	rr = send(t, router, http.MethodGet, "/items", "", testAPIKey)
	if page := decode[model.ItemPage](t, rr); page.TotalItems != 0 || len(page.Items) != 0 {
		t.Errorf("after delete page = %+v, want empty", page)
	}
}

func TestServer_AuthRejectsBeforeStore(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		key    string
	}{
		{name: "create without key", method: http.MethodPost, path: "/items", body: `{"title":"A","content":"B"}`},
		{name: "list with wrong key", method: http.MethodGet, path: "/items", key: "wrong"},
		{name: "update with wrong key", method: http.MethodPut, path: "/items/1", body: `{"title":"X"}`, key: "wrong"},
		{name: "delete without key", method: http.MethodDelete, path: "/v1/items/1"},
		{name: "invalid body without key", method: http.MethodPost, path: "/items", body: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			s := &countingStore{Store: store.NewMemoryStore()}
			router := newTestServer(t, testConfig(), s).Router()

			// Act
			rr := send(t, router, tt.method, tt.path, tt.body, tt.key)

			// Assert
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
			if n := s.calls.Load(); n != 0 {
				t.Errorf("store calls = %d, want 0", n)
			}
		})
	}
}

func TestServer_PublicEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "health", path: "/health", wantStatus: http.StatusOK},
		{name: "ready", path: "/ready", wantStatus: http.StatusOK},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK},
		{name: "openapi", path: "/api/openapi.json", wantStatus: http.StatusOK},
	}

	router := newTestServer(t, testConfig(), store.NewMemoryStore()).Router()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := send(t, router, http.MethodGet, tt.path, "", "")

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("response is missing X-Request-ID")
			}
		})
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	paths := []string{"/items", "/items/1", "/v1/items/", "/items/events"}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			// Arrange
			s := &countingStore{Store: store.NewMemoryStore()}
			router := newTestServer(t, testConfig(), s).Router()
			req := httptest.NewRequest(http.MethodOptions, path, nil)
			req.Header.Set("Origin", "https://app.example.com")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "content-type, x-api-key")
			rr := httptest.NewRecorder()

			// Act
			router.ServeHTTP(rr, req)

			// Assert
			if rr.Code != http.StatusNoContent {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
				t.Errorf("Allow-Origin = %q", got)
			}
			if got := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
				t.Errorf("Allow-Methods = %q, want POST listed", got)
			}
			if got := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, auth.APIKeyHeader) {
				t.Errorf("Allow-Headers = %q, want %s listed", got, auth.APIKeyHeader)
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("response is missing X-Request-ID")
			}
			if n := s.calls.Load(); n != 0 {
				t.Errorf("store calls = %d, want 0", n)
			}
		})
	}
}

func TestServer_PlainOptions(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		wantStatus int
		wantAllow  bool
	}{
		{name: "with key", key: testAPIKey, wantStatus: http.StatusNoContent, wantAllow: true},
		{name: "without key", wantStatus: http.StatusUnauthorized},
	}

	router := newTestServer(t, testConfig(), store.NewMemoryStore()).Router()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := send(t, router, http.MethodOptions, "/items/1", "", tt.key)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Allow") != ""; got != tt.wantAllow {
				t.Errorf("Allow header present = %v, want %v", got, tt.wantAllow)
			}
		})
	}
}

func TestServer_CORSOnActualResponse(t *testing.T) {
	// Arrange
	router := newTestServer(t, testConfig(), store.NewMemoryStore()).Router()
	req := httptest.NewRequest(http.MethodPost, "/v1/items/", strings.NewReader(`{"title":"A","content":"B"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set(auth.APIKeyHeader, testAPIKey)
	rr := httptest.NewRecorder()

	// Act
	router.ServeHTTP(rr, req)

	// Assert
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Expose-Headers"); got != "X-Request-ID" {
		t.Errorf("Expose-Headers = %q, want X-Request-ID", got)
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = false
	router := newTestServer(t, cfg, store.NewMemoryStore()).Router()

	rr := send(t, router, http.MethodGet, "/metrics", "", "")

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestServer_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{name: "update missing item", method: http.MethodPut, path: "/items/5", body: `{"title":"X"}`, wantStatus: http.StatusNotFound},
		{name: "delete missing item", method: http.MethodDelete, path: "/items/5", wantStatus: http.StatusNotFound},
		{name: "create without content", method: http.MethodPost, path: "/items", body: `{"title":"X"}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "non-integer id", method: http.MethodGet, path: "/items/abc", wantStatus: http.StatusUnprocessableEntity},
		{name: "page size zero", method: http.MethodGet, path: "/items?page_size=0", wantStatus: http.StatusUnprocessableEntity},
	}

	router := newTestServer(t, testConfig(), store.NewMemoryStore()).Router()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := send(t, router, tt.method, tt.path, tt.body, testAPIKey)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			resp := decode[model.ErrorResponse](t, rr)
			if resp.Code != tt.wantStatus {
				t.Errorf("code = %d, want %d", resp.Code, tt.wantStatus)
			}
		})
	}
}

func TestServer_ChangeFeed(t *testing.T) {
	// Arrange
	srv := newTestServer(t, testConfig(), store.NewMemoryStore())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.wsHandler.CloseAllConnections()
		ts.Close()
	})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/items/events"

	// Unauthenticated dial is refused.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Dial() without key succeeded, want error")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Dial() without key response = %v, want 401", resp)
	}

	header := http.Header{}
	header.Set(auth.APIKeyHeader, testAPIKey)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.wsHandler.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	// Act
	rr := send(t, srv.Router(), http.MethodPost, "/items", `{"title":"A","content":"B"}`, testAPIKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d", rr.Code)
	}

	// Assert
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event model.ItemEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if event.Type != model.EventItemCreated || event.Item.Title != "A" {
		t.Errorf("event = %+v", event)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	// Arrange
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	cfg := testConfig()
	cfg.ServerPort = port
	srv := newTestServer(t, cfg, store.NewMemoryStore())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	url := "http://127.0.0.1" + cfg.Address() + "/health"
	var healthy bool
	for i := 0; i < 50 && !healthy; i++ {
		if resp, err := http.Get(url); err == nil {
			healthy = resp.StatusCode == http.StatusOK
			_ = resp.Body.Close()
		}
		if !healthy {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if !healthy {
		t.Fatal("server never became healthy")
	}

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(ctx)

	// Assert
	if shutdownErr != nil {
		t.Errorf("Shutdown() error = %v", shutdownErr)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Start() did not return after Shutdown")
	}
}
