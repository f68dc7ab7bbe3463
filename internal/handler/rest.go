package handler

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/items-api/internal/auth"
	"github.com/vyrodovalexey/items-api/internal/middleware"
	"github.com/vyrodovalexey/items-api/internal/model"
	"github.com/vyrodovalexey/items-api/internal/service"
	"github.com/vyrodovalexey/items-api/internal/store"
)

// APIPrefix is the versioned mount point for the item routes.
const APIPrefix = "/v1"

const (
	maxBodyBytes = 1 << 20
	readyTimeout = 2 * time.Second
)

//go:embed openapi.json
var openAPIDocument []byte

// RESTHandler handles REST API requests for items.
type RESTHandler struct {
	items  *service.ItemService
	logger *zap.Logger
}

// NewRESTHandler creates a new RESTHandler instance.
func NewRESTHandler(items *service.ItemService, logger *zap.Logger) *RESTHandler {
	return &RESTHandler{
		items:  items,
		logger: logger,
	}
}

// RegisterRoutes registers the REST API routes with the router. Item routes
// are served both at the root and under APIPrefix.
func (h *RESTHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.ReadyCheck).Methods(http.MethodGet)
	router.HandleFunc("/api/openapi.json", h.OpenAPI).Methods(http.MethodGet)

	h.registerItemRoutes(router)
	h.registerItemRoutes(router.PathPrefix(APIPrefix).Subrouter())
}

// registerItemRoutes serves the collection with and without a trailing
// slash; existing clients of the /v1 mount post to /v1/items/.
func (h *RESTHandler) registerItemRoutes(router *mux.Router) {
	for _, collection := range []string{"/items", "/items/"} {
		router.HandleFunc(collection, h.ListItems).Methods(http.MethodGet)
		router.HandleFunc(collection, h.CreateItem).Methods(http.MethodPost)
	}
	router.HandleFunc("/items/{id}", h.GetItem).Methods(http.MethodGet)
	router.HandleFunc("/items/{id}", h.UpdateItem).Methods(http.MethodPut)
	router.HandleFunc("/items/{id}", h.DeleteItem).Methods(http.MethodDelete)
}

// HealthCheck handles GET /health requests.
func (h *RESTHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: Version,
		Message: HealthMessage,
	})
}

// ReadyCheck handles GET /ready requests by pinging the store.
func (h *RESTHandler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.items.Ping(ctx); err != nil {
		h.logger.Warn("store not ready", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not ready",
			Error:  err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready"})
}

// OpenAPI serves the OpenAPI 3 document describing the API.
func (h *RESTHandler) OpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(openAPIDocument); err != nil {
		h.logger.Debug("failed to write openapi document", zap.Error(err))
	}
}

// ListItems handles GET /items requests.
func (h *RESTHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := parsePageParams(r)
	if err != nil {
		h.handleError(w, r, err, "list items")
		return
	}

	result, err := h.items.List(r.Context(), page, pageSize)
	if err != nil {
		h.handleError(w, r, err, "list items")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GetItem handles GET /items/{id} requests.
func (h *RESTHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.handleError(w, r, err, "get item")
		return
	}

	item, err := h.items.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err, "get item")
		return
	}

	h.writeJSON(w, http.StatusOK, item)
}

// CreateItem handles POST /items requests.
func (h *RESTHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var input model.CreateItemInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.handleError(w, r, err, "create item")
		return
	}

	item, err := h.items.Create(r.Context(), input)
	if err != nil {
		h.handleError(w, r, err, "create item")
		return
	}

	h.writeJSON(w, http.StatusOK, item)
}

// UpdateItem handles PUT /items/{id} requests. Only the fields present in
// the body are changed.
func (h *RESTHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.handleError(w, r, err, "update item")
		return
	}

	var patch model.ItemPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		h.handleError(w, r, err, "update item")
		return
	}

	item, err := h.items.Update(r.Context(), id, patch)
	if err != nil {
		h.handleError(w, r, err, "update item")
		return
	}

	h.writeJSON(w, http.StatusOK, item)
}

// DeleteItem handles DELETE /items/{id} requests and returns the removed item.
func (h *RESTHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.handleError(w, r, err, "delete item")
		return
	}

	item, err := h.items.Delete(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err, "delete item")
		return
	}

	h.writeJSON(w, http.StatusOK, item)
}

// handleError maps service errors to HTTP responses.
func (h *RESTHandler) handleError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		h.logger.Warn("validation failed", requestFields(r, operation, err)...)
		h.writeJSON(w, http.StatusUnprocessableEntity, model.ErrorResponse{
			Code:    http.StatusUnprocessableEntity,
			Message: "validation failed",
			Fields:  ve.Fields,
		})
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, store.ErrNotFound.Error())
	default:
		h.logger.Error("store operation failed", requestFields(r, operation, err)...)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// requestFields identifies the request and the caller in error logs.
func requestFields(r *http.Request, operation string, err error) []zap.Field {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
	}
	if info, ok := auth.FromContext(r.Context()); ok {
		fields = append(fields,
			zap.String("subject", info.Subject),
			zap.String("auth_method", string(info.Method)),
		)
	}
	return append(fields, zap.Error(err))
}

// writeJSON writes a JSON response with the given status code.
func (h *RESTHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError writes an error response with the given status code and message.
func (h *RESTHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, model.ErrorResponse{
		Code:    status,
		Message: message,
	})
}

// decodeJSON decodes the request body into dst. Decode failures are reported
// as validation errors so they share the 422 response shape.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))

	err := dec.Decode(dst)
	if err == nil {
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return model.NewValidationError("body", "must contain a single JSON object")
		}
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return model.NewValidationError("body", "request body is required")
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return model.NewValidationError(typeErr.Field, "must be a "+jsonKind(typeErr.Type))
	case errors.As(err, &maxErr):
		return model.NewValidationError("body", "request body too large")
	default:
		return model.NewValidationError("body", "malformed JSON")
	}
}

// jsonKind names the JSON type expected for a Go type.
func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}

// parseID extracts the integer item id from the route.
func parseID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, model.NewValidationError("id", "must be an integer")
	}
	return id, nil
}

// parsePageParams reads page and page_size, falling back to the defaults
// when a parameter is absent. Range checks happen in the service.
func parsePageParams(r *http.Request) (int, int, error) {
	query := r.URL.Query()
	ve := &model.ValidationError{}

	page := parseIntParam(query.Get("page"), service.DefaultPage, "page", ve)
	pageSize := parseIntParam(query.Get("page_size"), service.DefaultPageSize, "page_size", ve)

	if len(ve.Fields) > 0 {
		return 0, 0, ve
	}
	return page, pageSize, nil
}

func parseIntParam(raw string, def int, field string, ve *model.ValidationError) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		ve.Fields = append(ve.Fields, model.FieldError{Field: field, Message: "must be an integer"})
		return 0
	}
	return n
}
