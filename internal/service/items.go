// Package service implements the item operations on top of a Store.
package service

import (
	"context"
	"errors"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/items-api/internal/model"
	"github.com/vyrodovalexey/items-api/internal/store"
)

// Pagination defaults.
const (
	DefaultPage        = 1
	DefaultPageSize    = 10
	DefaultMaxPageSize = 100
)

// Operation results recorded in metrics.
const (
	resultOK         = "ok"
	resultInvalid    = "invalid"
	resultNotFound   = "not_found"
	resultStoreError = "error"
)

var itemOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "items_operations_total",
		Help: "Total number of item operations by outcome",
	},
	[]string{"operation", "result"},
)

// Publisher receives change events after successful mutations.
type Publisher interface {
	Publish(event model.ItemEvent)
}

// Option configures an ItemService.
type Option func(*ItemService)

// WithPublisher sets the change-event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *ItemService) {
		s.publisher = p
	}
}

// WithMaxPageSize caps page_size on List. Zero disables the cap.
func WithMaxPageSize(n int) Option {
	return func(s *ItemService) {
		s.maxPageSize = n
	}
}

// ItemService validates input, computes pagination windows and runs the
// item operations against the store.
type ItemService struct {
	store       store.Store
	logger      *zap.Logger
	publisher   Publisher
	maxPageSize int
}

// NewItemService creates a new ItemService instance.
func NewItemService(s store.Store, logger *zap.Logger, opts ...Option) *ItemService {
	svc := &ItemService{
		store:       s,
		logger:      logger,
		maxPageSize: DefaultMaxPageSize,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create validates the input, applies defaults and persists a new item.
func (s *ItemService) Create(ctx context.Context, input model.CreateItemInput) (*model.Item, error) {
	if err := input.Validate(); err != nil {
		s.record("create", err)
		return nil, err
	}
	input.Normalize()

	item, err := s.store.Create(ctx, input.ToItem())
	s.record("create", err)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("item created", zap.Int64("id", item.ID))
	s.publish(model.EventItemCreated, *item)

	return item, nil
}

// Get returns a single item by ID.
func (s *ItemService) Get(ctx context.Context, id int64) (*model.Item, error) {
	item, err := s.store.Get(ctx, id)
	s.record("get", err)
	return item, err
}

// List returns one page of items ordered by ascending ID together with
// the pagination totals. A page past the end yields no items.
func (s *ItemService) List(ctx context.Context, page, pageSize int) (*model.ItemPage, error) {
	if err := validatePageParams(page, pageSize); err != nil {
		s.record("list", err)
		return nil, err
	}
	if s.maxPageSize > 0 && pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	total, err := s.store.Count(ctx)
	if err != nil {
		s.record("list", err)
		return nil, err
	}

	items := []model.Item{}
	if offset, ok := pageOffset(page, pageSize); ok && offset < total {
		items, err = s.store.List(ctx, offset, pageSize)
		if err != nil {
			s.record("list", err)
			return nil, err
		}
	}
	s.record("list", nil)

	return model.NewItemPage(items, total, page, pageSize), nil
}

// Update applies a partial patch: only supplied fields are written.
func (s *ItemService) Update(ctx context.Context, id int64, patch model.ItemPatch) (*model.Item, error) {
	if err := patch.Validate(); err != nil {
		s.record("update", err)
		return nil, err
	}

	item, err := s.store.Update(ctx, id, patch)
	s.record("update", err)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("item updated", zap.Int64("id", item.ID))
	s.publish(model.EventItemUpdated, *item)

	return item, nil
}

// Delete removes an item and returns its state immediately before removal.
func (s *ItemService) Delete(ctx context.Context, id int64) (*model.Item, error) {
	item, err := s.store.Delete(ctx, id)
	s.record("delete", err)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("item deleted", zap.Int64("id", item.ID))
	s.publish(model.EventItemDeleted, *item)

	return item, nil
}

// Ping reports whether the backing store is reachable.
func (s *ItemService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *ItemService) publish(eventType string, item model.Item) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(model.NewItemEvent(eventType, item))
}

func (s *ItemService) record(operation string, err error) {
	itemOperationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	var ve *model.ValidationError
	switch {
	case err == nil:
		return resultOK
	case errors.As(err, &ve):
		return resultInvalid
	case errors.Is(err, store.ErrNotFound):
		return resultNotFound
	default:
		return resultStoreError
	}
}

func validatePageParams(page, pageSize int) error {
	ve := &model.ValidationError{}
	if page < 1 {
		ve.Fields = append(ve.Fields, model.FieldError{Field: "page", Message: "must be >= 1"})
	}
	if pageSize < 1 {
		ve.Fields = append(ve.Fields, model.FieldError{Field: "page_size", Message: "must be >= 1"})
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

// pageOffset computes (page-1)*pageSize, reporting false on overflow.
func pageOffset(page, pageSize int) (int, bool) {
	if page-1 > math.MaxInt/pageSize {
		return 0, false
	}
	return (page - 1) * pageSize, true
}
