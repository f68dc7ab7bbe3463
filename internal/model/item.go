// Package model defines data structures used throughout the application.
package model

// Status is the lifecycle flag stored with every item. The service treats it
// as opaque data; no transitions are enforced.
type Status string

// Item status values.
const (
	StatusActive    Status = "active"
	StatusNotActive Status = "not_active"
)

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusNotActive:
		return true
	default:
		return false
	}
}

// Item represents a record managed by the service.
type Item struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
	Status  Status `json:"status,omitempty"`
}

// CreateItemInput is the request body accepted when creating an item.
type CreateItemInput struct {
	Title   string `json:"title" validate:"required,notblank"`
	Content string `json:"content" validate:"required,notblank"`
	Status  Status `json:"status,omitempty" validate:"omitempty,oneof=active not_active"`
}

// Validate checks the input against its field rules.
func (in *CreateItemInput) Validate() error {
	return validateStruct(in)
}

// Normalize fills in defaults for omitted optional fields.
func (in *CreateItemInput) Normalize() {
	if in.Status == "" {
		in.Status = StatusActive
	}
}

// ToItem converts the input into an unsaved Item.
func (in *CreateItemInput) ToItem() *Item {
	return &Item{
		Title:   in.Title,
		Content: in.Content,
		Status:  in.Status,
	}
}

// ItemPatch carries a partial update. A nil field keeps the stored value;
// explicit JSON null is treated the same as an absent field.
type ItemPatch struct {
	Title   *string `json:"title,omitempty" validate:"omitempty,notblank"`
	Content *string `json:"content,omitempty" validate:"omitempty,notblank"`
	Status  *Status `json:"status,omitempty" validate:"omitempty,oneof=active not_active"`
}

// Validate checks the supplied fields against their rules.
func (p *ItemPatch) Validate() error {
	return validateStruct(p)
}

// IsEmpty reports whether the patch changes nothing.
func (p *ItemPatch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.Status == nil
}

// Apply returns a copy of item with the patch merged in.
func (p *ItemPatch) Apply(item Item) Item {
	if p.Title != nil {
		item.Title = *p.Title
	}
	if p.Content != nil {
		item.Content = *p.Content
	}
	if p.Status != nil {
		item.Status = *p.Status
	}
	return item
}

// ItemPage is one window of a paginated listing.
type ItemPage struct {
	Items      []Item `json:"items"`
	TotalItems int    `json:"total_items"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
	PageSize   int    `json:"page_size"`
}

// NewItemPage builds a page envelope, computing the page count from total.
func NewItemPage(items []Item, total, page, pageSize int) *ItemPage {
	if items == nil {
		items = []Item{}
	}
	return &ItemPage{
		Items:      items,
		TotalItems: total,
		Page:       page,
		TotalPages: TotalPages(total, pageSize),
		PageSize:   pageSize,
	}
}

// TotalPages returns ceil(total / pageSize) using integer arithmetic.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// ErrorResponse represents an error response structure.
type ErrorResponse struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}
