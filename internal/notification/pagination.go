package notification

import (
	"strings"
)

// Pagination limits
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Sortable fields
const (
	SortCreatedAt = "created_at"
	SortUpdatedAt = "updated_at"
	SortSentAt    = "sent_at"
	SortReadAt    = "read_at"
	SortPriority  = "priority"
)

// ListFilter selects and orders a user's notifications
type ListFilter struct {
	Type         Type
	Priority     Priority
	Status       NotificationStatus
	IsRead       *bool
	IsArchived   *bool
	ResourceType string
	Search       string

	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Normalize applies defaults and validates the filter
func (f *ListFilter) Normalize() error {
	const op = "list notifications"

	if f.Page == 0 {
		f.Page = 1
	}
	if f.Page < 1 {
		return ValidationError(op, "page must be >= 1")
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize < 1 || f.PageSize > MaxPageSize {
		return ValidationError(op, "page_size must be between 1 and %d", MaxPageSize)
	}

	if f.SortBy == "" {
		f.SortBy = SortCreatedAt
	}
	switch f.SortBy {
	case SortCreatedAt, SortUpdatedAt, SortSentAt, SortReadAt, SortPriority:
	default:
		return ValidationError(op, "unsupported sort field %q", f.SortBy)
	}

	f.SortOrder = strings.ToLower(f.SortOrder)
	if f.SortOrder == "" {
		f.SortOrder = "desc"
	}
	if f.SortOrder != "asc" && f.SortOrder != "desc" {
		return ValidationError(op, "sort_order must be asc or desc")
	}

	if f.Type != "" && !f.Type.Valid() {
		return ValidationError(op, "unknown notification type %q", f.Type)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return ValidationError(op, "unknown priority %q", f.Priority)
	}
	if f.Status != "" && !f.Status.Valid() {
		return ValidationError(op, "unknown status %q", f.Status)
	}
	f.Search = strings.TrimSpace(f.Search)
	return nil
}

// Offset returns the number of records to skip
func (f *ListFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Page describes the position of a result page within the full result set
type Page struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewPage computes page metadata. has_next holds exactly when page*size < total.
func NewPage(page, size, total int) Page {
	totalPages := 0
	if size > 0 {
		totalPages = (total + size - 1) / size
	}
	return Page{
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// ListResult is one page of notifications
type ListResult struct {
	Notifications []Notification `json:"notifications"`
	Page
}
