// pkg/web/params.go
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libraryhub/pkg/apperr"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// maxPage keeps Page*Size well inside int32 on every platform.
	maxPage = 1_000_000
)

// PageRequest is a zero-based page window.
type PageRequest struct {
	Page int
	Size int
}

func (p PageRequest) Offset() uint {
	return uint(p.Page) * uint(p.Size)
}

func (p PageRequest) Limit() uint {
	return uint(p.Size)
}

// Page is a window of results plus the total count of the unpaged query.
type Page[T any] struct {
	Items         []T   `json:"items"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

// NewPage assembles a Page and never returns nil Items.
func NewPage[T any](items []T, req PageRequest, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if req.Size > 0 {
		pages = int((total + int64(req.Size) - 1) / int64(req.Size))
	}
	return Page[T]{Items: items, Page: req.Page, Size: req.Size, TotalElements: total, TotalPages: pages}
}

// ParsePage reads ?page= and ?size= with defaults and bounds.
func ParsePage(r *http.Request) (PageRequest, error) {
	req := PageRequest{Page: 0, Size: defaultPageSize}
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxPage {
			return req, apperr.Invalid("page must be an integer between 0 and %d", maxPage)
		}
		req.Page = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			return req, apperr.Invalid("size must be between 1 and %d", maxPageSize)
		}
		req.Size = n
	}
	return req, nil
}

// UUIDParam parses a chi URL parameter as a UUID.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Invalid("invalid %s", name)
	}
	return id, nil
}

// OptionalUUIDQuery parses ?name= as a UUID, returning nil when absent.
func OptionalUUIDQuery(r *http.Request, name string) (*uuid.UUID, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apperr.Invalid("invalid %s", name)
	}
	return &id, nil
}

// DateQuery parses ?name= as a calendar date.
func DateQuery(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, apperr.Invalid("%s is required", name)
	}
	d, err := time.Parse(DateLayout, v)
	if err != nil {
		return time.Time{}, apperr.Invalid("%s must be a date (YYYY-MM-DD)", name)
	}
	return d, nil
}
