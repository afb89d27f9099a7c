package utils

import (
	"net/http"
	"strconv"
)

// Page size bounds for list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MinPageSize     = 1
)

// PageParams is a parsed page request. Offset and Limit feed straight into
// store queries.
type PageParams struct {
	Page     int // 1-based
	PageSize int
	Offset   int
	Limit    int
}

// PageMeta describes where a page sits in the full result.
type PageMeta struct {
	Page         int   `json:"page"`
	PageSize     int   `json:"page_size"`
	TotalPages   int   `json:"total_pages"`
	TotalItems   int64 `json:"total_items"`
	HasPrevious  bool  `json:"has_previous"`
	HasNext      bool  `json:"has_next"`
	PreviousPage *int  `json:"previous_page,omitempty"`
	NextPage     *int  `json:"next_page,omitempty"`
}

// PaginatedResponse is the body of every list endpoint.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination PageMeta    `json:"pagination"`
}

// ParsePageParams reads the page and page_size query parameters. Missing or
// malformed values fall back to page 1 and DefaultPageSize; page_size is
// clamped to [MinPageSize, MaxPageSize].
//
// Example:
//
//	params := utils.ParsePageParams(r)
//	events, total, err := lifecycle.ListAuditTrail(ctx, ownerID, sessionID, params.Limit, params.Offset)
func ParsePageParams(r *http.Request) PageParams {
	page := max(parseIntParam(r, "page", 1), 1)
	size := min(max(parseIntParam(r, "page_size", DefaultPageSize), MinPageSize), MaxPageSize)

	return PageParams{
		Page:     page,
		PageSize: size,
		Offset:   (page - 1) * size,
		Limit:    size,
	}
}

// CalculateMeta builds the metadata for a result of totalItems items. An
// empty result still has one page.
func (p PageParams) CalculateMeta(totalItems int64) PageMeta {
	totalPages := int((totalItems + int64(p.PageSize) - 1) / int64(p.PageSize))
	if totalPages < 1 {
		totalPages = 1
	}

	meta := PageMeta{
		Page:        p.Page,
		PageSize:    p.PageSize,
		TotalPages:  totalPages,
		TotalItems:  totalItems,
		HasPrevious: p.Page > 1,
		HasNext:     p.Page < totalPages,
	}
	if meta.HasPrevious {
		prev := p.Page - 1
		meta.PreviousPage = &prev
	}
	if meta.HasNext {
		next := p.Page + 1
		meta.NextPage = &next
	}
	return meta
}

// NewPaginatedResponse wraps one page of data with its metadata.
func NewPaginatedResponse(data interface{}, params PageParams, totalItems int64) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Pagination: params.CalculateMeta(totalItems),
	}
}

func parseIntParam(r *http.Request, key string, defaultValue int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
