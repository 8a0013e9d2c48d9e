package shared

import "math"

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 50
	}
	if perPage > 500 {
		perPage = 500
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Bounds returns the half-open slice range of the current page. Pages past
// the end yield an empty range at Total.
func (p Pagination) Bounds() (int, int) {
	if p.PerPage <= 0 || p.Page <= 1 {
		return 0, min(max(p.PerPage, 0), p.Total)
	}
	if p.Page-1 > p.Total/p.PerPage {
		return p.Total, p.Total
	}
	lo := (p.Page - 1) * p.PerPage
	hi := lo + p.PerPage
	if hi > p.Total {
		hi = p.Total
	}
	return lo, hi
}
