package drf

import (
	"sync"

	"github.com/dose3d/drf-crud-client/internal/constants"
)

// PageState is a snapshot of a PaginationController.
type PageState struct {
	Page       int `json:"page"        yaml:"page"`
	PageSize   int `json:"page_size"   yaml:"page_size"`
	TotalCount int `json:"total_count" yaml:"total_count"`
	PageCount  int `json:"page_count"  yaml:"page_count"`
}

// PaginationController keeps a page index within [1, pageCount]. The bound
// holds after every call, including total count updates that shrink the
// page count.
type PaginationController struct {
	mu         sync.Mutex
	page       int
	pageSize   int
	totalCount int
	pageCount  int
	onChange   func(PageState)
}

// PaginationOption configures a PaginationController.
type PaginationOption func(*PaginationController)

// WithInitialPage sets the starting page, clamped into range.
func WithInitialPage(page int) PaginationOption {
	return func(p *PaginationController) { p.page = page }
}

// WithTotalCount seeds the total count.
func WithTotalCount(count int) PaginationOption {
	return func(p *PaginationController) { p.totalCount = count }
}

// WithOnChange registers a callback invoked whenever the page changes.
func WithOnChange(fn func(PageState)) PaginationOption {
	return func(p *PaginationController) { p.onChange = fn }
}

// NewPaginationController creates a controller. A non-positive pageSize
// falls back to the default page size.
func NewPaginationController(pageSize int, opts ...PaginationOption) *PaginationController {
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}

	p := &PaginationController{
		page:     constants.DefaultPage,
		pageSize: pageSize,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.totalCount < 0 {
		p.totalCount = 0
	}

	p.pageCount = PageCount(p.totalCount, p.pageSize)
	p.page = clamp(p.page, 1, p.pageCount)

	return p
}

// PageCount returns max(ceil(totalCount/pageSize), 1).
func PageCount(totalCount, pageSize int) int {
	if pageSize <= 0 || totalCount <= 0 {
		return 1
	}

	count := totalCount / pageSize
	if totalCount%pageSize != 0 {
		count++
	}

	return count
}

// Page returns the current page index.
func (p *PaginationController) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.page
}

// PageCount returns the current page count.
func (p *PaginationController) PageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pageCount
}

// PageSize returns the page size.
func (p *PaginationController) PageSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pageSize
}

// State returns a snapshot.
func (p *PaginationController) State() PageState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state()
}

// SetTotalCount records the latest total count reported by the backend.
func (p *PaginationController) SetTotalCount(count int) {
	if count < 0 {
		count = 0
	}

	p.update(func() {
		p.totalCount = count
		p.pageCount = PageCount(count, p.pageSize)
	})
}

// SetPageCount records a page count computed by the backend.
func (p *PaginationController) SetPageCount(pageCount int) {
	if pageCount < 1 {
		pageCount = 1
	}

	p.update(func() {
		p.pageCount = pageCount
	})
}

// Observe updates the counts from a page response.
func Observe[T any](p *PaginationController, page *PageResponse[T]) {
	if page == nil {
		return
	}

	if page.PagesCount > 0 {
		p.update(func() {
			p.totalCount = page.Count
			p.pageCount = page.PagesCount
		})

		return
	}

	p.SetTotalCount(page.Count)
}

// GoFirst moves to page 1.
func (p *PaginationController) GoFirst() int {
	return p.move(func(int) int { return 1 })
}

// GoPrev moves one page back, stopping at 1.
func (p *PaginationController) GoPrev() int {
	return p.move(func(page int) int { return page - 1 })
}

// GoNext moves one page forward, stopping at the page count.
func (p *PaginationController) GoNext() int {
	return p.move(func(page int) int { return page + 1 })
}

// GoLatest moves to the last page.
func (p *PaginationController) GoLatest() int {
	return p.move(func(int) int { return p.pageCount })
}

// GoPage moves to n clamped into range.
func (p *PaginationController) GoPage(n int) int {
	return p.move(func(int) int { return n })
}

func (p *PaginationController) move(next func(page int) int) int {
	var page int

	p.update(func() {
		p.page = next(p.page)
		page = clamp(p.page, 1, p.pageCount)
	})

	return page
}

// update applies fn, re-clamps the page and fires onChange when the page
// moved. onChange runs outside the lock.
func (p *PaginationController) update(fn func()) {
	p.mu.Lock()
	before := p.page
	fn()
	p.page = clamp(p.page, 1, p.pageCount)
	changed := p.page != before
	state := p.state()
	onChange := p.onChange
	p.mu.Unlock()

	if changed && onChange != nil {
		onChange(state)
	}
}

// Must hold p.mu.
func (p *PaginationController) state() PageState {
	return PageState{
		Page:       p.page,
		PageSize:   p.pageSize,
		TotalCount: p.totalCount,
		PageCount:  p.pageCount,
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}

	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
