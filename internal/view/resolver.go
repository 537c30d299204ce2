// Package view turns scroll requests into concrete windows over a result
// set. Everything here is a pure function of the request and the current
// count, so it can be recomputed on every update.
package view

import "fmt"

// ScrollMode says whether the window follows the end of the data
type ScrollMode int

const (
	Tail ScrollMode = iota
	User
)

func (m ScrollMode) String() string {
	switch m {
	case Tail:
		return "tail"
	case User:
		return "user"
	}
	return fmt.Sprintf("ScrollMode(%d)", int(m))
}

// ScrollRequest is what the consumer asks to see
type ScrollRequest struct {
	Mode       ScrollMode
	PageSize   int
	FirstIndex int // ignored in Tail mode
}

// TailRequest follows the end of the data
func TailRequest(pageSize int) ScrollRequest {
	return ScrollRequest{Mode: Tail, PageSize: pageSize}
}

// Window is the resolved visible range [First, First+Size)
type Window struct {
	First int
	Size  int
}

// Last returns the last visible position, or First-1 when empty
func (w Window) Last() int {
	return w.First + w.Size - 1
}

// Contains reports whether position i is visible
func (w Window) Contains(i int) bool {
	return i >= w.First && i < w.First+w.Size
}

// Empty reports whether nothing is visible
func (w Window) Empty() bool {
	return w.Size <= 0
}

func maxFirst(pageSize, total int) int {
	if pageSize < 0 {
		pageSize = 0
	}
	if m := total - pageSize; m > 0 {
		return m
	}
	return 0
}

// clamp ensures first is within valid bounds
func clamp(first, pageSize, total int) int {
	if m := maxFirst(pageSize, total); first > m {
		first = m
	}
	if first < 0 {
		first = 0
	}
	return first
}

// Resolve computes the window for req over total items
func Resolve(req ScrollRequest, total int) Window {
	if total < 0 {
		total = 0
	}
	var first int
	switch req.Mode {
	case Tail:
		first = maxFirst(req.PageSize, total)
	default:
		first = clamp(req.FirstIndex, req.PageSize, total)
	}

	size := req.PageSize
	if size < 0 {
		size = 0
	}
	if first+size > total {
		size = total - first
	}
	return Window{First: first, Size: size}
}

// ScrollDiff moves req by delta rows. Scrolling down onto the last page
// resumes tailing; any other move switches to User mode.
func ScrollDiff(req ScrollRequest, delta, total int) ScrollRequest {
	current := Resolve(req, total).First
	next := current + delta
	if delta > 0 && next >= maxFirst(req.PageSize, total) {
		return TailRequest(req.PageSize)
	}
	if req.Mode == Tail && delta >= 0 {
		return req
	}
	return ScrollRequest{Mode: User, PageSize: req.PageSize, FirstIndex: clamp(next, req.PageSize, total)}
}

// PageDown scrolls down by one page
func PageDown(req ScrollRequest, total int) ScrollRequest {
	return ScrollDiff(req, pageStep(req.PageSize), total)
}

// PageUp scrolls up by one page
func PageUp(req ScrollRequest, total int) ScrollRequest {
	return ScrollDiff(req, -pageStep(req.PageSize), total)
}

// pageStep keeps one line of overlap between pages
func pageStep(pageSize int) int {
	if pageSize > 1 {
		return pageSize - 1
	}
	return 1
}

// Top scrolls to the beginning
func Top(pageSize int) ScrollRequest {
	return ScrollRequest{Mode: User, PageSize: pageSize}
}

// Bottom scrolls to the end and keeps following it
func Bottom(pageSize int) ScrollRequest {
	return TailRequest(pageSize)
}

// JumpTo centres the page on position target
func JumpTo(target, pageSize, total int) ScrollRequest {
	first := clamp(target-pageSize/2, pageSize, total)
	return ScrollRequest{Mode: User, PageSize: pageSize, FirstIndex: first}
}

// Resize keeps the first visible row while changing the page size
func Resize(req ScrollRequest, pageSize, total int) ScrollRequest {
	if req.Mode == Tail {
		return TailRequest(pageSize)
	}
	first := Resolve(req, total).First
	return ScrollRequest{Mode: User, PageSize: pageSize, FirstIndex: clamp(first, pageSize, total)}
}

// PercentScrolled returns how far through the data the window is
func PercentScrolled(w Window, total int) float64 {
	if total == 0 {
		return 0
	}
	m := maxFirst(w.Size, total)
	if m == 0 {
		return 100
	}
	return float64(w.First) / float64(m) * 100
}
