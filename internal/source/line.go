// Package source turns windows of a result set into decoded, annotated
// lines read from the file.
package source

import (
	"time"

	"github.com/TimelordUK/tailview/internal/combine"
	"github.com/TimelordUK/tailview/internal/index"
	"github.com/TimelordUK/tailview/pkg/logformat"
)

// Line is one materialized line ready for display
type Line struct {
	Info      index.LineInfo
	Number    int // position within the result set being paged
	Text      string
	Timestamp *time.Time
	Level     logformat.Level
	Matches   combine.LineMatches
	DecodeErr bool
}

// LineNumber returns the 1-based line number in the file
func (l Line) LineNumber() int {
	return l.Info.Index + 1
}

// RowMapper maps result positions to line numbers. search.Result
// implements it.
type RowMapper interface {
	At(i int) int
	Count() int
}

// identityRows maps every position to the line with the same number
type identityRows int

func (n identityRows) At(i int) int {
	if i < 0 || i >= int(n) {
		return -1
	}
	return i
}

func (n identityRows) Count() int {
	return int(n)
}
