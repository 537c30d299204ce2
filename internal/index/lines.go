package index

import "sort"

// LineInfo describes where one line lives in the file at the moment it was
// indexed. Values are never updated; a later scan produces new ones.
type LineInfo struct {
	Index     int   // 0-based ordinal among all lines
	Start     int64 // byte offset of the first byte of the line
	Offset    int   // byte offset of the line within its segment
	EndOfTail bool  // discovered by the most recent incremental scan
}

// LineIndex is an immutable snapshot of the line starts of a file.
//
// Snapshots share an append-only backing array with the Scanner that produced
// them. A snapshot never reads past its own length and the scanner never
// writes below it, so snapshots can be handed to other goroutines freely.
type LineIndex struct {
	starts      []int64
	size        int64
	generation  uint64
	terminated  bool
	tailFrom    int
	segmentSize int64
}

// Empty returns an index with no lines for the given generation
func Empty(generation uint64) LineIndex {
	return LineIndex{generation: generation, terminated: true, segmentSize: DefaultSegmentSize}
}

// Count returns the number of lines known
func (ix LineIndex) Count() int {
	return len(ix.starts)
}

// Size returns the number of bytes scanned
func (ix LineIndex) Size() int64 {
	return ix.size
}

// Generation identifies the scan lineage. It changes on every full rescan;
// line numbers from different generations must not be mixed.
func (ix LineIndex) Generation() uint64 {
	return ix.generation
}

// Partial reports whether the last line has no terminator yet
func (ix LineIndex) Partial() bool {
	return len(ix.starts) > 0 && !ix.terminated
}

// TailFrom returns the first line index discovered by the latest scan
func (ix LineIndex) TailFrom() int {
	return ix.tailFrom
}

// SegmentSize returns the byte segment size used to build the index
func (ix LineIndex) SegmentSize() int64 {
	if ix.segmentSize <= 0 {
		return DefaultSegmentSize
	}
	return ix.segmentSize
}

// Line returns the LineInfo for line i
func (ix LineIndex) Line(i int) (LineInfo, bool) {
	if i < 0 || i >= len(ix.starts) {
		return LineInfo{}, false
	}
	start := ix.starts[i]
	return LineInfo{
		Index:     i,
		Start:     start,
		Offset:    int(start % ix.SegmentSize()),
		EndOfTail: i >= ix.tailFrom,
	}, true
}

// Lines returns up to n LineInfo values starting at first
func (ix LineIndex) Lines(first, n int) []LineInfo {
	if first < 0 {
		first = 0
	}
	if first >= len(ix.starts) || n <= 0 {
		return nil
	}
	if first+n > len(ix.starts) {
		n = len(ix.starts) - first
	}
	out := make([]LineInfo, n)
	for i := range out {
		out[i], _ = ix.Line(first + i)
	}
	return out
}

// Span returns the raw byte range [start, end) of line i, including its
// terminator when it has one.
func (ix LineIndex) Span(i int) (start, end int64) {
	if i < 0 || i >= len(ix.starts) {
		return 0, 0
	}
	start = ix.starts[i]
	if i+1 < len(ix.starts) {
		return start, ix.starts[i+1]
	}
	return start, ix.size
}

// LineRange is a run of consecutive lines covering roughly one segment of
// bytes. Ranges are the unit of parallel search work.
type LineRange struct {
	First, Last int   // lines [First, Last)
	Start, End  int64 // raw bytes covering those lines
}

// Lines returns the number of lines in the range
func (r LineRange) Lines() int {
	return r.Last - r.First
}

// Ranges splits lines [from, Count) into ranges of at most segmentSize bytes.
// A single line longer than segmentSize gets a range of its own.
func (ix LineIndex) Ranges(from int, segmentSize int64) []LineRange {
	if segmentSize <= 0 {
		segmentSize = ix.SegmentSize()
	}
	if from < 0 {
		from = 0
	}
	n := len(ix.starts)
	var ranges []LineRange
	for first := from; first < n; {
		limit := ix.starts[first] + segmentSize
		last := first + sort.Search(n-first, func(k int) bool { return ix.starts[first+k] >= limit })
		if last <= first {
			last = first + 1
		}
		_, end := ix.Span(last - 1)
		ranges = append(ranges, LineRange{First: first, Last: last, Start: ix.starts[first], End: end})
		first = last
	}
	return ranges
}
