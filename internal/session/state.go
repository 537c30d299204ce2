package session

import "fmt"

// State is the lifecycle of a session's data
type State int

const (
	Uninitialized State = iota
	Indexing
	Ready
	Scanning
	Rescanning
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Indexing:
		return "indexing"
	case Ready:
		return "ready"
	case Scanning:
		return "scanning"
	case Rescanning:
		return "rescanning"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Busy reports whether results may still change without new file content
func (s State) Busy() bool {
	return s == Indexing || s == Scanning || s == Rescanning
}
