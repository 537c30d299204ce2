package logformat

import (
	"fmt"
	"sort"
	"strings"
)

// Level represents a log severity level
type Level int

const (
	LevelUnknown Level = iota
	LevelTrace
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelUnknown: "unknown",
	LevelTrace:   "trace",
	LevelDebug:   "debug",
	LevelInfo:    "info",
	LevelWarn:    "warn",
	LevelError:   "error",
	LevelFatal:   "fatal",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel parses a level name such as "warn" or "ERROR"
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn, nil
	}
	for level, name := range levelNames {
		if name == s {
			return level, nil
		}
	}
	return LevelUnknown, fmt.Errorf("unknown log level %q", s)
}

// LevelPatterns lists the substrings that identify each level
type LevelPatterns struct {
	Trace []string
	Debug []string
	Info  []string
	Warn  []string
	Error []string
	Fatal []string
}

// DefaultLevelPatterns matches the common spellings of each level
func DefaultLevelPatterns() LevelPatterns {
	return LevelPatterns{
		Trace: []string{"TRACE", "TRC", "[T]"},
		Debug: []string{"DEBUG", "DBG", "[D]"},
		Info:  []string{"INFO", "INF", "[I]"},
		Warn:  []string{"WARN", "WARNING", "WRN", "[W]"},
		Error: []string{"ERROR", "ERR", "[E]"},
		Fatal: []string{"FATAL", "FTL", "PANIC", "[F]"},
	}
}

type levelRule struct {
	level    Level
	patterns []string
}

// LevelDetector detects log levels from line content
type LevelDetector struct {
	rules []levelRule
}

// NewLevelDetector creates a detector. Levels are checked from most to
// least severe so "ERROR" wins over an incidental "info" later in the line.
func NewLevelDetector(p LevelPatterns) *LevelDetector {
	return &LevelDetector{
		rules: []levelRule{
			{LevelFatal, p.Fatal},
			{LevelError, p.Error},
			{LevelWarn, p.Warn},
			{LevelInfo, p.Info},
			{LevelDebug, p.Debug},
			{LevelTrace, p.Trace},
		},
	}
}

// Detect returns the log level for a line
func (d *LevelDetector) Detect(line string) Level {
	if d == nil {
		return LevelUnknown
	}
	for _, rule := range d.rules {
		for _, pattern := range rule.patterns {
			if pattern != "" && strings.Contains(line, pattern) {
				return rule.level
			}
		}
	}
	return LevelUnknown
}

// LevelFilter is a set of levels to show. An empty filter shows everything.
type LevelFilter map[Level]bool

// OnlyLevel shows a single level
func OnlyLevel(level Level) LevelFilter {
	return LevelFilter{level: true}
}

// LevelAndAbove shows level and every more severe level
func LevelAndAbove(level Level) LevelFilter {
	f := LevelFilter{}
	for l := LevelTrace; l <= LevelFatal; l++ {
		if l >= level {
			f[l] = true
		}
	}
	return f
}

// Toggle returns a copy of f with level flipped
func (f LevelFilter) Toggle(level Level) LevelFilter {
	out := make(LevelFilter, len(f)+1)
	for l, on := range f {
		if on {
			out[l] = true
		}
	}
	if out[level] {
		delete(out, level)
	} else {
		out[level] = true
	}
	return out
}

// Active reports whether the filter hides anything
func (f LevelFilter) Active() bool {
	for _, on := range f {
		if on {
			return true
		}
	}
	return false
}

// Allows reports whether a line at level is shown
func (f LevelFilter) Allows(level Level) bool {
	return !f.Active() || f[level]
}

// Key returns a stable description of the filter, empty when inactive
func (f LevelFilter) Key() string {
	var names []string
	for l, on := range f {
		if on {
			names = append(names, l.String())
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
