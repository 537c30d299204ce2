package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/TimelordUK/tailview/internal/search"
	"github.com/TimelordUK/tailview/pkg/logformat"
)

const appName = "tailview"

// Config holds all application configuration
type Config struct {
	Watch       WatchConfig      `toml:"watch"`
	Index       IndexConfig      `toml:"index"`
	Search      SearchConfig     `toml:"search"`
	View        ViewConfig       `toml:"view"`
	Source      SourceConfig     `toml:"source"`
	Logging     LoggingConfig    `toml:"logging"`
	Theme       ThemeConfig      `toml:"theme"`
	LogLevels   LogLevelConfig   `toml:"log_levels"`
	Keybindings KeybindingConfig `toml:"keybindings"`
	Display     DisplayConfig    `toml:"display"`
	Searches    []SearchEntry    `toml:"searches"`
}

// Duration is a time.Duration written as a Go duration string
type Duration time.Duration

// UnmarshalText parses values such as "250ms" or "30s"
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// WatchConfig controls how files are followed
type WatchConfig struct {
	PollInterval  Duration `toml:"poll_interval"`
	Debounce      Duration `toml:"debounce"`
	MaxBackoff    Duration `toml:"max_backoff"`
	DisableNotify bool     `toml:"disable_notify"`
}

// IndexConfig controls line indexing
type IndexConfig struct {
	SegmentSize int64 `toml:"segment_size"`
	Workers     int   `toml:"workers"`
}

// SearchConfig controls search evaluation
type SearchConfig struct {
	SegmentSize  int64    `toml:"segment_size"`
	Workers      int      `toml:"workers"`
	RegexTimeout Duration `toml:"regex_timeout"`
}

// ViewConfig controls paging
type ViewConfig struct {
	PageSize  int     `toml:"page_size"`
	ReadAhead float64 `toml:"read_ahead"`
}

// SourceConfig controls decoding
type SourceConfig struct {
	Encoding string `toml:"encoding"`
}

// LoggingConfig controls the diagnostic log
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// SlogLevel parses Level; empty means info
func (c LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(c.Level) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Level))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// ThemeConfig defines color schemes
type ThemeConfig struct {
	Name          string         `toml:"name"`
	LineNumbers   string         `toml:"line_numbers"`
	StatusBar     string         `toml:"status_bar"`
	StatusBarText string         `toml:"status_bar_text"`
	SearchMatch   string         `toml:"search_match"`
	Hues          []string       `toml:"hues"`
	Levels        LogLevelColors `toml:"levels"`
}

// LogLevelColors defines colors for each log level
type LogLevelColors struct {
	Trace string `toml:"trace"`
	Debug string `toml:"debug"`
	Info  string `toml:"info"`
	Warn  string `toml:"warn"`
	Error string `toml:"error"`
	Fatal string `toml:"fatal"`
}

// LogLevelConfig defines log level detection patterns
type LogLevelConfig struct {
	TracePatterns []string `toml:"trace_patterns"`
	DebugPatterns []string `toml:"debug_patterns"`
	InfoPatterns  []string `toml:"info_patterns"`
	WarnPatterns  []string `toml:"warn_patterns"`
	ErrorPatterns []string `toml:"error_patterns"`
	FatalPatterns []string `toml:"fatal_patterns"`
}

// Patterns converts the config into detector patterns
func (c LogLevelConfig) Patterns() logformat.LevelPatterns {
	return logformat.LevelPatterns{
		Trace: c.TracePatterns,
		Debug: c.DebugPatterns,
		Info:  c.InfoPatterns,
		Warn:  c.WarnPatterns,
		Error: c.ErrorPatterns,
		Fatal: c.FatalPatterns,
	}
}

// KeybindingConfig allows customizing keybindings
type KeybindingConfig struct {
	Quit         []string `toml:"quit"`
	ScrollUp     []string `toml:"scroll_up"`
	ScrollDown   []string `toml:"scroll_down"`
	PageUp       []string `toml:"page_up"`
	PageDown     []string `toml:"page_down"`
	Top          []string `toml:"top"`
	Bottom       []string `toml:"bottom"`
	Search       []string `toml:"search"`
	Filter       []string `toml:"filter"`
	Exclude      []string `toml:"exclude"`
	ClearSearch  []string `toml:"clear_search"`
	NextMatch    []string `toml:"next_match"`
	PrevMatch    []string `toml:"prev_match"`
	NextView     []string `toml:"next_view"`
	LevelFilter  []string `toml:"level_filter"`
	Export       []string `toml:"export"`
	Goto         []string `toml:"goto"`
	SetMark      []string `toml:"set_mark"`
	JumpMark     []string `toml:"jump_mark"`
	ToggleSource []string `toml:"toggle_source"`
}

// DisplayConfig holds display options
type DisplayConfig struct {
	ShowLineNumbers bool `toml:"show_line_numbers"`
	TabWidth        int  `toml:"tab_width"`
	Syntax          bool `toml:"syntax"`
}

// SearchEntry is a search added at start-up
type SearchEntry struct {
	Text       string `toml:"text"`
	Regex      bool   `toml:"regex"`
	IgnoreCase bool   `toml:"ignore_case"`
	Exclude    bool   `toml:"exclude"`
	Filter     bool   `toml:"filter"`
	Highlight  string `toml:"highlight"`
	Hue        string `toml:"hue"`
	Icon       string `toml:"icon"`
}

// Metadata converts the entry into a search definition
func (e SearchEntry) Metadata() (search.Metadata, error) {
	mode, err := search.ParseHighlightingMode(e.Highlight)
	if err != nil {
		return search.Metadata{}, fmt.Errorf("search %q: %w", e.Text, err)
	}
	if e.Highlight == "" && !e.Exclude {
		mode = search.HighlightLine
	}
	return search.Metadata{
		Text:        e.Text,
		UseRegex:    e.Regex,
		IgnoreCase:  e.IgnoreCase,
		IsExclusion: e.Exclude,
		Filter:      e.Filter,
		Highlight:   mode,
		Position:    search.AutoPosition,
		Hue:         e.Hue,
		Icon:        e.Icon,
	}, nil
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Watch: WatchConfig{
			PollInterval: Duration(250 * time.Millisecond),
			Debounce:     Duration(100 * time.Millisecond),
			MaxBackoff:   Duration(30 * time.Second),
		},
		Index: IndexConfig{
			SegmentSize: 4 << 20,
		},
		Search: SearchConfig{
			SegmentSize:  10 << 20,
			RegexTimeout: Duration(search.DefaultRegexTimeout),
		},
		View: ViewConfig{
			ReadAhead: 0.5,
		},
		Source: SourceConfig{
			Encoding: "auto",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  defaultLogFile(),
		},
		Theme: ThemeConfig{
			Name:          "subtle",
			LineNumbers:   "240", // Dark gray
			StatusBar:     "236", // Darker gray background
			StatusBarText: "252", // Light gray text
			SearchMatch:   "226", // Yellow
			Hues:          []string{"226", "81", "170", "114", "208", "39"},
			Levels: LogLevelColors{
				Trace: "240", // Dark gray
				Debug: "244", // Medium gray
				Info:  "250", // Light gray (default)
				Warn:  "214", // Orange
				Error: "167", // Soft red
				Fatal: "196", // Bright red
			},
		},
		LogLevels: LogLevelConfig{
			TracePatterns: []string{"[TRC]", "[TRACE]", "TRACE", "TRC"},
			DebugPatterns: []string{"[DBG]", "[DEBUG]", "DEBUG", "DBG"},
			InfoPatterns:  []string{"[INF]", "[INFO]", "INFO", "INF"},
			WarnPatterns:  []string{"[WRN]", "[WARN]", "[WARNING]", "WARN", "WRN", "WARNING"},
			ErrorPatterns: []string{"[ERR]", "[ERROR]", "ERROR", "ERR"},
			FatalPatterns: []string{"[FTL]", "[FATAL]", "FATAL", "FTL", "[CRIT]", "CRITICAL"},
		},
		Keybindings: KeybindingConfig{
			Quit:         []string{"q", "ctrl+c"},
			ScrollUp:     []string{"k", "up"},
			ScrollDown:   []string{"j", "down"},
			PageUp:       []string{"b", "pgup", "ctrl+u"},
			PageDown:     []string{"f", "pgdown", "ctrl+d", " "},
			Top:          []string{"g", "home"},
			Bottom:       []string{"G", "end"},
			Search:       []string{"/"},
			Filter:       []string{"&"},
			Exclude:      []string{"!"},
			ClearSearch:  []string{"c"},
			NextMatch:    []string{"n"},
			PrevMatch:    []string{"N"},
			NextView:     []string{"tab"},
			LevelFilter:  []string{"l"},
			Export:       []string{"s"},
			Goto:         []string{":"},
			SetMark:      []string{"m"},
			JumpMark:     []string{"'"},
			ToggleSource: []string{"S"},
		},
		Display: DisplayConfig{
			ShowLineNumbers: true,
			TabWidth:        4,
		},
	}
}

// Load loads config from the default location, falling back to defaults
func Load() (*Config, error) {
	return LoadFrom(getConfigPath())
}

// LoadFrom loads config from path. A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", resolved, err)
	}

	cfg.Logging.File = mustExpand(cfg.Logging.File)
	return cfg, nil
}

func (c *Config) validate() error {
	if c.View.ReadAhead < 0 {
		return fmt.Errorf("view.read_ahead must not be negative")
	}
	if c.Index.SegmentSize < 0 || c.Search.SegmentSize < 0 {
		return fmt.Errorf("segment_size must not be negative")
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	for _, s := range c.Searches {
		if strings.TrimSpace(s.Text) == "" {
			return fmt.Errorf("searches: entry with empty text")
		}
		if _, err := s.Metadata(); err != nil {
			return err
		}
	}
	return nil
}

// Save saves config to the default location
func Save(cfg *Config) error {
	configPath := getConfigPath()
	if configPath == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0o644)
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName, "config.toml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", appName, "config.toml")
}

// GetConfigPath exports the config path for user reference
func GetConfigPath() string {
	return getConfigPath()
}

func defaultLogFile() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, appName, appName+".log")
	}
	return mustExpand("~/.local/state/" + appName + "/" + appName + ".log")
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
