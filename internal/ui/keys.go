package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"

	"github.com/TimelordUK/tailview/internal/config"
)

// keyMap holds the bindings of normal mode
type keyMap struct {
	Quit        key.Binding
	ScrollUp    key.Binding
	ScrollDown  key.Binding
	PageUp      key.Binding
	PageDown    key.Binding
	Top         key.Binding
	Bottom      key.Binding
	Search      key.Binding
	Filter      key.Binding
	Exclude     key.Binding
	ClearSearch key.Binding
	NextMatch   key.Binding
	PrevMatch   key.Binding
	NextView    key.Binding
	LevelFilter key.Binding
	Export      key.Binding
	Goto        key.Binding
	SetMark     key.Binding
	JumpMark    key.Binding
	Source      key.Binding
}

func binding(keys []string, desc string) key.Binding {
	if len(keys) == 0 {
		return key.NewBinding(key.WithDisabled())
	}
	label := strings.Join(keys, "/")
	if len(keys) > 2 {
		label = strings.Join(keys[:2], "/")
	}
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(label, desc))
}

func newKeyMap(cfg config.KeybindingConfig) keyMap {
	return keyMap{
		Quit:        binding(cfg.Quit, "quit"),
		ScrollUp:    binding(cfg.ScrollUp, "up"),
		ScrollDown:  binding(cfg.ScrollDown, "down"),
		PageUp:      binding(cfg.PageUp, "page up"),
		PageDown:    binding(cfg.PageDown, "page down"),
		Top:         binding(cfg.Top, "top"),
		Bottom:      binding(cfg.Bottom, "tail"),
		Search:      binding(cfg.Search, "search"),
		Filter:      binding(cfg.Filter, "filter"),
		Exclude:     binding(cfg.Exclude, "exclude"),
		ClearSearch: binding(cfg.ClearSearch, "clear"),
		NextMatch:   binding(cfg.NextMatch, "next"),
		PrevMatch:   binding(cfg.PrevMatch, "prev"),
		NextView:    binding(cfg.NextView, "view"),
		LevelFilter: binding(cfg.LevelFilter, "levels"),
		Export:      binding(cfg.Export, "export"),
		Goto:        binding(cfg.Goto, "goto"),
		SetMark:     binding(cfg.SetMark, "mark"),
		JumpMark:    binding(cfg.JumpMark, "to mark"),
		Source:      binding(cfg.ToggleSource, "source"),
	}
}

// ShortHelp implements help.KeyMap
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.ScrollDown, k.PageDown, k.Bottom, k.Search, k.Filter, k.Exclude, k.NextMatch, k.NextView, k.LevelFilter, k.Quit}
}

// FullHelp implements help.KeyMap
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.ScrollUp, k.ScrollDown, k.PageUp, k.PageDown, k.Top, k.Bottom, k.Goto},
		{k.Search, k.Filter, k.Exclude, k.ClearSearch, k.NextMatch, k.PrevMatch},
		{k.NextView, k.LevelFilter, k.Export, k.SetMark, k.JumpMark, k.Source, k.Quit},
	}
}
