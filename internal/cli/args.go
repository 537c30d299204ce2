// Package cli defines the tailview command line.
package cli

import (
	"fmt"
	"strings"

	"github.com/alexflint/go-arg"

	"github.com/TimelordUK/tailview/internal/search"
)

// Args represents the command line
type Args struct {
	Config     string   `arg:"--config" help:"config file (default $XDG_CONFIG_HOME/tailview/config.toml)"`
	Search     []string `arg:"-s,--search,separate" help:"highlight lines matching TEXT (repeatable)"`
	Regex      bool     `arg:"-r,--regex" help:"treat search text as regular expressions"`
	IgnoreCase bool     `arg:"-i,--ignore-case" help:"match search text ignoring case"`
	Filter     bool     `arg:"-f,--filter" help:"show only lines matching the --search texts"`
	Exclude    []string `arg:"-x,--exclude,separate" help:"hide lines matching TEXT (repeatable)"`
	Export     string   `arg:"-e,--export" help:"write the visible lines to PATH and exit"`
	NoTail     bool     `arg:"--no-tail" help:"start at the top instead of following the end"`
	Encoding   string   `arg:"--encoding" help:"file encoding (utf-8, latin1, windows-1252, ...; default auto)"`
	Files      []string `arg:"positional,required" help:"files to follow; several files are merged into one view"`
}

// Description returns the program description
func (Args) Description() string {
	return "tailview - follow, search and filter growing log files"
}

// Version returns the program version
func (Args) Version() string {
	return "tailview 0.1.0"
}

// Epilogue returns additional help text
func (Args) Epilogue() string {
	return `Examples:
  tailview app.log                          # Follow a file
  tailview -s ERROR -s WARN app.log         # Highlight two searches
  tailview -f -s "user=42" app.log          # Show only matching lines
  tailview -r -s "time=\d{4}ms" app.log     # Regular expression search
  tailview -x DEBUG a.log b.log             # Merge two files, hide DEBUG
  tailview -f -s ERROR -e errors.log app.log  # Export matches and exit`
}

// Parse parses argv (without the program name)
func Parse(argv []string) (*Args, error) {
	var args Args
	p, err := arg.NewParser(arg.Config{Program: "tailview"}, &args)
	if err != nil {
		return nil, err
	}
	if err := p.Parse(argv); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	return &args, nil
}

// Validate performs validation on the parsed arguments
func (a *Args) Validate() error {
	if len(a.Files) == 0 {
		return fmt.Errorf("at least one file is required")
	}
	if a.Filter && len(a.Search) == 0 {
		return fmt.Errorf("--filter needs at least one --search")
	}
	for _, s := range append(append([]string(nil), a.Search...), a.Exclude...) {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("search text must not be empty")
		}
	}
	return nil
}

// Searches returns the searches named on the command line in order
func (a *Args) Searches() []search.Metadata {
	var out []search.Metadata
	for _, text := range a.Search {
		out = append(out, search.Metadata{
			Text:       text,
			UseRegex:   a.Regex,
			IgnoreCase: a.IgnoreCase,
			Filter:     a.Filter,
			Highlight:  search.HighlightText,
			Position:   search.AutoPosition,
		})
	}
	for _, text := range a.Exclude {
		out = append(out, search.Metadata{
			Text:        text,
			UseRegex:    a.Regex,
			IgnoreCase:  a.IgnoreCase,
			IsExclusion: true,
			Filter:      true,
			Position:    search.AutoPosition,
		})
	}
	return out
}

// MustParse parses os.Args, printing usage and exiting on error
func MustParse() *Args {
	var args Args
	p := arg.MustParse(&args)
	if err := args.Validate(); err != nil {
		p.Fail(err.Error())
	}
	return &args
}
