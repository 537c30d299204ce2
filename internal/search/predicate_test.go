package search

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestCompile_Plain(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		ignoreCase bool
		line       string
		want       bool
	}{
		{"exact", "ERROR", false, "bERRORc", true},
		{"case sensitive miss", "ERROR", false, "an error here", false},
		{"ignore case", "ERROR", true, "an error here", true},
		{"ignore case needle", "error", true, "AN ERROR", true},
		{"absent", "WARN", false, "INFO ok", false},
		{"empty never matches", "", false, "anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(Metadata{Text: tt.text, IgnoreCase: tt.ignoreCase})
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			got, err := p.Test(tt.line)
			if err != nil {
				t.Fatalf("Test() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Test(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestCompile_Regex(t *testing.T) {
	p, err := Compile(Metadata{Text: `^\d+$`, UseRegex: true})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	var got []string
	for _, line := range []string{"123", "12a3", "456"} {
		if p.Match(line) {
			got = append(got, line)
		}
	}
	want := []string{"123", "456"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("matches = %v, want %v", got, want)
	}
}

func TestCompile_RegexIgnoreCase(t *testing.T) {
	p, err := Compile(Metadata{Text: `time(out|d)`, UseRegex: true, IgnoreCase: true})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !p.Match("request TIMEOUT after 3s") {
		t.Error("expected case-insensitive regex match")
	}
}

func TestCompile_InvalidPattern(t *testing.T) {
	_, err := Compile(Metadata{Text: `([a-z`, UseRegex: true})
	if err == nil {
		t.Fatal("Compile() expected error for unbalanced pattern")
	}
	var perr *PatternError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %T, want *PatternError", err)
	}
	if perr.Pattern != `([a-z` {
		t.Errorf("Pattern = %q, want %q", perr.Pattern, `([a-z`)
	}
}

func TestPredicate_RegexTimeout(t *testing.T) {
	p, err := Compile(Metadata{Text: `^(a+)+$`, UseRegex: true}, WithRegexTimeout(time.Millisecond))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	line := strings.Repeat("a", 40) + "!"
	ok, err := p.Test(line)
	if err == nil {
		t.Fatal("Test() expected timeout error")
	}
	if ok {
		t.Error("Test() reported a match alongside an error")
	}
	if p.Match(line) {
		t.Error("Match() should treat an error as no match")
	}
}

func TestPredicate_Spans(t *testing.T) {
	tests := []struct {
		name string
		meta Metadata
		line string
		want []Span
	}{
		{
			name: "plain repeated",
			meta: Metadata{Text: "ab"},
			line: "ab-ab-a",
			want: []Span{{0, 2}, {3, 5}},
		},
		{
			name: "plain ignore case",
			meta: Metadata{Text: "err", IgnoreCase: true},
			line: "ERR and err",
			want: []Span{{0, 3}, {8, 11}},
		},
		{
			name: "regex after multibyte runes",
			meta: Metadata{Text: `\d+`, UseRegex: true},
			line: "é1 ü22",
			want: []Span{{2, 3}, {6, 8}},
		},
		{
			name: "no match",
			meta: Metadata{Text: "zzz"},
			line: "abc",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.meta)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			got := p.Spans(tt.line)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Spans(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseHighlightingMode(t *testing.T) {
	tests := []struct {
		in      string
		want    HighlightingMode
		wantErr bool
	}{
		{"", HighlightNone, false},
		{"text", HighlightText, false},
		{"LINE", HighlightLine, false},
		{"bold", HighlightNone, true},
	}
	for _, tt := range tests {
		got, err := ParseHighlightingMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHighlightingMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHighlightingMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
