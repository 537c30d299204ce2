package render

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/quick"

	"github.com/TimelordUK/tailview/internal/source"
)

// SyntaxRenderer applies syntax highlighting based on file type. Lines that
// a search highlights are handed to the next renderer so matches stay
// visible.
type SyntaxRenderer struct {
	lexerName   string
	syntaxTheme string
	tabWidth    int
	next        Renderer
}

// NewSyntaxRenderer creates a syntax highlighting renderer for the given filename
func NewSyntaxRenderer(filename string, tabWidth int, next Renderer) *SyntaxRenderer {
	lexer := lexers.Match(filename)
	lexerName := "plaintext"
	if lexer != nil {
		lexerName = lexer.Config().Name
	}
	if next == nil {
		next = NewPlainRenderer(tabWidth)
	}

	return &SyntaxRenderer{
		lexerName:   lexerName,
		syntaxTheme: "monokai",
		tabWidth:    tabWidth,
		next:        next,
	}
}

// Lexer returns the name of the chroma lexer in use
func (r *SyntaxRenderer) Lexer() string {
	return r.lexerName
}

// Render highlights the visible part of a line
func (r *SyntaxRenderer) Render(line source.Line, width int) string {
	if !line.Matches.IsEmpty() {
		return r.next.Render(line, width)
	}

	// Cut first so escape sequences are never split
	var content string
	for _, rn := range fit([]run{{text: line.Text}}, width, r.tabWidth) {
		content += rn.text
	}
	if content == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := quick.Highlight(&buf, content, r.lexerName, "terminal16m", r.syntaxTheme); err != nil {
		return content
	}

	highlighted := buf.String()
	highlighted = strings.ReplaceAll(highlighted, "\n", "")
	highlighted = strings.ReplaceAll(highlighted, "\r", "")
	return highlighted
}

// IsSyntaxHighlightable returns true if the file type supports syntax highlighting
func IsSyntaxHighlightable(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))

	syntaxExts := map[string]bool{
		".go": true, ".rs": true, ".py": true, ".js": true, ".ts": true,
		".jsx": true, ".tsx": true, ".c": true, ".cpp": true, ".h": true,
		".hpp": true, ".java": true, ".rb": true, ".php": true, ".swift": true,
		".kt": true, ".scala": true, ".cs": true, ".lua": true,
		".sh": true, ".bash": true, ".zsh": true,
		".yaml": true, ".yml": true, ".json": true, ".toml": true, ".xml": true,
		".html": true, ".css": true, ".sql": true, ".md": true,
	}
	if syntaxExts[ext] {
		return true
	}

	base := strings.ToLower(filepath.Base(filename))
	specialFiles := map[string]bool{
		"makefile": true, "dockerfile": true, "cmakelists.txt": true,
	}
	return specialFiles[base]
}

// New picks the renderer for a file: syntax highlighting for source code
// when enabled, log level colouring otherwise.
func New(filename string, syntax bool, levels *LogLevelRenderer) Renderer {
	if syntax && IsSyntaxHighlightable(filename) {
		return NewSyntaxRenderer(filename, levels.tabWidth, levels)
	}
	return levels
}
