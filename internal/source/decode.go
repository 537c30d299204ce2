package source

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// ErrUnsupportedEncoding is returned for encodings whose line terminator is
// not the single byte '\n'
var ErrUnsupportedEncoding = errors.New("unsupported encoding")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Sniff guesses an encoding name from the first bytes of a file
func Sniff(prefix []byte) string {
	switch {
	case bytes.HasPrefix(prefix, utf8BOM):
		return "utf-8"
	case bytes.HasPrefix(prefix, []byte{0xFF, 0xFE}):
		return "utf-16le"
	case bytes.HasPrefix(prefix, []byte{0xFE, 0xFF}):
		return "utf-16be"
	}
	return "utf-8"
}

// Decoder turns raw line bytes into text
type Decoder struct {
	name string
	enc  encoding.Encoding // nil for UTF-8
}

// NewDecoder resolves an encoding by its WHATWG name or label, for example
// "utf-8", "latin1" or "windows-1252". An empty name means UTF-8.
func NewDecoder(name string) (*Decoder, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	if label == "" || label == "auto" {
		label = "utf-8"
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, name)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, name)
	}

	switch {
	case canonical == "utf-8":
		return &Decoder{name: canonical}, nil
	case strings.HasPrefix(canonical, "utf-16"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, canonical)
	}
	return &Decoder{name: canonical, enc: enc}, nil
}

// Name returns the canonical encoding name
func (d *Decoder) Name() string {
	return d.name
}

// Decode converts raw bytes to text. Invalid sequences become U+FFFD and
// are reported through ok.
func (d *Decoder) Decode(raw []byte) (text string, ok bool) {
	if d == nil || d.enc == nil {
		raw = bytes.TrimPrefix(raw, utf8BOM)
		if utf8.Valid(raw) {
			return string(raw), true
		}
		return strings.ToValidUTF8(string(raw), string(utf8.RuneError)), false
	}

	out, err := d.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), string(utf8.RuneError)), false
	}
	return string(out), !bytes.ContainsRune(out, utf8.RuneError)
}

// String decodes raw ignoring errors. It satisfies the search engine's
// Decode hook.
func (d *Decoder) String(raw []byte) string {
	s, _ := d.Decode(raw)
	return s
}
