package source

import (
	"errors"
	"testing"
)

func TestNewDecoder(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "utf-8", false},
		{"UTF8", "utf-8", false},
		{"latin1", "windows-1252", false},
		{"windows-1252", "windows-1252", false},
		{"utf-16le", "", true},
		{"klingon", "", true},
	}
	for _, tt := range tests {
		d, err := NewDecoder(tt.name)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedEncoding) {
				t.Errorf("NewDecoder(%q) error = %v, want ErrUnsupportedEncoding", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NewDecoder(%q) error = %v", tt.name, err)
		}
		if d.Name() != tt.want {
			t.Errorf("NewDecoder(%q).Name() = %q, want %q", tt.name, d.Name(), tt.want)
		}
	}
}

func TestDecoder_Decode(t *testing.T) {
	utf8Dec, _ := NewDecoder("utf-8")
	latin, _ := NewDecoder("latin1")

	tests := []struct {
		name   string
		d      *Decoder
		raw    []byte
		want   string
		wantOK bool
	}{
		{"utf-8", utf8Dec, []byte("héllo"), "héllo", true},
		{"bom stripped", utf8Dec, []byte("\xEF\xBB\xBFfirst"), "first", true},
		{"invalid utf-8", utf8Dec, []byte("ok\xFFok"), "ok�ok", false},
		{"nil decoder", nil, []byte("plain"), "plain", true},
		{"latin1", latin, []byte("caf\xE9"), "café", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.d.Decode(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Decode() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   string
	}{
		{[]byte("\xEF\xBB\xBFabc"), "utf-8"},
		{[]byte{0xFF, 0xFE, 'a', 0}, "utf-16le"},
		{[]byte{0xFE, 0xFF, 0, 'a'}, "utf-16be"},
		{[]byte("plain"), "utf-8"},
	}
	for _, tt := range tests {
		if got := Sniff(tt.prefix); got != tt.want {
			t.Errorf("Sniff(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}
