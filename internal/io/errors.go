package io

import (
	"errors"
	"io/fs"
)

// ErrPermanent marks a failure that retrying will not fix
var ErrPermanent = errors.New("permanent file error")

// Kind classifies file access failures
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindTransient
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not-found"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	}
	return "unknown"
}

// Classify maps an error from opening, statting or reading a file to a Kind.
// Missing files and revoked permissions are distinguished; everything else
// (locks, sharing violations, interrupted reads) is treated as transient.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrPermanent), errors.Is(err, fs.ErrPermission):
		return KindPermanent
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	default:
		return KindTransient
	}
}
