// Package extract turns stored documents into plain text for the catalog
// pipeline. Failures carry a kind so callers can distinguish unsupported
// formats from corrupt or empty files.
package extract

import (
	"errors"
	"fmt"
)

// Kind classifies extraction failures.
type Kind string

const (
	KindUnsupported Kind = "unsupported"
	KindCorrupt     Kind = "corrupt"
	KindEmpty       Kind = "empty"
	KindIO          Kind = "io"
)

// Error is an extraction failure with a kind.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.Path, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// KindOf returns the kind carried by err, or "" when err is not an
// extraction error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
