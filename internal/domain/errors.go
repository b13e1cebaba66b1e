package domain

import (
	"errors"
	"fmt"
)

// ErrParse marks a provider response that could not be coerced into the expected shape
var ErrParse = errors.New("parse error")

// ParseError describes a malformed classifier or extractor response
type ParseError struct {
	Field string
	Msg   string
	Raw   string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse error: %s: %s", e.Field, e.Msg)
	}
	return "parse error: " + e.Msg
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// DiscoveryError is a site-level discovery failure. The source is skipped.
type DiscoveryError struct {
	SourceID string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.SourceID, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// FetchError is a page fetch failure. Transient errors are worth retrying.
type FetchError struct {
	URL       string
	Transient bool
	Attempts  int
	Err       error
}

func (e *FetchError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("fetch %s (after %d attempts): %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a FetchError marked transient.
// Errors of unknown shape are treated as transient.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return err != nil
}

// ClassificationError wraps a failed relevance classification
type ClassificationError struct {
	URL string
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s: %v", e.URL, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// ExtractionError wraps a failed structured extraction
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StoreError wraps a failed read or append against the tabular store
type StoreError struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
