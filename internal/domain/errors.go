package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a partition or record does not exist. It is a valid
// outcome that callers branch on, not a failure.
var ErrNotFound = errors.New("not found")

// ErrNoSession reports that there are no turns to summarize for a course and
// chapter.
var ErrNoSession = errors.New("no session found")

// ContentParseError reports a stored payload whose shape could not be decoded.
type ContentParseError struct {
	Source string
	Err    error
}

func (e *ContentParseError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("content parse error in %s", e.Source)
	}
	return fmt.Sprintf("content parse error in %s: %v", e.Source, e.Err)
}

func (e *ContentParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
