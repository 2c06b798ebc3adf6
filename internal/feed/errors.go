package feed

import "fmt"

// FetchError marks a network or HTTP-level failure. Source-wide and terminal
// for the run it belongs to.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError marks a malformed feed envelope. Per-item problems never raise it;
// only a top-level document that cannot be decoded does.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
