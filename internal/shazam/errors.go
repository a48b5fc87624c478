package shazam

import (
	"fmt"
	"net/http"
)

// Error is a failure of the recognition service.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("shazam %s: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("shazam %s: unexpected status %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	default:
		return "shazam " + e.Op + " failed"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
