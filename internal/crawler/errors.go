package crawler

import (
	"errors"
	"fmt"
)

// ErrDuplicate is returned by a RecordStore when the info-hash is already
// stored. The engine treats it as a benign outcome.
var ErrDuplicate = errors.New("record already exists")

// FetchError describes a failed fetch: a transport error or a non-200 status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
