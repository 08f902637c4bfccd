package fetch

import (
	"fmt"

	"github.com/jobscan/jobscan/pkg/utils"
)

// FetchError is the typed failure of a fetch. It matches utils.ErrFetch and
// unwraps to the underlying cause.
type FetchError struct {
	SourceID   string
	URL        string
	StatusCode int  // Last HTTP status seen, 0 if none
	Attempts   int  // Requests actually sent
	Transient  bool // Failure was retryable but retries ran out
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s", e.URL)
	if e.SourceID != "" {
		msg = fmt.Sprintf("fetch %s (source %s)", e.URL, e.SourceID)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s after %d attempt(s): %v", msg, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is makes every FetchError match utils.ErrFetch.
func (e *FetchError) Is(target error) bool { return target == utils.ErrFetch }
