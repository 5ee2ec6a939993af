package dispatcher

import (
	"errors"
	"fmt"

	"codetutor-exec/model"
)

var (
	// ErrUnsupportedLanguage is returned when no backend is registered for a language.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrUnavailable marks failures to reach a backend at all.
	ErrUnavailable = errors.New("backend unavailable")
)

// UpstreamError carries a non-2xx answer from a backend so the dispatcher
// can relay its status and body.
type UpstreamError struct {
	StatusCode int
	Outcome    *model.ExecutionOutcome
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}
