package crawler

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every stage of a run. Classified errors match
// their sentinel with errors.Is and still expose the underlying cause.
var (
	// ErrUnprocessableItem marks rows with bad or missing essential data. Skipped, never retried.
	ErrUnprocessableItem = errors.New("unprocessable item")
	// ErrTransient marks failures that may succeed on retry.
	ErrTransient = errors.New("transient failure")
	// ErrFatal marks failures that will never succeed on retry.
	ErrFatal = errors.New("fatal failure")
	// ErrNavigationFailed means both primary and fallback page transitions failed.
	ErrNavigationFailed = errors.New("navigation failed")
	// ErrFrontierExhausted is the normal termination signal of the frontier.
	ErrFrontierExhausted = errors.New("frontier exhausted")
	// ErrDuplicateRecord is returned by dedupe-mode stores for records that already exist.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrFirstPageFailed aborts a run whose first listing page never loaded.
	ErrFirstPageFailed = errors.New("first listing page failed to load")
	// ErrNothingProcessed aborts a run that exhausted the frontier without persisting anything.
	ErrNothingProcessed = errors.New("frontier exhausted with zero processed items")
)

type classifiedError struct {
	kind error
	op   string
	err  error
}

func (e *classifiedError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %v", e.op, e.kind)
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *classifiedError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

// Transient classifies err as retryable.
func Transient(op string, err error) error {
	return &classifiedError{kind: ErrTransient, op: op, err: err}
}

// Fatal classifies err as non-retryable.
func Fatal(op string, err error) error {
	return &classifiedError{kind: ErrFatal, op: op, err: err}
}

// Unprocessable reports a row that cannot be processed.
func Unprocessable(reason string) error {
	return &classifiedError{kind: ErrUnprocessableItem, op: reason}
}

// NavigationFailed reports an abandoned page.
func NavigationFailed(page PageID, err error) error {
	return &classifiedError{kind: ErrNavigationFailed, op: fmt.Sprintf("navigate to page %d", page), err: err}
}

// IsFatal reports whether err must abort retries immediately.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal) || errors.Is(err, ErrUnprocessableItem)
}
