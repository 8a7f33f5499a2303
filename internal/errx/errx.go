// Package errx builds errors that stay matchable against package sentinels.
package errx

import "fmt"

// Wrap returns an error matching both sentinel and cause under errors.Is.
// A nil cause returns the sentinel unchanged.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// With appends formatted detail to the sentinel's message. The format is
// appended verbatim, so callers supply their own separator (": ...", " %q").
func With(sentinel error, format string, args ...any) error {
	return &detailError{sentinel: sentinel, detail: fmt.Sprintf(format, args...)}
}

type detailError struct {
	sentinel error
	detail   string
}

func (e *detailError) Error() string {
	return e.sentinel.Error() + e.detail
}

func (e *detailError) Unwrap() error {
	return e.sentinel
}
