package upload

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyImage is returned before any network activity when there is nothing to send
var ErrEmptyImage = errors.New("no image to upload")

// Attempt records one POST against a base URL
type Attempt struct {
	URL string
	Err error
}

// UploadError is returned when every attempt failed. With the https to http
// fallback it carries both causes.
type UploadError struct {
	Attempts []Attempt
}

func (e *UploadError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.URL, a.Err))
	}
	return "upload failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every attempt's cause to errors.Is and errors.As
func (e *UploadError) Unwrap() error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errors.Join(errs...)
}

// StatusError is a non-2xx reply from the relay
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("relay returned %d", e.Code)
	}
	return fmt.Sprintf("relay returned %d: %s", e.Code, e.Body)
}
