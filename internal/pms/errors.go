package pms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Category is the fixed fault taxonomy for PMS calls.
type Category string

const (
	CategoryConnectionRefused Category = "connection_refused"
	CategoryUnauthorized      Category = "unauthorized"
	CategoryForbidden         Category = "forbidden"
	CategoryServerError       Category = "server_error"
	CategoryTimeout           Category = "timeout"
	CategoryInvalidResponse   Category = "invalid_response"
	CategoryUnknown           Category = "unknown"

	// CategoryInternal marks local persistence failures during a sweep.
	CategoryInternal Category = "internal"
)

var categoryMessages = map[Category]string{
	CategoryConnectionRefused: "Unable to reach the PMS server. Check the base URL and network access.",
	CategoryUnauthorized:      "The PMS rejected the API key.",
	CategoryForbidden:         "The API key is not allowed to access this property.",
	CategoryServerError:       "The PMS server reported an internal error.",
	CategoryTimeout:           "The PMS did not respond in time.",
	CategoryInvalidResponse:   "The PMS returned a response that could not be understood.",
	CategoryUnknown:           "Unexpected error while contacting the PMS.",
	CategoryInternal:          "Failed to store PMS data locally.",
}

// Describe returns the human-readable message for a category.
func (c Category) Describe() string {
	if message, ok := categoryMessages[c]; ok {
		return message
	}
	return categoryMessages[CategoryUnknown]
}

// FetchError is a categorized PMS failure.
type FetchError struct {
	Category   Category
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pms %s: %v", e.Category, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("pms %s: status %d", e.Category, e.StatusCode)
	}
	return "pms " + string(e.Category)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CategoryOf extracts the category of err, defaulting to unknown.
func CategoryOf(err error) Category {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Category
	}
	return CategoryUnknown
}

// classifyTransport maps a transport-level error to a FetchError.
func classifyTransport(err error) *FetchError {
	category := CategoryUnknown

	var netErr net.Error
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		category = CategoryTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		category = CategoryTimeout
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		category = CategoryConnectionRefused
	case errors.As(err, &dnsErr):
		category = CategoryConnectionRefused
	}
	return &FetchError{Category: category, Err: err}
}

// classifyStatus maps a non-success HTTP status to a FetchError.
func classifyStatus(status int) *FetchError {
	category := CategoryUnknown
	switch {
	case status == 401:
		category = CategoryUnauthorized
	case status == 403:
		category = CategoryForbidden
	case status >= 500:
		category = CategoryServerError
	}
	return &FetchError{Category: category, StatusCode: status}
}
