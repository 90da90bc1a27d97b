package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind labels a fetch failure for metrics and retry decisions.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindConnection  ErrorKind = "connection"
	KindForbidden   ErrorKind = "forbidden"
	KindNotFound    ErrorKind = "not_found"
	KindRateLimited ErrorKind = "rate_limited"
	KindBadStatus   ErrorKind = "bad_status"
	KindOther       ErrorKind = "other"
)

// FetchError is a classified transport failure. It distinguishes transport
// problems from an empty body: a FetchError always means the request did not
// produce a usable response.
type FetchError struct {
	Kind   ErrorKind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// classifyFetchError maps a transport error and/or HTTP status onto a
// FetchError. Returns nil when there is nothing to report.
func classifyFetchError(url string, statusCode int, err error) *FetchError {
	if err == nil && statusCode < http.StatusBadRequest {
		return nil
	}

	fe := &FetchError{Kind: KindOther, URL: url, Status: statusCode, Err: err}

	if errors.Is(err, context.DeadlineExceeded) {
		fe.Kind = KindTimeout
		return fe
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		fe.Kind = KindTimeout
		return fe
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		fe.Kind = KindConnection
		return fe
	}

	switch statusCode {
	case http.StatusForbidden:
		fe.Kind = KindForbidden
	case http.StatusNotFound:
		fe.Kind = KindNotFound
	case http.StatusTooManyRequests:
		fe.Kind = KindRateLimited
	default:
		if statusCode >= http.StatusBadRequest {
			fe.Kind = KindBadStatus
		}
	}
	if fe.Err == nil {
		fe.Err = fmt.Errorf("http status %d", statusCode)
	}
	return fe
}

// errorKindLabel returns the metrics label for any error.
func errorKindLabel(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	if err == nil {
		return "unknown"
	}
	return string(KindOther)
}
