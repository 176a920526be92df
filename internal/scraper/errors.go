// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"errors"
	"fmt"
	"net/http"
)

// UpstreamAuthError means the site did not accept the session cookie. It is
// raised when a 200 response lacks the listing table, when the request is
// redirected to the login page, or when an expiry notice is served.
type UpstreamAuthError struct {
	URL    string
	Reason string
}

func (e *UpstreamAuthError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("not authenticated at %s", e.URL)
	}
	return fmt.Sprintf("not authenticated at %s: %s", e.URL, e.Reason)
}

func (e *UpstreamAuthError) Is(target error) bool {
	_, ok := target.(*UpstreamAuthError)
	return ok
}

// UpstreamTransportError covers network failures, timeouts and non-2xx
// responses. StatusCode is zero when no response was received.
type UpstreamTransportError struct {
	StatusCode int
	URL        string
	Err        error
}

func (e *UpstreamTransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *UpstreamTransportError) Unwrap() error {
	return e.Err
}

func (e *UpstreamTransportError) Is(target error) bool {
	_, ok := target.(*UpstreamTransportError)
	return ok
}

// IsRateLimited returns true if this error indicates rate limiting (HTTP 429).
func (e *UpstreamTransportError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsAuthError reports whether err is, or wraps, an UpstreamAuthError.
func IsAuthError(err error) bool {
	return errors.Is(err, &UpstreamAuthError{})
}

// IsTransportError reports whether err is, or wraps, an UpstreamTransportError.
func IsTransportError(err error) bool {
	return errors.Is(err, &UpstreamTransportError{})
}
