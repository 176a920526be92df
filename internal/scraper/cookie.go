// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrCookieEmpty   = errors.New("cookie is empty")
	ErrCookieFormat  = errors.New("cookie must contain uid and pass values")
	requiredCookieKV = []string{"uid", "pass"}
)

// ParseCookie splits a "uid=123; pass=abc" header value into pairs.
func ParseCookie(raw string) []*http.Cookie {
	var out []*http.Cookie
	for _, part := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}
	return out
}

// ValidateCookieFormat checks that the cookie carries the session keys the
// site requires. It does not contact the site.
func ValidateCookieFormat(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return ErrCookieEmpty
	}

	present := make(map[string]bool)
	for _, c := range ParseCookie(raw) {
		if c.Value != "" {
			present[strings.ToLower(c.Name)] = true
		}
	}
	for _, k := range requiredCookieKV {
		if !present[k] {
			return ErrCookieFormat
		}
	}
	return nil
}

// MaskCookie hides cookie values, keeping the first and last four characters
// of long values.
func MaskCookie(raw string) string {
	if len(raw) < 20 {
		return "****"
	}

	cookies := ParseCookie(raw)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		masked := "****"
		if len(c.Value) > 8 {
			masked = c.Value[:4] + "..." + c.Value[len(c.Value)-4:]
		}
		parts = append(parts, c.Name+"="+masked)
	}
	return strings.Join(parts, "; ")
}

// NormalizeCookie rewrites a cookie into canonical "k=v; k=v" form.
func NormalizeCookie(raw string) string {
	cookies := ParseCookie(raw)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
