// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var expirationPhrases = []string{
	"session has expired",
	"session expired",
	"please log in",
	"please login",
	"your session",
	"logged out",
}

var ratioRe = regexp.MustCompile(`[\d.]+`)

// UserInfo is what the site header shows for a logged-in session.
type UserInfo struct {
	Username   string `json:"username"`
	Ratio      string `json:"ratio,omitempty"`
	Uploaded   string `json:"upload,omitempty"`
	Downloaded string `json:"download,omitempty"`
}

// ValidationResult reports whether a cookie opens a session.
type ValidationResult struct {
	Valid          bool      `json:"valid"`
	Message        string    `json:"message"`
	UserInfo       *UserInfo `json:"user_info"`
	ExpiryDetected bool      `json:"expiry_detected"`
	TestedAt       time.Time `json:"tested_at"`
}

// Validator checks a cookie against the first PC-ISO page without following
// redirects, so a bounce to the login page is visible.
type Validator struct {
	baseURL    string
	userAgent  string
	noRedirect HTTPClient
	follow     HTTPClient
	now        func() time.Time
}

func NewValidator(baseURL string) *Validator {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Validator{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: DefaultUserAgent,
		noRedirect: &http.Client{
			Timeout: 15 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		follow: &http.Client{Timeout: 15 * time.Second},
		now:    time.Now,
	}
}

func (v *Validator) testURL() string {
	return v.baseURL + "/t?43"
}

// Test requests the check page with cookie and classifies the response.
func (v *Validator) Test(ctx context.Context, cookie string) ValidationResult {
	res := ValidationResult{TestedAt: v.now()}

	if strings.TrimSpace(cookie) == "" {
		res.Message = "No cookie provided"
		return res
	}
	if err := ValidateCookieFormat(cookie); err != nil {
		res.Message = "Invalid cookie format"
		return res
	}
	cookie = NormalizeCookie(cookie)

	resp, body, err := v.do(ctx, v.noRedirect, cookie)
	if err != nil {
		res.Message = fmt.Sprintf("Network error: %v", err)
		return res
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := strings.ToLower(resp.Header.Get("Location"))
		if strings.Contains(location, "login") {
			res.Message = "Cookie expired - redirected to login page"
			res.ExpiryDetected = true
			return res
		}
		if followed, followedBody, err := v.do(ctx, v.follow, cookie); err == nil {
			resp, body = followed, followedBody
		}
	}

	switch resp.StatusCode {
	case http.StatusForbidden:
		res.Message = "Cookie rejected - access forbidden"
		res.ExpiryDetected = true
		return res
	case http.StatusOK:
	default:
		res.Message = fmt.Sprintf("Unexpected response status: %d", resp.StatusCode)
		return res
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		res.Message = fmt.Sprintf("Error testing cookie: %v", err)
		return res
	}

	if DetectExpiration(body) || hasLoginForm(doc) {
		res.Message = "Cookie expired - session expired message detected"
		res.ExpiryDetected = true
		return res
	}

	info := ParseUserInfo(doc)
	if info == nil {
		res.Message = "Cookie may be invalid - no user info found"
		res.ExpiryDetected = true
		return res
	}

	res.Valid = true
	res.UserInfo = info
	res.Message = "Cookie is valid - logged in as " + info.Username
	return res
}

func (v *Validator) do(ctx context.Context, hc HTTPClient, cookie string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.testURL(), nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", v.userAgent)
	req.Header.Set("Cookie", cookie)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

// DetectExpiration looks for the notices the site shows to logged-out users.
func DetectExpiration(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, phrase := range expirationPhrases {
		if bytes.Contains(lower, []byte(phrase)) {
			return true
		}
	}
	return false
}

func hasLoginForm(doc *goquery.Document) bool {
	loginForm := doc.Find("form[action]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.AttrOr("action", "")), "login")
	})
	if loginForm.Length() > 0 {
		return true
	}

	username := doc.Find("input[name]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.AttrOr("name", "")), "username")
	})
	return username.Length() > 0 && doc.Find(`input[type="password"]`).Length() > 0
}

// ParseUserInfo reads the username and transfer stats from the page header.
// It returns nil when no username is present.
func ParseUserInfo(doc *goquery.Document) *UserInfo {
	info := &UserInfo{}

	doc.Find("a.uname").First().Contents().EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if goquery.NodeName(s) != "#text" {
			return true
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			info.Username = text
			return false
		}
		return true
	})

	doc.Find(`span[class*="tTipWrap"]`).Each(func(_ int, span *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(span.Find("div.tTip").First().Text()))
		if label == "" {
			return
		}

		// value is the first text node after the tooltip and the icon
		var value string
		tags := 0
		span.Contents().EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if goquery.NodeName(s) != "#text" {
				tags++
				return true
			}
			if text := strings.TrimSpace(s.Text()); text != "" && tags >= 2 {
				value = text
				return false
			}
			return true
		})
		if value == "" {
			return
		}

		switch {
		case strings.Contains(label, "upload"):
			info.Uploaded = value
		case strings.Contains(label, "download"):
			info.Downloaded = value
		case strings.Contains(label, "ratio"):
			info.Ratio = ratioRe.FindString(value)
		}
	})

	if info.Username == "" {
		return nil
	}
	return info
}
