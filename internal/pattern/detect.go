// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pattern recognises update, patch and DLC markers in raw game titles.
package pattern

import (
	"regexp"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Signals is the detector output attached to game entries.
type Signals struct {
	HasUpdate     bool   `json:"hasUpdate"`
	UpdateVersion string `json:"updateVersion,omitempty"`
	IsDLC         bool   `json:"isDlc"`
	DLCName       string `json:"dlcName,omitempty"`
	HasPatch      bool   `json:"hasPatch"`
	PatchVersion  string `json:"patchVersion,omitempty"`
}

// Any reports whether any marker was found.
func (s Signals) Any() bool {
	return s.HasUpdate || s.HasPatch || s.IsDLC
}

var (
	// a marker only counts when a digit follows, optionally v-prefixed
	updateRe      = regexp.MustCompile(`(?i)\bupdate[\s._-]*v?(\d+(?:[\s._]\d+)*)`)
	datedUpdateRe = regexp.MustCompile(`(?i)\b(\d{8})[\s._-]*update\b`)
	patchRe       = regexp.MustCompile(`(?i)\b(?:patch|hotfix)[\s._-]*v?(\d+(?:[\s._]\d+)*)`)

	dlcMarkerRe   = regexp.MustCompile(`(?i)\b(?:dlcs?|expansion|add-?ons?|season[\s._]+pass)\b`)
	dlcIncludedRe = regexp.MustCompile(`(?i)(?:\+|\bincl(?:uding|\.)?|\bwith|\ball)[\s._]*(?:\d+[\s._]*)?(?:dlcs?|add-?ons?)\b`)

	groupSuffixRe   = regexp.MustCompile(`-[A-Za-z0-9]+$`)
	versionSepRe    = regexp.MustCompile(`[\s._]+`)
	nameSeparatorRe = regexp.MustCompile(`[._\s]+`)
	nameJunkRe      = regexp.MustCompile(`(?i)\b(?:v\d+(?:\.\d+)*|update|patch|repack|multi\d*|incl)\b`)
)

// Detect inspects a raw title. It must run before normalization, which
// removes the version information.
func Detect(raw string) Signals {
	var s Signals

	if m := updateRe.FindStringSubmatch(raw); m != nil {
		s.HasUpdate = true
		s.UpdateVersion = collapseVersion(m[1])
	} else if m := datedUpdateRe.FindStringSubmatch(raw); m != nil {
		s.HasUpdate = true
		s.UpdateVersion = m[1]
	}

	if m := patchRe.FindStringSubmatch(raw); m != nil {
		s.HasPatch = true
		s.PatchVersion = collapseVersion(m[1])
	}

	withoutIncluded := dlcIncludedRe.ReplaceAllString(raw, " ")
	if loc := dlcMarkerRe.FindStringIndex(withoutIncluded); loc != nil {
		s.IsDLC = true
		s.DLCName = extractDLCName(withoutIncluded[loc[1]:])
	}

	return s
}

func collapseVersion(v string) string {
	return strings.Trim(versionSepRe.ReplaceAllString(strings.TrimSpace(v), "."), ".")
}

func extractDLCName(tail string) string {
	tail = groupSuffixRe.ReplaceAllString(strings.TrimSpace(tail), "")
	tail = nameJunkRe.ReplaceAllString(tail, " ")
	tail = dlcMarkerRe.ReplaceAllString(tail, " ")
	tail = nameSeparatorRe.ReplaceAllString(tail, " ")
	return strings.Trim(tail, " -:")
}

// CompareVersions orders two update or patch versions. Eight digit dates in
// DDMMYYYY form are compared chronologically. Unparseable versions fall back
// to string comparison.
func CompareVersions(a, b string) int {
	a, b = canonicalDate(a), canonicalDate(b)

	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func canonicalDate(v string) string {
	if len(v) != 8 || strings.Trim(v, "0123456789") != "" {
		return v
	}
	// YYYYMMDD already sorts correctly
	if strings.HasPrefix(v, "19") || strings.HasPrefix(v, "20") {
		if mm := v[4:6]; mm >= "01" && mm <= "12" {
			return v
		}
	}
	dd, mm, yyyy := v[0:2], v[2:4], v[4:8]
	if dd >= "01" && dd <= "31" && mm >= "01" && mm <= "12" {
		return yyyy + mm + dd
	}
	return v
}
