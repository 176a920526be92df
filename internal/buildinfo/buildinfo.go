// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"fmt"
	"runtime"
)

// Set via ldflags: -X github.com/autobrr/iptbrowser/internal/buildinfo.Version=v1.0.0
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent identifies outbound API requests (TMDB, IGDB, qBittorrent).
// Listing pages use a browser user agent instead, see scraper.DefaultUserAgent.
var UserAgent = fmt.Sprintf("iptbrowser/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
