// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/iptbrowser/internal/models"
)

func TestNormalizeMovies(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "parenthesized year and 2160p encode",
			input:    "The Dark Knight (2008) 2160p BluRay x265",
			expected: "dark knight",
		},
		{
			name:     "plain year with web-dl",
			input:    "The Dark Knight 2008 1080p WEB-DL",
			expected: "dark knight",
		},
		{
			name:     "dotted scene name",
			input:    "The.Dark.Knight.2008.720p.BDRip",
			expected: "dark knight",
		},
		{
			name:     "edition token before tags",
			input:    "The.Matrix.1999.REMASTERED.2160p.UHD.BluRay.x265-GROUP",
			expected: "matrix",
		},
		{
			name:     "hyphenated title keeps its dash",
			input:    "Spider-Man.No.Way.Home.2021.1080p.WEB-DL-GROUP",
			expected: "spider-man no way home",
		},
		{
			name:     "title word that is also a scene flag",
			input:    "The Internal 2020 1080p",
			expected: "internal",
		},
		{
			name:     "scene flags after the year",
			input:    "Movie.Name.2019.PROPER.1080p.BluRay-GRP",
			expected: "movie name",
		},
		{
			name:     "repack and remux after the year",
			input:    "Dune Part Two 2024 REPACK REMUX 2160p",
			expected: "dune part two",
		},
		{
			name:     "title number beyond release years",
			input:    "Blade Runner 2049 2017 2160p",
			expected: "blade runner 2049",
		},
		{
			name:     "year-like title keeps its leading number",
			input:    "1917 (2019) 1080p",
			expected: "1917",
		},
		{
			name:     "dotted group suffix",
			input:    "Movie.Name-GRP",
			expected: "movie name",
		},
		{
			// a dash glued to a spaced title may be part of it (Spider-Man), so it stays
			name:     "spaced title with glued group suffix",
			input:    "Movie Name-GRP",
			expected: "movie name-grp",
		},
		{
			name:     "diacritics folded",
			input:    "Amélie 2001 1080p BluRay",
			expected: "amelie",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input, models.DomainMovie))
		})
	}
}

func TestNormalizeGames(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "update with dotted version and group",
			input:    "Elden.Ring.Update.v1.02.3-CODEX",
			expected: "elden ring",
		},
		{
			name:     "edition and multi language",
			input:    "Elden Ring Deluxe Edition MULTi12-FitGirl",
			expected: "elden ring",
		},
		{
			name:     "repacker brackets",
			input:    "Half-Life 2 [FitGirl Repack]",
			expected: "half life 2",
		},
		{
			name:     "title number is not a year",
			input:    "Cyberpunk 2077 Update 2.1-GOG",
			expected: "cyberpunk 2077",
		},
		{
			name:     "leading year-like title number",
			input:    "1979 Revolution Black Friday 2016-GOG",
			expected: "1979 revolution black friday",
		},
		{
			name:     "version token and store platform",
			input:    "Hades.II.v0.92-GOG",
			expected: "hades ii",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input, models.DomainGame))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	titles := map[models.Domain][]string{
		models.DomainMovie: {
			"The Dark Knight (2008) 2160p BluRay x265",
			"The.Matrix.1999.REMASTERED.2160p.UHD.BluRay.x265-GROUP",
			"Spider-Man.No.Way.Home.2021.1080p.WEB-DL-GROUP",
			"Blade Runner 2049 (2017) [Director's Cut] 1080p",
			"A.Quiet.Place.2018.720p.BluRay.x264-SPARKS",
			"1917 (2019) 1080p",
			"The Internal 2020 1080p",
			"Movie 1984 2020 720p",
		},
		models.DomainGame: {
			"Elden.Ring.Update.v1.02.3-CODEX",
			"Half-Life 2 [FitGirl Repack]",
			"Hades.II.v0.92-GOG",
			"Cyberpunk 2077 Update 2.1-GOG",
			"Stardew Valley 01122025 Update-GROUP",
			"The.Witcher.3.Wild.Hunt.GOTY.Edition.MULTi12-ElAmigos",
		},
		models.DomainOther: {
			"Some.Random_Upload  2024",
		},
	}

	for domain, list := range titles {
		for _, title := range list {
			once := Normalize(title, domain)
			assert.Equal(t, once, Normalize(once, domain), "domain=%s title=%q", domain, title)
		}
	}
}

func TestRuleOrderStripsUpdateBeforeVersion(t *testing.T) {
	// the dated marker and its version must both disappear
	assert.Equal(t, "stardew valley", Normalize("Stardew Valley 01122025 Update-GROUP", models.DomainGame))
	assert.Equal(t, "great update", Normalize("Great Update Edition", models.DomainGame))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Elden Ring", DisplayName("elden ring"))
	assert.Equal(t, "Half Life 2", DisplayName("half life 2"))
	assert.Equal(t, "", DisplayName(""))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "Pokemon", Fold("Pokémon"))
	assert.Equal(t, "plain", Fold("plain"))
}
