// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedup

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/iptbrowser/internal/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func movie(id, name string, snatched int, age time.Duration) models.Item {
	return models.Item{ID: id, Name: name, Category: "Movie/HD-Bluray", Snatched: snatched, Timestamp: base.Add(-age)}
}

func game(id, name, category string, snatched, seeders int, age time.Duration) models.Item {
	return models.Item{ID: id, Name: name, Category: category, Snatched: snatched, Seeders: seeders, Timestamp: base.Add(-age)}
}

func TestGroupDarkKnight(t *testing.T) {
	items := []models.Item{
		movie("1", "The Dark Knight (2008) 2160p BluRay x265", 50, time.Hour),
		movie("2", "The Dark Knight 2008 1080p WEB-DL", 200, 2*time.Hour),
		movie("3", "The.Dark.Knight.2008.720p.BDRip", 10, 3*time.Hour),
	}

	out := Group(items, nil)
	require.Len(t, out, 1)

	e := out[0]
	assert.Equal(t, "2", e.ID)
	assert.True(t, e.Grouped)
	assert.Equal(t, 3, e.VersionCount)
	assert.Equal(t, "dark knight", e.Key)
	require.Len(t, e.Versions, 3)
	assert.Equal(t, []string{"2", "1", "3"}, []string{e.Versions[0].ID, e.Versions[1].ID, e.Versions[2].ID})
}

func TestGroupMovieQualityBreaksSnatchedTie(t *testing.T) {
	items := []models.Item{
		movie("10", "Heat 1995 720p BluRay", 30, time.Hour),
		movie("11", "Heat 1995 2160p UHD BluRay", 30, 5*time.Hour),
		movie("12", "Heat 1995 1080p BluRay", 30, 2*time.Hour),
	}

	out := Group(items, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "11", out[0].ID)
	assert.Equal(t, "12", out[0].Versions[1].ID)
}

func TestGroupGameRanking(t *testing.T) {
	items := []models.Item{
		game("20", "Elden.Ring-RUNE", "PC-Rip", 100, 10, time.Hour),
		game("21", "Elden Ring [FitGirl Repack]", "PC-ISO", 100, 5, 2*time.Hour),
		game("22", "Elden.Ring.Update.v1.02.3-CODEX", "PC-ISO", 100, 50, 3*time.Hour),
		game("23", "Elden Ring Deluxe Edition MULTi12-ElAmigos", "PC-Mixed", 400, 1, 4*time.Hour),
	}

	out := Group(items, nil)
	require.Len(t, out, 1)

	e := out[0]
	assert.Equal(t, "23", e.ID, "snatched dominates")
	assert.Equal(t, "Elden Ring", e.DisplayName)
	assert.Equal(t, models.DomainGame, e.Domain)
	require.NotNil(t, e.Signals)
	assert.Equal(t, "1.02.3", e.LatestUpdate)

	ids := make([]string, 0, len(e.Versions))
	for _, v := range e.Versions {
		ids = append(ids, v.ID)
	}
	// full image over rip, then seeders within the same release type
	assert.Equal(t, []string{"23", "22", "21", "20"}, ids)
}

func TestGroupSingleGameKeepsSignals(t *testing.T) {
	out := Group([]models.Item{game("30", "Stardew Valley 01122025 Update-GROUP", "PC-ISO", 1, 1, 0)}, nil)
	require.Len(t, out, 1)

	e := out[0]
	assert.False(t, e.Grouped)
	assert.Nil(t, e.Versions)
	assert.Equal(t, 1, e.VersionCount)
	require.NotNil(t, e.Signals)
	assert.True(t, e.Signals.HasUpdate)
	assert.Equal(t, "01122025", e.Signals.UpdateVersion)
}

func TestGroupPassthrough(t *testing.T) {
	items := []models.Item{
		{ID: "40", Name: "b.release", Category: "TV/x264"},
		movie("41", "Heat 1995 720p BluRay", 1, 0),
		{ID: "42", Name: "a.release", Category: "Music"},
	}

	out := Group(items, nil)
	require.Len(t, out, 3)
	assert.Equal(t, "40", out[0].ID)
	assert.Equal(t, "42", out[1].ID)
	assert.Equal(t, models.DomainOther, out[1].Domain)
	assert.False(t, out[1].Grouped)
	assert.Equal(t, "41", out[2].ID)
}

func TestGroupDeterministicUnderPermutation(t *testing.T) {
	items := []models.Item{
		movie("1", "The Dark Knight (2008) 2160p BluRay x265", 50, time.Hour),
		movie("2", "The Dark Knight 2008 1080p WEB-DL", 50, time.Hour),
		movie("3", "The.Dark.Knight.2008.1080p.BDRip", 50, time.Hour),
		movie("4", "Heat 1995 1080p BluRay", 7, time.Hour),
		movie("5", "Heat.1995.1080p.WEB-DL", 7, time.Hour),
		game("6", "Elden.Ring-RUNE", "PC-ISO", 9, 3, time.Hour),
		game("7", "Elden Ring [FitGirl Repack]", "PC-ISO", 9, 3, time.Hour),
		game("8", "Hades.II.v0.92-GOG", "PC-Rip", 2, 2, time.Hour),
		game("9", "Hades II Update 1.0-TENOKE", "PC-Rip", 2, 2, time.Hour),
		{ID: "10", Name: "other", Category: "Music"},
	}

	want := Group(items, nil)
	require.Len(t, want, 5)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 25; i++ {
		shuffled := make([]models.Item, len(items))
		copy(shuffled, items)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		assert.Equal(t, want, Group(shuffled, nil))
	}
}

func TestGroupCustomClassifier(t *testing.T) {
	items := []models.Item{
		{ID: "1", Name: "Heat 1995 720p", Category: "custom"},
		{ID: "2", Name: "Heat 1995 1080p", Category: "custom", Snatched: 3},
	}

	out := Group(items, func(string) models.Domain { return models.DomainMovie })
	require.Len(t, out, 1)
	assert.Equal(t, "2", out[0].ID)
	assert.Equal(t, 2, out[0].VersionCount)
}

func TestQualityScore(t *testing.T) {
	assert.Equal(t, 4, QualityScore(models.Item{Name: "Movie 2160p"}))
	assert.Equal(t, 4, QualityScore(models.Item{Name: "Movie UHD BluRay"}))
	assert.Equal(t, 3, QualityScore(models.Item{Name: "Movie.1080p.WEB"}))
	assert.Equal(t, 2, QualityScore(models.Item{Name: "Movie 720p"}))
	assert.Equal(t, 1, QualityScore(models.Item{Name: "Movie 480p"}))
	assert.Equal(t, 0, QualityScore(models.Item{Name: "Movie DVDRip"}))
	assert.Equal(t, 3, QualityScore(models.Item{Name: "Movie", Metadata: &models.ReleaseMetadata{Quality: "1080p"}}))
}

func TestReleaseTypeScore(t *testing.T) {
	assert.Equal(t, 3, ReleaseTypeScore("PC-ISO"))
	assert.Equal(t, 2, ReleaseTypeScore("PC-Mixed"))
	assert.Equal(t, 2, ReleaseTypeScore("Nintendo"))
	assert.Equal(t, 1, ReleaseTypeScore("PC-Rip"))
	assert.Equal(t, 0, ReleaseTypeScore("Movie/4K"))
	assert.Equal(t, 0, ReleaseTypeScore("unknown"))
}
