// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/moistari/rls"

	"github.com/autobrr/iptbrowser/internal/models"
	"github.com/autobrr/iptbrowser/internal/pipeline"
)

var (
	detailsIDRe = regexp.MustCompile(`(?:/t/|details\.php\?id=)(\d+)`)
	sizeCellRe  = regexp.MustCompile(`(?i)^\s*[\d.,]+\s*(?:KB|MB|GB|TB)\s*$`)
	sizeTextRe  = regexp.MustCompile(`(?i)([\d.]+)\s*(KB|MB|GB|TB)`)
	imdbIDRe    = regexp.MustCompile(`tt\d{5,}`)
	digitsRe    = regexp.MustCompile(`^\d+$`)
)

// ParsePage extracts listing rows from a browse page. A page without the
// listing table is an authentication failure; a table without rows is an
// empty page.
func ParsePage(r io.Reader, category models.Category, baseURL string, now time.Time) ([]models.Item, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	table := doc.Find("table#torrents").First()
	if table.Length() == 0 {
		return nil, &UpstreamAuthError{Reason: "listing table not found"}
	}

	baseURL = strings.TrimRight(baseURL, "/")
	seen := make(map[string]struct{})
	items := make([]models.Item, 0, 75)

	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		it, ok := parseRow(row, category, baseURL, now)
		if !ok {
			return
		}
		if _, dup := seen[it.ID]; dup {
			return
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)
	})

	return items, nil
}

func parseRow(row *goquery.Selection, category models.Category, baseURL string, now time.Time) (models.Item, bool) {
	cells := row.Find("td")
	if cells.Length() < 5 {
		return models.Item{}, false
	}

	titleLink := row.Find("a[href]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		href := s.AttrOr("href", "")
		if strings.Contains(href, "bookmark") || strings.Contains(href, "comment") {
			return false
		}
		return detailsIDRe.MatchString(href) && strings.TrimSpace(s.Text()) != ""
	}).First()
	if titleLink.Length() == 0 {
		return models.Item{}, false
	}

	m := detailsIDRe.FindStringSubmatch(titleLink.AttrOr("href", ""))
	if m == nil {
		return models.Item{}, false
	}

	it := models.Item{
		ID:         m[1],
		Name:       strings.TrimSpace(titleLink.Text()),
		Category:   category.Name,
		Size:       "Unknown",
		DetailsURL: baseURL + "/t/" + m[1],
	}

	if href, ok := row.Find(`a[href*="/download.php/"]`).First().Attr("href"); ok {
		it.DownloadURL = absoluteURL(baseURL, href)
	}

	var numbers []int
	cells.Each(func(_ int, cell *goquery.Selection) {
		text := strings.TrimSpace(cell.Text())
		switch {
		case digitsRe.MatchString(text):
			if n, err := strconv.Atoi(text); err == nil {
				numbers = append(numbers, n)
			}
		case it.Size == "Unknown" && sizeCellRe.MatchString(text):
			it.Size = strings.Join(strings.Fields(text), " ")
		}
	})

	rowText := row.Text()
	if it.Size == "Unknown" {
		if sm := sizeTextRe.FindString(rowText); sm != "" {
			it.Size = sm
		}
	}
	it.SizeBytes = pipeline.ParseSize(it.Size)

	// the last three numeric cells are seeders, leechers, snatched
	if n := len(numbers); n >= 3 {
		it.Seeders = max(numbers[n-3], 0)
	}
	if n := len(numbers); n >= 2 {
		it.Leechers = max(numbers[n-2], 0)
	}
	if n := len(numbers); n >= 1 {
		it.Snatched = max(numbers[n-1], 0)
	}

	ts, uploaded, ok := ParseRelativeTime(rowText, now)
	it.Timestamp = ts
	it.UploadTime = "Unknown"
	if ok {
		it.UploadTime = uploaded
	}

	it.Freeleech = strings.Contains(strings.ToLower(rowText), "freeleech") || row.Find(".free").Length() > 0

	if href, ok := row.Find(`a[href*="imdb.com/title/"]`).First().Attr("href"); ok {
		it.ExternalID = imdbIDRe.FindString(href)
	}

	if category.Domain == models.DomainMovie {
		it.Metadata = releaseMetadata(it.Name)
	}

	return it, true
}

func releaseMetadata(name string) *models.ReleaseMetadata {
	r := rls.ParseString(name)
	if r.Resolution == "" && r.Year == 0 && r.Genre == "" {
		return nil
	}

	md := &models.ReleaseMetadata{
		Quality: r.Resolution,
		Year:    r.Year,
	}
	for _, g := range strings.FieldsFunc(r.Genre, func(c rune) bool { return c == ',' || c == '/' || c == '|' }) {
		if g = strings.TrimSpace(g); g != "" {
			md.Genres = append(md.Genres, g)
		}
	}
	return md
}

func absoluteURL(baseURL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return baseURL + "/" + strings.TrimLeft(href, "/")
}
