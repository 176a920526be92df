// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"github.com/autobrr/iptbrowser/internal/dedup"
	"github.com/autobrr/iptbrowser/internal/models"
)

// Apply filters then sorts a flat item list.
func Apply(items []models.Item, f Filters, spec SortSpec) ([]models.Item, error) {
	filtered, err := Filter(items, f)
	if err != nil {
		return nil, err
	}
	return Sort(filtered, spec), nil
}

// Run is the full query pipeline: filter, sort, optionally group, then sort
// the entries again since grouping emits them bucket by bucket.
func Run(items []models.Item, f Filters, spec SortSpec, group bool, classify dedup.Classifier) ([]dedup.Entry, error) {
	sorted, err := Apply(items, f, spec)
	if err != nil {
		return nil, err
	}

	if !group {
		out := make([]dedup.Entry, len(sorted))
		for i, it := range sorted {
			out[i] = dedup.Entry{
				Item:         it,
				Domain:       domainOf(it.Category, classify),
				DisplayName:  it.Name,
				VersionCount: 1,
			}
		}
		return out, nil
	}

	return SortEntries(dedup.Group(sorted, classify), spec), nil
}

func domainOf(category string, classify dedup.Classifier) models.Domain {
	if classify == nil {
		return models.CategoryDomain(category)
	}
	return classify(category)
}
