// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/models"
)

// ExprEnv is the environment a filter expression is evaluated against,
// e.g. `Snatched > 20 && Freeleech && AgeHours < 48`.
type ExprEnv struct {
	Name      string
	Category  string
	SizeBytes int64
	Seeders   int
	Leechers  int
	Snatched  int
	AgeHours  float64
	Freeleech bool
}

// ErrInvalidExpr is returned when a filter expression does not compile.
var ErrInvalidExpr = errors.New("invalid filter expression")

var exprCache = ttlcache.New(ttlcache.Options[string, *vm.Program]{}.SetDefaultTTL(5 * time.Minute))

// CompileExpr compiles a boolean filter expression, reusing cached programs.
func CompileExpr(src string) (*vm.Program, error) {
	if p, ok := exprCache.Get(src); ok {
		return p, nil
	}

	program, err := expr.Compile(src, expr.Env(ExprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpr, err)
	}

	if ok := exprCache.Set(src, program, ttlcache.DefaultTTL); !ok {
		log.Debug().Str("expr", src).Msg("Failed to cache expression")
	}
	return program, nil
}

// ByExpr keeps items for which the expression evaluates to true. A runtime
// error on one item drops that item only.
func ByExpr(items []models.Item, src string, now time.Time) ([]models.Item, error) {
	program, err := CompileExpr(src)
	if err != nil {
		return nil, err
	}
	if now.IsZero() {
		now = time.Now()
	}

	out := make([]models.Item, 0, len(items))
	for _, it := range items {
		result, err := expr.Run(program, envFor(it, now))
		if err != nil {
			log.Debug().Err(err).Str("id", it.ID).Msg("Filter expression failed for item")
			continue
		}
		if match, ok := result.(bool); ok && match {
			out = append(out, it)
		}
	}
	return out, nil
}

func envFor(it models.Item, now time.Time) ExprEnv {
	size := it.SizeBytes
	if size == 0 {
		size = ParseSize(it.Size)
	}
	var age float64
	if !it.Timestamp.IsZero() {
		age = now.Sub(it.Timestamp).Hours()
	}
	return ExprEnv{
		Name:      it.Name,
		Category:  it.Category,
		SizeBytes: size,
		Seeders:   it.Seeders,
		Leechers:  it.Leechers,
		Snatched:  it.Snatched,
		AgeHours:  age,
		Freeleech: it.Freeleech,
	}
}
