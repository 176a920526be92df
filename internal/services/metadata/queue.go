// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/dedup"
	"github.com/autobrr/iptbrowser/internal/domain"
	"github.com/autobrr/iptbrowser/internal/models"
)

const (
	DefaultEnrichmentDelay = 250 * time.Millisecond
	defaultQueueSize       = 512
	failedResultTTL        = 5 * time.Minute
)

// MovieSource resolves movie metadata; *TMDBClient implements it.
type MovieSource interface {
	Lookup(ctx context.Context, imdbID, title string, year int) (*MovieMetadata, error)
}

// GameSource resolves game metadata; *IGDBClient implements it.
type GameSource interface {
	SearchGame(ctx context.Context, name, platform string) (*GameMetadata, error)
}

// Job is one pending lookup derived from a grouped entry.
type Job struct {
	Domain   models.Domain `json:"domain"`
	Key      string        `json:"key"`
	Title    string        `json:"title"`
	Year     int           `json:"year,omitempty"`
	IMDbID   string        `json:"imdbId,omitempty"`
	Platform string        `json:"platform,omitempty"`
}

// Result is the published outcome of a job. Found is false for a clean miss;
// Error is set when the provider failed.
type Result struct {
	Domain    models.Domain  `json:"domain"`
	Key       string         `json:"key"`
	Found     bool           `json:"found"`
	Movie     *MovieMetadata `json:"movie,omitempty"`
	Game      *GameMetadata  `json:"game,omitempty"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// JobKey identifies a (domain, group key) pair in the queue and result cache.
func JobKey(d models.Domain, key string) uint64 {
	return xxhash.Sum64String(string(d) + "\x00" + key)
}

// PlatformForCategory returns the IGDB platform name implied by a game
// category, or "" when the category spans several platforms.
func PlatformForCategory(category string) string {
	c, ok := models.LookupCategory(category)
	if !ok {
		return ""
	}
	switch {
	case strings.HasPrefix(c.Name, "PC-"):
		return "PC"
	case c.Name == "Nintendo":
		return "Nintendo Switch"
	case c.Name == "Wii":
		return "Wii"
	default:
		return ""
	}
}

// JobFromEntry builds a lookup job for a movie or game group. Passthrough
// entries and entries without a group key have nothing to look up.
func JobFromEntry(e dedup.Entry) (Job, bool) {
	if e.Key == "" {
		return Job{}, false
	}

	switch e.Domain {
	case models.DomainMovie:
		job := Job{Domain: e.Domain, Key: e.Key, Title: e.Key}
		if e.Metadata != nil {
			job.Year = e.Metadata.Year
		}
		if strings.HasPrefix(e.ExternalID, "tt") {
			job.IMDbID = e.ExternalID
		}
		return job, true
	case models.DomainGame:
		return Job{Domain: e.Domain, Key: e.Key, Title: e.DisplayName, Platform: PlatformForCategory(e.Category)}, true
	default:
		return Job{}, false
	}
}

// Queue looks up metadata for grouped entries one at a time with a fixed
// delay between provider calls and publishes results into an in-memory cache.
type Queue struct {
	movies  MovieSource
	games   GameSource
	delay   time.Duration
	jobs    chan Job
	results *ttlcache.Cache[uint64, *Result]
	now     func() time.Time
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[uint64]struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type QueueOption func(*Queue)

func WithQueueDelay(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d >= 0 {
			q.delay = d
		}
	}
}

func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.jobs = make(chan Job, n)
		}
	}
}

func WithQueueResultTTL(ttl time.Duration) QueueOption {
	return func(q *Queue) {
		if ttl > 0 {
			q.results = ttlcache.New(ttlcache.Options[uint64, *Result]{}.SetDefaultTTL(ttl))
		}
	}
}

func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates a stopped queue. Either source may be nil, in which case
// entries of that domain are not enqueued.
func NewQueue(movies MovieSource, games GameSource, opts ...QueueOption) *Queue {
	q := &Queue{
		movies:  movies,
		games:   games,
		delay:   DefaultEnrichmentDelay,
		jobs:    make(chan Job, defaultQueueSize),
		results: ttlcache.New(ttlcache.Options[uint64, *Result]{}.SetDefaultTTL(defaultCacheTTL)),
		now:     time.Now,
		pending: make(map[uint64]struct{}),
		log:     log.Logger.With().Str("module", "enrichment").Logger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start runs the worker until ctx is cancelled or Stop is called. Calling
// Start on a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.run(ctx, q.done)
}

// Stop cancels the worker and waits for it to exit. Jobs still queued, and a
// lookup cancelled mid-flight, stay queued for the next Start.
func (q *Queue) Stop() {
	q.runMu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel, q.done = nil, nil
	q.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Enqueue adds a job for every entry that has a source and is neither cached
// nor already pending. It never blocks; entries beyond the queue capacity are
// dropped. Returns the number of jobs added.
func (q *Queue) Enqueue(entries []dedup.Entry) int {
	added := 0
	for _, e := range entries {
		job, ok := JobFromEntry(e)
		if !ok || !q.hasSource(job.Domain) {
			continue
		}

		id := JobKey(job.Domain, job.Key)
		if _, ok := q.results.Get(id); ok {
			continue
		}

		q.mu.Lock()
		if _, ok := q.pending[id]; ok {
			q.mu.Unlock()
			continue
		}
		select {
		case q.jobs <- job:
			q.pending[id] = struct{}{}
			added++
		default:
			q.mu.Unlock()
			q.log.Warn().Int("capacity", cap(q.jobs)).Msg("Enrichment queue full, dropping remaining entries")
			return added
		}
		q.mu.Unlock()
	}
	return added
}

// Lookup returns the published result for a group key.
func (q *Queue) Lookup(d models.Domain, key string) (*Result, bool) {
	res, ok := q.results.Get(JobKey(d, key))
	if !ok || res == nil {
		return nil, false
	}
	out := *res
	return &out, true
}

// Pending returns the number of queued or in-flight jobs.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) hasSource(d models.Domain) bool {
	switch d {
	case models.DomainMovie:
		return q.movies != nil
	case models.DomainGame:
		return q.games != nil
	}
	return false
}

func (q *Queue) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		job, ok := q.next(ctx)
		if !ok {
			return
		}

		if !q.process(ctx, job) {
			q.requeue(job)
			return
		}

		if q.delay > 0 {
			t := time.NewTimer(q.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

// next dequeues one job. A job received after ctx was cancelled goes back on
// the queue.
func (q *Queue) next(ctx context.Context) (Job, bool) {
	var job Job
	select {
	case <-ctx.Done():
		return Job{}, false
	case job = <-q.jobs:
	}

	if ctx.Err() != nil {
		q.requeue(job)
		return Job{}, false
	}
	return job, true
}

// requeue puts an unfinished job back. Its pending mark is kept unless the
// queue filled up in the meantime.
func (q *Queue) requeue(job Job) {
	select {
	case q.jobs <- job:
	default:
		q.mu.Lock()
		delete(q.pending, JobKey(job.Domain, job.Key))
		q.mu.Unlock()
		q.log.Warn().Str("key", job.Key).Msg("Enrichment queue full, dropping cancelled job")
	}
}

// process runs one lookup and publishes the result. It returns false when ctx
// was cancelled before the lookup finished; the job is then still pending.
func (q *Queue) process(ctx context.Context, job Job) bool {
	id := JobKey(job.Domain, job.Key)
	finished := true
	defer func() {
		if !finished {
			return
		}
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
	}()

	res := &Result{Domain: job.Domain, Key: job.Key}
	var err error
	switch job.Domain {
	case models.DomainMovie:
		res.Movie, err = q.movies.Lookup(ctx, job.IMDbID, job.Title, job.Year)
		res.Found = res.Movie != nil
	case models.DomainGame:
		res.Game, err = q.games.SearchGame(ctx, job.Title, job.Platform)
		res.Found = res.Game != nil
	}
	res.UpdatedAt = q.now()

	switch {
	case err == nil, errors.Is(err, ErrNotFound):
		q.results.Set(id, res, ttlcache.DefaultTTL)
	case ctx.Err() != nil:
		finished = false
	case errors.Is(err, &domain.ConfigurationError{}):
		q.log.Debug().Err(err).Str("domain", string(job.Domain)).Msg("Metadata provider not configured")
	default:
		q.log.Warn().Err(err).Str("domain", string(job.Domain)).Str("key", job.Key).Msg("Metadata lookup failed")
		res.Error = err.Error()
		q.results.Set(id, res, failedResultTTL)
	}
	return finished
}
