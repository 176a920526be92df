// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
)

const (
	maxResponseBytes int64 = 4 << 20

	defaultAttempts   = 3
	defaultRetryDelay = time.Second
	defaultCacheTTL   = 24 * time.Hour
	defaultTimeout    = 15 * time.Second
)

type retryPolicy struct {
	attempts uint
	delay    time.Duration
}

// doJSON sends the request built by build and decodes a 200 response into
// out. Rate limits and server errors are retried with backoff; the request is
// rebuilt on every attempt so bodies can be replayed.
func doJSON(ctx context.Context, hc *http.Client, provider string, policy retryPolicy, logger zerolog.Logger, build func(context.Context) (*http.Request, error), out any) error {
	return retry.Do(
		func() error {
			req, err := build(ctx)
			if err != nil {
				return err
			}

			resp, err := hc.Do(req)
			if err != nil {
				var urlErr *url.Error
				if errors.As(err, &urlErr) {
					urlErr.URL = req.URL.Host + req.URL.Path
				}
				return fmt.Errorf("%s: %w", provider, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
				return &APIError{Provider: provider, StatusCode: resp.StatusCode, URL: req.URL.Host + req.URL.Path}
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			if err != nil {
				return fmt.Errorf("%s: read response: %w", provider, err)
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("%s: decode response: %w", provider, err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(policy.attempts),
		retry.Delay(policy.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug().Err(err).Uint("attempt", n+1).Msg("Retrying metadata request")
		}),
	)
}
