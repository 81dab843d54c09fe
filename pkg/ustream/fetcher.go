package ustream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultMaxSegmentSize = 64 * 1024 * 1024

type FetcherConfig struct {
	Attempts      int
	Timeout       time.Duration
	RetryInterval time.Duration
	// upper bound of a single segment body
	MaxSize int64
	Client  *http.Client
}

func (c FetcherConfig) withDefaultValues() FetcherConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryInterval < 0 {
		c.RetryInterval = 0
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSegmentSize
	}
	if c.Client == nil {
		c.Client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: c.Timeout,
				}).DialContext,
				ResponseHeaderTimeout: c.Timeout,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	return c
}

// Fetcher downloads segment bodies from the CDN.
type Fetcher struct {
	logger zerolog.Logger
	config FetcherConfig
}

func NewFetcher(config FetcherConfig) *Fetcher {
	return &Fetcher{
		logger: log.With().
			Str("module", "ustream").
			Str("submodule", "fetcher").
			Logger(),
		config: config.withDefaultValues(),
	}
}

// Fetch waits until the segment is available and downloads it. Failed
// requests are retried, each attempt bound by the configured timeout.
func (f *Fetcher) Fetch(ctx context.Context, seg Segment, rawURL string) ([]byte, error) {
	if !seg.Available(time.Now()) {
		timer := time.NewTimer(time.Until(seg.AvailableAt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	return f.Get(ctx, rawURL)
}

func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.config.Attempts; attempt++ {
		data, err := f.get(ctx, rawURL)
		if err == nil {
			return data, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt == f.config.Attempts {
			break
		}

		f.logger.Warn().Err(err).
			Str("url", rawURL).
			Int("attempt", attempt).
			Msg("segment request failed")

		if f.config.RetryInterval > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.config.RetryInterval):
			}
		}
	}

	return nil, fmt.Errorf("fetch %s: %w", rawURL, lastErr)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.config.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	// whole bodies, the writer emits segments in order while later ones are
	// still downloading
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxSize+1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > f.config.MaxSize {
		return nil, fmt.Errorf("segment exceeds %d bytes", f.config.MaxSize)
	}

	return data, nil
}
