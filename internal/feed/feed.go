// Package feed holds the outbound feed-refresh collaborator consumed by the
// fetch_feed job handler. Format detection and document parsing live outside
// this subsystem; they plug in through the Parser interface.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jimmitchell/vibereader/internal/jobs"
	"github.com/jimmitchell/vibereader/internal/store"
)

// maxBodyBytes caps how much of a feed document is read into memory.
const maxBodyBytes = 10 << 20

// Refresher fetches a feed's remote document and persists whatever is new.
// The worker's fetch_feed handler depends on this interface only.
type Refresher interface {
	RefreshFeed(ctx context.Context, feedID int64) error
}

// Parser turns a fetched document into persistable items. Implementations
// come from the format-detection layer, which is outside this subsystem; a
// nil Parser means only fetch freshness is recorded.
type Parser interface {
	Parse(feedURL string, body []byte) ([]store.NewItem, error)
}

// FeedStore is the slice of store behavior the refresher needs.
type FeedStore interface {
	GetFeed(ctx context.Context, id int64) (*store.Feed, error)
	MarkFeedFetched(ctx context.Context, id int64, etag, lastModified string) error
	MarkFeedError(ctx context.Context, id int64, msg string) error
	UpsertItems(ctx context.Context, feedID int64, items []store.NewItem) (int64, error)
}

// HTTPRefresher fetches feeds over HTTP with a bounded per-fetch timeout, a
// global outbound rate limit, and conditional requests (ETag/Last-Modified)
// so unchanged feeds cost one cheap 304.
type HTTPRefresher struct {
	store   FeedStore
	client  *http.Client
	parser  Parser
	limiter *rate.Limiter
	timeout time.Duration
}

// NewHTTPRefresher creates an HTTPRefresher. client is typically the
// SSRF-guarded client from BuildSafeClient; parser may be nil.
func NewHTTPRefresher(st FeedStore, client *http.Client, parser Parser, fetchesPerSecond float64, timeout time.Duration) *HTTPRefresher {
	if fetchesPerSecond <= 0 {
		fetchesPerSecond = 1
	}
	return &HTTPRefresher{
		store:   st,
		client:  client,
		parser:  parser,
		limiter: rate.NewLimiter(rate.Limit(fetchesPerSecond), 1),
		timeout: timeout,
	}
}

// RefreshFeed fetches the feed's document and records the outcome. Fetch and
// parse failures are recorded on the feed row and returned as ordinary
// (retryable) errors; a feed id that does not exist is permanent.
func (r *HTTPRefresher) RefreshFeed(ctx context.Context, feedID int64) error {
	f, err := r.store.GetFeed(ctx, feedID)
	if err != nil {
		return err
	}
	if f == nil {
		return jobs.Permanent(fmt.Errorf("feed %d not found", feedID))
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("refresh feed %d: %w", feedID, err)
	}

	// Per-job bound: a hung remote cannot block the worker past the timeout.
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, f.FeedURL, nil)
	if err != nil {
		return jobs.Permanent(fmt.Errorf("refresh feed %d: build request: %w", feedID, err))
	}
	if f.ETag != "" {
		req.Header.Set("If-None-Match", f.ETag)
	}
	if f.LastModified != "" {
		req.Header.Set("If-Modified-Since", f.LastModified)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return r.fetchFailed(ctx, feedID, fmt.Errorf("refresh feed %d: fetch %s: %w", feedID, f.FeedURL, err))
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotModified:
		// Unchanged: freshness only, keep the stored validators.
		return r.store.MarkFeedFetched(ctx, feedID, f.ETag, f.LastModified)
	case resp.StatusCode != http.StatusOK:
		return r.fetchFailed(ctx, feedID, fmt.Errorf("refresh feed %d: fetch %s: unexpected status %d", feedID, f.FeedURL, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return r.fetchFailed(ctx, feedID, fmt.Errorf("refresh feed %d: read body: %w", feedID, err))
	}

	if r.parser != nil {
		items, err := r.parser.Parse(f.FeedURL, body)
		if err != nil {
			return r.fetchFailed(ctx, feedID, fmt.Errorf("refresh feed %d: parse: %w", feedID, err))
		}
		if _, err := r.store.UpsertItems(ctx, feedID, items); err != nil {
			return err
		}
	}

	return r.store.MarkFeedFetched(ctx, feedID,
		resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"))
}

// fetchFailed records the failure on the feed row for operator visibility and
// returns the original error so the job is retried.
func (r *HTTPRefresher) fetchFailed(ctx context.Context, feedID int64, cause error) error {
	if err := r.store.MarkFeedError(ctx, feedID, cause.Error()); err != nil {
		return fmt.Errorf("%w (also failed to record: %v)", cause, err)
	}
	return cause
}
