// ABOUTME: Store methods for the feeds table: CRUD, the scheduler's
// ABOUTME: stale-feed scan, and fetch bookkeeping (etag/last-modified/error).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Feed is one row of the feeds table.
type Feed struct {
	ID             int64
	FeedURL        string
	Title          string
	SiteURL        string
	ETag           string
	LastModified   string
	LastFetchedAt  *time.Time
	LastFetchError string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const feedColumns = `id, feed_url, title, site_url, etag, last_modified,
	last_fetched_at, last_fetch_error, created_at, updated_at`

func scanFeed(row pgx.Row) (*Feed, error) {
	var f Feed
	err := row.Scan(&f.ID, &f.FeedURL, &f.Title, &f.SiteURL, &f.ETag,
		&f.LastModified, &f.LastFetchedAt, &f.LastFetchError,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFeed inserts a new feed subscription and returns it.
func (s *Store) CreateFeed(ctx context.Context, feedURL, title string) (*Feed, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO feeds (feed_url, title)
		VALUES ($1, $2)
		RETURNING `+feedColumns,
		feedURL, title,
	)
	f, err := scanFeed(row)
	if err != nil {
		return nil, fmt.Errorf("create feed: %w", err)
	}
	return f, nil
}

// GetFeed returns the feed with the given id, or (nil, nil) if not found.
func (s *Store) GetFeed(ctx context.Context, id int64) (*Feed, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id)
	f, err := scanFeed(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get feed %d: %w", id, err)
	}
	return f, nil
}

// ListFeeds returns all feeds ordered by id.
func (s *Store) ListFeeds(ctx context.Context) ([]Feed, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()

	var out []Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("list feeds: %w", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return out, nil
}

// ListStaleFeeds returns feeds whose last successful fetch is NULL or older
// than olderThan, oldest first (never-fetched feeds lead). The scheduler
// turns each of these into a fetch_feed job unless one is already pending.
func (s *Store) ListStaleFeeds(ctx context.Context, olderThan time.Duration) ([]Feed, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+feedColumns+` FROM feeds
		WHERE last_fetched_at IS NULL
		   OR last_fetched_at < now() - make_interval(secs => $1)
		ORDER BY last_fetched_at ASC NULLS FIRST, id`,
		olderThan.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale feeds: %w", err)
	}
	defer rows.Close()

	var out []Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("list stale feeds: %w", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale feeds: %w", err)
	}
	return out, nil
}

// MarkFeedFetched records a successful fetch: freshness timestamp, the
// validators for the next conditional request, and a cleared error.
func (s *Store) MarkFeedFetched(ctx context.Context, id int64, etag, lastModified string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE feeds
		SET last_fetched_at = now(),
		    etag = $2,
		    last_modified = $3,
		    last_fetch_error = '',
		    updated_at = now()
		WHERE id = $1`,
		id, etag, lastModified,
	)
	if err != nil {
		return fmt.Errorf("mark feed %d fetched: %w", id, err)
	}
	return nil
}

// MarkFeedError records a failed fetch without touching last_fetched_at, so
// the feed stays eligible for the scheduler's next pass.
func (s *Store) MarkFeedError(ctx context.Context, id int64, msg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE feeds
		SET last_fetch_error = $2,
		    updated_at = now()
		WHERE id = $1`,
		id, msg,
	)
	if err != nil {
		return fmt.Errorf("mark feed %d error: %w", id, err)
	}
	return nil
}
