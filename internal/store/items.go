// ABOUTME: Store methods for the items table: idempotent ingest plus the
// ABOUTME: retention sweep (delete by age, keep newest N per feed).
package store

import (
	"context"
	"fmt"
	"time"
)

// NewItem is one parsed entry handed to UpsertItems by the refresh
// collaborator.
type NewItem struct {
	GUID        string
	Title       string
	URL         string
	Content     string
	PublishedAt *time.Time
}

// UpsertItems inserts items for feedID, skipping entries already present
// under the same (feed_id, guid). Returns the number of newly inserted rows.
// Idempotent, so a retried fetch_feed job cannot duplicate items.
func (s *Store) UpsertItems(ctx context.Context, feedID int64, items []NewItem) (int64, error) {
	var inserted int64
	for _, it := range items {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO items (feed_id, guid, title, url, content, published_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (feed_id, guid) DO NOTHING`,
			feedID, it.GUID, it.Title, it.URL, it.Content, it.PublishedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("upsert item %q for feed %d: %w", it.GUID, feedID, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// CountItems returns the number of items, optionally scoped to one feed.
func (s *Store) CountItems(ctx context.Context, feedID *int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM items
		WHERE $1::bigint IS NULL OR feed_id = $1`,
		feedID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// DeleteOldItems applies the retention policy and returns the number of rows
// deleted. Two independent criteria, each skipped when non-positive:
//
//   - olderThanDays: delete items whose effective publication time
//     (published_at, falling back to created_at) is older than the cutoff.
//   - keepCount: after the age sweep, keep only the newest keepCount items
//     per feed.
//
// A nil feedID applies the policy to every feed. The two deletes are not one
// transaction: cleanup is idempotent, so a partial pass simply finishes on
// the next run.
func (s *Store) DeleteOldItems(ctx context.Context, feedID *int64, olderThanDays, keepCount int) (int64, error) {
	var deleted int64

	if olderThanDays > 0 {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM items
			WHERE ($1::bigint IS NULL OR feed_id = $1)
			  AND COALESCE(published_at, created_at) < now() - make_interval(days => $2)`,
			feedID, olderThanDays,
		)
		if err != nil {
			return deleted, fmt.Errorf("delete old items by age: %w", err)
		}
		deleted += tag.RowsAffected()
	}

	if keepCount > 0 {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM items
			WHERE id IN (
				SELECT id FROM (
					SELECT id, row_number() OVER (
						PARTITION BY feed_id
						ORDER BY COALESCE(published_at, created_at) DESC, id DESC
					) AS rank
					FROM items
					WHERE $1::bigint IS NULL OR feed_id = $1
				) ranked
				WHERE ranked.rank > $2
			)`,
			feedID, keepCount,
		)
		if err != nil {
			return deleted, fmt.Errorf("delete old items by count: %w", err)
		}
		deleted += tag.RowsAffected()
	}

	return deleted, nil
}
