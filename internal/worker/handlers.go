// ABOUTME: Job handlers: fetch_feed and cleanup_items. Each validates its
// ABOUTME: payload and delegates the real work to an external collaborator.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jimmitchell/vibereader/internal/feed"
	"github.com/jimmitchell/vibereader/internal/jobs"
)

// ItemRetention is the retention-cleanup collaborator. *store.Store
// implements it via DeleteOldItems.
type ItemRetention interface {
	DeleteOldItems(ctx context.Context, feedID *int64, olderThanDays, keepCount int) (int64, error)
}

// FetchFeedHandler returns the handler for fetch_feed jobs: validate the
// feed id, then hand off to the refresher. Fetch and parse failures surface
// as ordinary errors, so the job is retried up to its attempt ceiling.
func FetchFeedHandler(r feed.Refresher) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		p, err := jobs.DecodeFetchFeed(payload)
		if err != nil {
			return err
		}
		return r.RefreshFeed(ctx, p.FeedID)
	}
}

// CleanupItemsHandler returns the handler for cleanup_items jobs: validate
// the optional overrides, apply deployment defaults, and run one best-effort
// retention pass. Cleanup is idempotent, so a retry after partial deletion
// simply finishes the sweep.
func CleanupItemsHandler(ret ItemRetention, defaultRetentionDays int) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		p, err := jobs.DecodeCleanupItems(payload)
		if err != nil {
			return err
		}

		days := defaultRetentionDays
		if p.RetentionDays != nil {
			days = *p.RetentionDays
		}
		keep := 0 // unlimited
		if p.RetentionCount != nil {
			keep = *p.RetentionCount
		}

		deleted, err := ret.DeleteOldItems(ctx, p.FeedID, days, keep)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "item retention pass finished",
			"deleted", deleted, "retention_days", days, "retention_count", keep)
		return nil
	}
}
