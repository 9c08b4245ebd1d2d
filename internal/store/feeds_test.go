package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/jimmitchell/vibereader/internal/testutil"
)

func TestCreateGetFeed(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	f, err := s.CreateFeed(ctx, "https://example.com/rss.xml", "Example")
	if err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}
	if f.ID == 0 {
		t.Error("feed id not assigned")
	}
	if f.LastFetchedAt != nil {
		t.Error("new feed already has last_fetched_at")
	}

	got, err := s.GetFeed(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if got == nil {
		t.Fatal("GetFeed returned nil for existing feed")
	}
	if got.FeedURL != "https://example.com/rss.xml" || got.Title != "Example" {
		t.Errorf("got feed %+v", got)
	}

	missing, err := s.GetFeed(ctx, f.ID+1000)
	if err != nil {
		t.Fatalf("GetFeed (missing): %v", err)
	}
	if missing != nil {
		t.Errorf("GetFeed returned %+v for missing id", missing)
	}
}

func TestListStaleFeeds(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	never, err := s.CreateFeed(ctx, "https://a.example/rss", "never fetched")
	if err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}
	stale, err := s.CreateFeed(ctx, "https://b.example/rss", "stale")
	if err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}
	fresh, err := s.CreateFeed(ctx, "https://c.example/rss", "fresh")
	if err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}

	if _, err := s.Pool().Exec(ctx,
		`UPDATE feeds SET last_fetched_at = now() - interval '2 hours' WHERE id = $1`, stale.ID); err != nil {
		t.Fatalf("backdate stale feed: %v", err)
	}
	if err := s.MarkFeedFetched(ctx, fresh.ID, "", ""); err != nil {
		t.Fatalf("MarkFeedFetched: %v", err)
	}

	got, err := s.ListStaleFeeds(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ListStaleFeeds: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d stale feeds, want 2", len(got))
	}
	// Never-fetched feeds sort first, then oldest fetch.
	if got[0].ID != never.ID {
		t.Errorf("first stale feed = %d, want never-fetched %d", got[0].ID, never.ID)
	}
	if got[1].ID != stale.ID {
		t.Errorf("second stale feed = %d, want %d", got[1].ID, stale.ID)
	}
}

func TestMarkFeedFetchedAndError(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	f, err := s.CreateFeed(ctx, "https://example.com/rss.xml", "Example")
	if err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}

	if err := s.MarkFeedFetched(ctx, f.ID, `"etag-1"`, "Mon, 02 Jan 2006 15:04:05 GMT"); err != nil {
		t.Fatalf("MarkFeedFetched: %v", err)
	}
	got, err := s.GetFeed(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if got.LastFetchedAt == nil {
		t.Error("last_fetched_at not set after fetch")
	}
	if got.ETag != `"etag-1"` {
		t.Errorf("etag = %q", got.ETag)
	}
	if got.LastModified != "Mon, 02 Jan 2006 15:04:05 GMT" {
		t.Errorf("last_modified = %q", got.LastModified)
	}

	// A later failure records the error but keeps the fetch timestamp, so the
	// feed re-enters the stale scan on schedule rather than immediately.
	if err := s.MarkFeedError(ctx, f.ID, "HTTP 503"); err != nil {
		t.Fatalf("MarkFeedError: %v", err)
	}
	got, err = s.GetFeed(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if got.LastFetchError != "HTTP 503" {
		t.Errorf("last_fetch_error = %q", got.LastFetchError)
	}
	if got.LastFetchedAt == nil {
		t.Error("last_fetched_at cleared by MarkFeedError")
	}

	// Success clears the error again.
	if err := s.MarkFeedFetched(ctx, f.ID, "", ""); err != nil {
		t.Fatalf("MarkFeedFetched: %v", err)
	}
	got, err = s.GetFeed(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if got.LastFetchError != "" {
		t.Errorf("last_fetch_error = %q after success, want empty", got.LastFetchError)
	}
}
