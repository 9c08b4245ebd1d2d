package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jimmitchell/vibereader/internal/store"
	"github.com/jimmitchell/vibereader/internal/testutil"
)

func mkFeed(t *testing.T, s *testutil.TestDB, url string) int64 {
	t.Helper()
	f, err := s.CreateFeed(context.Background(), url, "test feed")
	if err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}
	return f.ID
}

func TestUpsertItemsIdempotent(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()
	feedID := mkFeed(t, s, "https://example.com/rss")

	items := []store.NewItem{
		{GUID: "guid-1", Title: "first", URL: "https://example.com/1"},
		{GUID: "guid-2", Title: "second", URL: "https://example.com/2"},
	}
	n, err := s.UpsertItems(ctx, feedID, items)
	if err != nil {
		t.Fatalf("UpsertItems: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted %d, want 2", n)
	}

	// A retried fetch re-submits the same entries plus one new one; only the
	// new one lands.
	items = append(items, store.NewItem{GUID: "guid-3", Title: "third"})
	n, err = s.UpsertItems(ctx, feedID, items)
	if err != nil {
		t.Fatalf("UpsertItems (retry): %v", err)
	}
	if n != 1 {
		t.Errorf("retry inserted %d, want 1", n)
	}

	total, err := s.CountItems(ctx, &feedID)
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if total != 3 {
		t.Errorf("count = %d, want 3", total)
	}
}

func TestDeleteOldItemsByAge(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()
	feedID := mkFeed(t, s, "https://example.com/rss")

	old := time.Now().AddDate(0, 0, -100)
	recent := time.Now().AddDate(0, 0, -1)
	items := []store.NewItem{
		{GUID: "old", PublishedAt: &old},
		{GUID: "recent", PublishedAt: &recent},
		{GUID: "no-date"}, // falls back to created_at, which is now
	}
	if _, err := s.UpsertItems(ctx, feedID, items); err != nil {
		t.Fatalf("UpsertItems: %v", err)
	}

	n, err := s.DeleteOldItems(ctx, &feedID, 90, 0)
	if err != nil {
		t.Fatalf("DeleteOldItems: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	total, err := s.CountItems(ctx, &feedID)
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if total != 2 {
		t.Errorf("count = %d, want 2", total)
	}
}

func TestDeleteOldItemsKeepNewest(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()
	feedID := mkFeed(t, s, "https://example.com/rss")

	var items []store.NewItem
	for i := 0; i < 5; i++ {
		ts := time.Now().AddDate(0, 0, -i)
		items = append(items, store.NewItem{
			GUID:        fmt.Sprintf("guid-%d", i),
			PublishedAt: &ts,
		})
	}
	if _, err := s.UpsertItems(ctx, feedID, items); err != nil {
		t.Fatalf("UpsertItems: %v", err)
	}

	n, err := s.DeleteOldItems(ctx, &feedID, 0, 2)
	if err != nil {
		t.Fatalf("DeleteOldItems: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d, want 3", n)
	}
	total, err := s.CountItems(ctx, &feedID)
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if total != 2 {
		t.Errorf("count = %d, want 2 newest kept", total)
	}
}

func TestDeleteOldItemsScopedToFeed(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	feedA := mkFeed(t, s, "https://a.example/rss")
	feedB := mkFeed(t, s, "https://b.example/rss")

	old := time.Now().AddDate(0, 0, -100)
	for _, id := range []int64{feedA, feedB} {
		if _, err := s.UpsertItems(ctx, id, []store.NewItem{{GUID: "old", PublishedAt: &old}}); err != nil {
			t.Fatalf("UpsertItems: %v", err)
		}
	}

	n, err := s.DeleteOldItems(ctx, &feedA, 30, 0)
	if err != nil {
		t.Fatalf("DeleteOldItems: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1 (feed A only)", n)
	}
	bCount, err := s.CountItems(ctx, &feedB)
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if bCount != 1 {
		t.Errorf("feed B count = %d, want untouched 1", bCount)
	}

	// Nil feed scope sweeps everything.
	n, err = s.DeleteOldItems(ctx, nil, 30, 0)
	if err != nil {
		t.Fatalf("DeleteOldItems (all): %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d in global sweep, want 1", n)
	}
}

func TestDeleteOldItemsNoCriteria(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()
	feedID := mkFeed(t, s, "https://example.com/rss")

	old := time.Now().AddDate(0, 0, -100)
	if _, err := s.UpsertItems(ctx, feedID, []store.NewItem{{GUID: "old", PublishedAt: &old}}); err != nil {
		t.Fatalf("UpsertItems: %v", err)
	}

	// Both criteria disabled: nothing is deleted, however old.
	n, err := s.DeleteOldItems(ctx, &feedID, 0, 0)
	if err != nil {
		t.Fatalf("DeleteOldItems: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted %d with no criteria, want 0", n)
	}
}
