package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jimmitchell/vibereader/internal/jobs"
)

type fakeRefresher struct {
	refreshed []int64
	err       error
}

func (f *fakeRefresher) RefreshFeed(_ context.Context, feedID int64) error {
	f.refreshed = append(f.refreshed, feedID)
	return f.err
}

type fakeRetention struct {
	feedID  *int64
	days    int
	keep    int
	deleted int64
	err     error
}

func (f *fakeRetention) DeleteOldItems(_ context.Context, feedID *int64, olderThanDays, keepCount int) (int64, error) {
	f.feedID = feedID
	f.days = olderThanDays
	f.keep = keepCount
	return f.deleted, f.err
}

func TestFetchFeedHandler(t *testing.T) {
	t.Parallel()
	r := &fakeRefresher{}
	h := FetchFeedHandler(r)

	payload, _ := json.Marshal(jobs.FetchFeedPayload{FeedID: 42})
	if err := h(context.Background(), payload); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(r.refreshed) != 1 || r.refreshed[0] != 42 {
		t.Errorf("refreshed = %v, want [42]", r.refreshed)
	}
}

func TestFetchFeedHandlerBadPayload(t *testing.T) {
	t.Parallel()
	r := &fakeRefresher{}
	h := FetchFeedHandler(r)

	for _, raw := range []string{`not json`, `{"feed_id": 0}`, `{"feed_id": -3}`} {
		err := h(context.Background(), json.RawMessage(raw))
		if err == nil {
			t.Errorf("payload %q accepted", raw)
			continue
		}
		if !jobs.IsPermanent(err) {
			t.Errorf("payload %q: error not permanent: %v", raw, err)
		}
	}
	if len(r.refreshed) != 0 {
		t.Errorf("refresher invoked for invalid payloads: %v", r.refreshed)
	}
}

func TestFetchFeedHandlerPropagatesRefreshError(t *testing.T) {
	t.Parallel()
	r := &fakeRefresher{err: errors.New("HTTP 503")}
	h := FetchFeedHandler(r)

	payload, _ := json.Marshal(jobs.FetchFeedPayload{FeedID: 42})
	err := h(context.Background(), payload)
	if err == nil {
		t.Fatal("refresh error swallowed")
	}
	if jobs.IsPermanent(err) {
		t.Error("transient fetch error tagged permanent")
	}
}

func TestCleanupItemsHandlerDefaults(t *testing.T) {
	t.Parallel()
	ret := &fakeRetention{deleted: 5}
	h := CleanupItemsHandler(ret, 90)

	if err := h(context.Background(), json.RawMessage(`{}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if ret.feedID != nil {
		t.Errorf("feedID = %v, want nil (all feeds)", *ret.feedID)
	}
	if ret.days != 90 {
		t.Errorf("days = %d, want deployment default 90", ret.days)
	}
	if ret.keep != 0 {
		t.Errorf("keep = %d, want 0 (unlimited)", ret.keep)
	}
}

func TestCleanupItemsHandlerOverrides(t *testing.T) {
	t.Parallel()
	ret := &fakeRetention{}
	h := CleanupItemsHandler(ret, 90)

	payload := json.RawMessage(`{"feed_id": 7, "retention_days": 30, "retention_count": 100}`)
	if err := h(context.Background(), payload); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if ret.feedID == nil || *ret.feedID != 7 {
		t.Errorf("feedID = %v, want 7", ret.feedID)
	}
	if ret.days != 30 {
		t.Errorf("days = %d, want 30", ret.days)
	}
	if ret.keep != 100 {
		t.Errorf("keep = %d, want 100", ret.keep)
	}
}

func TestCleanupItemsHandlerBadPayload(t *testing.T) {
	t.Parallel()
	ret := &fakeRetention{}
	h := CleanupItemsHandler(ret, 90)

	err := h(context.Background(), json.RawMessage(`{"retention_days": -5}`))
	if err == nil {
		t.Fatal("negative retention_days accepted")
	}
	if !jobs.IsPermanent(err) {
		t.Errorf("validation error not permanent: %v", err)
	}
}
