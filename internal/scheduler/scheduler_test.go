package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimmitchell/vibereader/internal/jobs"
	"github.com/jimmitchell/vibereader/internal/store"
)

type enqueued struct {
	jobType     jobs.Type
	payload     json.RawMessage
	feedID      *int64
	maxAttempts int
}

type fakeStore struct {
	staleFeeds []store.Feed
	pending    map[int64]struct{}
	enqueued   []enqueued

	listErr    error
	pendingErr error
	enqueueErr error
}

func (f *fakeStore) ListStaleFeeds(_ context.Context, _ time.Duration) ([]store.Feed, error) {
	return f.staleFeeds, f.listErr
}

func (f *fakeStore) PendingFetchFeedIDs(_ context.Context) (map[int64]struct{}, error) {
	if f.pending == nil {
		return map[int64]struct{}{}, f.pendingErr
	}
	return f.pending, f.pendingErr
}

func (f *fakeStore) EnqueueJob(_ context.Context, jobType jobs.Type, payload json.RawMessage, feedID *int64, maxAttempts int) (int64, error) {
	if f.enqueueErr != nil {
		return 0, f.enqueueErr
	}
	f.enqueued = append(f.enqueued, enqueued{jobType, payload, feedID, maxAttempts})
	return int64(len(f.enqueued)), nil
}

func feedsWithIDs(ids ...int64) []store.Feed {
	out := make([]store.Feed, len(ids))
	for i, id := range ids {
		out[i] = store.Feed{ID: id}
	}
	return out
}

func TestRunEnqueuesStaleFeeds(t *testing.T) {
	t.Parallel()
	st := &fakeStore{staleFeeds: feedsWithIDs(1, 2, 3)}
	s := New(st, 15*time.Minute, 3)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Queued: 3, Skipped: 0, Total: 3}, res)

	require.Len(t, st.enqueued, 3)
	for i, e := range st.enqueued {
		assert.Equal(t, jobs.TypeFetchFeed, e.jobType, "job %d", i)
		assert.Equal(t, 3, e.maxAttempts, "job %d", i)

		var p jobs.FetchFeedPayload
		require.NoError(t, json.Unmarshal(e.payload, &p), "job %d payload", i)
		// The dedup column must mirror the payload's feed id.
		require.NotNil(t, e.feedID, "job %d", i)
		assert.Equal(t, p.FeedID, *e.feedID, "job %d", i)
	}
}

func TestRunSkipsAlreadyQueuedFeeds(t *testing.T) {
	t.Parallel()
	st := &fakeStore{
		staleFeeds: feedsWithIDs(1, 2, 3),
		pending:    map[int64]struct{}{2: {}},
	}
	s := New(st, 15*time.Minute, 3)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Queued: 2, Skipped: 1, Total: 3}, res)
	for _, e := range st.enqueued {
		assert.NotEqual(t, int64(2), *e.feedID,
			"enqueued a fetch job for a feed that already had one pending")
	}
}

func TestRunNoStaleFeeds(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	s := New(st, 15*time.Minute, 3)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, st.enqueued)
}

func TestRunPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	for name, st := range map[string]*fakeStore{
		"list":    {listErr: errors.New("db down")},
		"pending": {staleFeeds: feedsWithIDs(1), pendingErr: errors.New("db down")},
		"enqueue": {staleFeeds: feedsWithIDs(1), enqueueErr: errors.New("db down")},
	} {
		s := New(st, 15*time.Minute, 3)
		_, err := s.Run(context.Background())
		assert.Error(t, err, "%s error swallowed", name)
	}
}
