// Package jobs defines the job types, statuses, and payload shapes shared by
// the store, scheduler, worker, and API layers.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies which handler a job is dispatched to. The set is closed at
// dispatch time: a job with an unrecognized type is terminally failed.
type Type string

const (
	TypeFetchFeed    Type = "fetch_feed"
	TypeCleanupItems Type = "cleanup_items"
)

// Valid reports whether t is a known job type.
func (t Type) Valid() bool {
	return t == TypeFetchFeed || t == TypeCleanupItems
}

// Status is the lifecycle state of a job.
//
//	pending    --claim-->                    processing
//	processing --complete-->                 completed  (terminal)
//	processing --fail, attempts < max-->     pending    (retry)
//	processing --fail, attempts >= max-->    failed     (terminal)
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions exist out of s except
// deletion by the retention sweep.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FetchFeedPayload is the payload for fetch_feed jobs.
type FetchFeedPayload struct {
	FeedID int64 `json:"feed_id"`
}

// CleanupItemsPayload is the payload for cleanup_items jobs. All fields are
// optional: a nil FeedID means all feeds, nil RetentionDays means the
// deployment default, nil RetentionCount means unlimited.
type CleanupItemsPayload struct {
	FeedID         *int64 `json:"feed_id,omitempty"`
	RetentionDays  *int   `json:"retention_days,omitempty"`
	RetentionCount *int   `json:"retention_count,omitempty"`
}

// DecodeFetchFeed parses and validates a fetch_feed payload. A missing or
// non-positive feed id is a permanent error: retrying cannot fix it.
func DecodeFetchFeed(raw json.RawMessage) (FetchFeedPayload, error) {
	var p FetchFeedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, Permanent(fmt.Errorf("malformed fetch_feed payload: %w", err))
	}
	if p.FeedID <= 0 {
		return p, Permanent(fmt.Errorf("fetch_feed payload: feed_id must be a positive integer, got %d", p.FeedID))
	}
	return p, nil
}

// DecodeCleanupItems parses and validates a cleanup_items payload.
func DecodeCleanupItems(raw json.RawMessage) (CleanupItemsPayload, error) {
	var p CleanupItemsPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, Permanent(fmt.Errorf("malformed cleanup_items payload: %w", err))
	}
	if p.FeedID != nil && *p.FeedID <= 0 {
		return p, Permanent(fmt.Errorf("cleanup_items payload: feed_id must be positive, got %d", *p.FeedID))
	}
	if p.RetentionDays != nil && *p.RetentionDays <= 0 {
		return p, Permanent(fmt.Errorf("cleanup_items payload: retention_days must be positive, got %d", *p.RetentionDays))
	}
	if p.RetentionCount != nil && *p.RetentionCount <= 0 {
		return p, Permanent(fmt.Errorf("cleanup_items payload: retention_count must be positive, got %d", *p.RetentionCount))
	}
	return p, nil
}

// permanentError tags a handler failure that retrying cannot change, such as
// a malformed payload. The worker terminally fails such jobs on the first
// attempt instead of burning through retries.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or any error it wraps) was tagged with
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
