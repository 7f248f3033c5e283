// Package record defines the collection record shared by the device agent
// and the ingest server, plus the derived sync status broadcast to
// status observers.
package record

import (
	"fmt"
	"time"
)

// SyncState tracks whether a record has reached the canonical store.
// The transition is monotonic: Pending -> Synced, never back.
type SyncState string

const (
	StatePending SyncState = "pending"
	StateSynced  SyncState = "synced"
)

// Location is a position snapshot taken at capture time. It is never
// recomputed after the record is created.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// CollectionRecord is the unit of work moved from device to server.
//
// ID is client-generated and serves as the idempotency key across the
// local store, the canonical store, and the ledger. Records are
// append-only by id: they are never edited after creation, so there is
// no conflict resolution anywhere in the pipeline.
type CollectionRecord struct {
	ID          string     `json:"id"`
	CollectorID string     `json:"collectorId"`
	Category    string     `json:"category"`
	Quantity    float64    `json:"quantity"` // kilograms
	Photos      []string   `json:"photos,omitempty"` // base64-encoded image blobs
	Location    *Location  `json:"location"`
	Timestamp   time.Time  `json:"timestamp"`
	SyncState   SyncState  `json:"syncState,omitempty"`
	SyncedAt    *time.Time `json:"syncedAt,omitempty"`

	// AnchorRef is set server-side once the record has been anchored to
	// the external ledger. Devices never populate it.
	AnchorRef *string `json:"anchorRef,omitempty"`
}

// ValidationError reports a malformed or incomplete record. It is
// surfaced to the caller immediately and never retried automatically.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing or invalid field: %s", e.Field)
}

// Validate checks that every field required for ingestion is present.
// There is no partial accept: the first missing field fails the whole
// record.
func (r *CollectionRecord) Validate() error {
	switch {
	case r.ID == "":
		return &ValidationError{Field: "id"}
	case r.CollectorID == "":
		return &ValidationError{Field: "collectorId"}
	case r.Category == "":
		return &ValidationError{Field: "category"}
	case r.Quantity <= 0:
		return &ValidationError{Field: "quantity"}
	case r.Location == nil:
		return &ValidationError{Field: "location"}
	case r.Timestamp.IsZero():
		return &ValidationError{Field: "timestamp"}
	}
	return nil
}

// SyncStatus is a derived, ephemeral snapshot delivered to subscribers.
// It has no lifecycle of its own: every broadcast recomputes it from
// current connectivity, coordinator state, and the live pending count.
type SyncStatus struct {
	IsOnline     bool       `json:"isOnline"`
	IsSyncing    bool       `json:"isSyncing"`
	PendingCount int        `json:"pendingCount"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
	Error        string     `json:"error,omitempty"`
}
