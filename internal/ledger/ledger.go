// Package ledger defines the write-only contract against the external
// tamper-evident ledger, plus the HTTP gateway client that fulfils it.
//
// The system never reads from the ledger; the single external call is
// logCollection(recordId, category, quantityInteger, latitude,
// longitude, unixTimestamp). Transaction serialization under one
// signing identity is the gateway's responsibility, not ours.
package ledger

import (
	"context"
)

// Entry is the fixed-shape projection of a collection record written
// to the ledger.
type Entry struct {
	RecordID      string `json:"recordId"`
	Category      string `json:"category"`
	QuantityMilli uint64 `json:"quantityInteger"` // kilograms scaled 1000x, truncated
	Latitude      string `json:"latitude"`
	Longitude     string `json:"longitude"`
	UnixTimestamp uint64 `json:"unixTimestamp"`
}

// Writer submits one entry to the ledger and returns an opaque
// reference to the resulting write (queryable later by record id).
type Writer interface {
	LogCollection(ctx context.Context, e Entry) (string, error)
}
