package localstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/herbtrace/herbtrace/internal/record"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "collections.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return store
}

func testRecord(id string) *record.CollectionRecord {
	acc := 4.5
	return &record.CollectionRecord{
		ID:          id,
		CollectorID: "collector-1",
		Category:    "Tulsi",
		Quantity:    1.25,
		Photos:      []string{"aGVsbG8="},
		Location:    &record.Location{Latitude: 12.97, Longitude: 77.59, Accuracy: &acc},
		Timestamp:   time.Date(2026, 2, 3, 8, 30, 0, 0, time.UTC),
		SyncState:   record.StatePending,
	}
}

func TestInitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Save(ctx, testRecord("r1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Re-running schema setup must not disturb existing rows.
	if err := store.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get after re-init: %v", err)
	}
	if got.Category != "Tulsi" {
		t.Errorf("Category = %q, want Tulsi", got.Category)
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	want := testRecord("r1")
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got.CollectorID != want.CollectorID {
		t.Errorf("CollectorID = %q, want %q", got.CollectorID, want.CollectorID)
	}
	if got.Quantity != want.Quantity {
		t.Errorf("Quantity = %v, want %v", got.Quantity, want.Quantity)
	}
	if len(got.Photos) != 1 || got.Photos[0] != "aGVsbG8=" {
		t.Errorf("Photos = %v, want [aGVsbG8=]", got.Photos)
	}
	if got.Location == nil || got.Location.Latitude != 12.97 {
		t.Errorf("Location = %+v, want lat 12.97", got.Location)
	}
	if got.Location.Accuracy == nil || *got.Location.Accuracy != 4.5 {
		t.Errorf("Accuracy = %v, want 4.5", got.Location.Accuracy)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if got.SyncState != record.StatePending {
		t.Errorf("SyncState = %q, want pending", got.SyncState)
	}
	if got.SyncedAt != nil {
		t.Errorf("SyncedAt = %v, want nil", got.SyncedAt)
	}
}

func TestSaveUpsertsByID(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := testRecord("r1")
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	rec.Quantity = 9.99
	rec.Category = "Ashwagandha"
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d records after double save, want 1", len(all))
	}
	if all[0].Quantity != 9.99 || all[0].Category != "Ashwagandha" {
		t.Errorf("record not overwritten: %+v", all[0])
	}
}

func TestPendingAndMarkSynced(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, testRecord(id)); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	n, err := store.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if n != 3 {
		t.Fatalf("CountPending = %d, want 3", n)
	}

	at := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	if err := store.MarkSynced(ctx, "b", at); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	for _, rec := range pending {
		if rec.ID == "b" {
			t.Errorf("record b still pending after MarkSynced")
		}
	}

	got, err := store.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get b: %v", err)
	}
	if got.SyncState != record.StateSynced {
		t.Errorf("SyncState = %q, want synced", got.SyncState)
	}
	if got.SyncedAt == nil || !got.SyncedAt.Equal(at) {
		t.Errorf("SyncedAt = %v, want %v", got.SyncedAt, at)
	}
}

func TestMarkSyncedMissingRecordIsNoop(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.MarkSynced(ctx, "does-not-exist", time.Now()); err != nil {
		t.Fatalf("MarkSynced on missing id: %v", err)
	}
}

func TestGetMissingRecord(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Get(ctx, "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("Get missing = %v, want sql.ErrNoRows", err)
	}
}

func TestSaveWithoutOptionalFields(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := testRecord("r1")
	rec.Photos = nil
	rec.Location.Accuracy = nil
	rec.SyncState = "" // defaults to pending

	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Photos) != 0 {
		t.Errorf("Photos = %v, want empty", got.Photos)
	}
	if got.Location.Accuracy != nil {
		t.Errorf("Accuracy = %v, want nil", got.Location.Accuracy)
	}
	if got.SyncState != record.StatePending {
		t.Errorf("SyncState = %q, want pending default", got.SyncState)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "collections.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Save(ctx, testRecord("r1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("re-Init: %v", err)
	}

	n, err := reopened.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("CountPending after reopen = %d, want 1", n)
	}
}
