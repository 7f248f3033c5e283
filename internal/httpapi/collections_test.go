package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/herbtrace/herbtrace/internal/anchor"
	"github.com/herbtrace/herbtrace/internal/auth"
	"github.com/herbtrace/herbtrace/internal/db"
	"github.com/herbtrace/herbtrace/internal/ledger"
	"github.com/herbtrace/herbtrace/internal/record"
)

// getTestDB connects to the database named by TEST_DATABASE_URL, or
// skips the test when unset. The collection table is truncated so every
// test starts clean.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE collection`); err != nil {
		t.Fatalf("truncate collection: %v", err)
	}
	return pool
}

func testRouter(s *Server) http.Handler {
	return s.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Debug-Collector", "test-collector")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func ingestPayload(id string, recordedAt time.Time) record.CollectionRecord {
	return record.CollectionRecord{
		ID:          id,
		CollectorID: "test-collector",
		Category:    "Tulsi",
		Quantity:    1.25,
		Photos:      []string{"aGVsbG8="},
		Location:    &record.Location{Latitude: 12.97, Longitude: 77.59},
		Timestamp:   recordedAt,
		SyncState:   record.StatePending,
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := testRouter(&Server{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rr.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Timestamp.IsZero() {
		t.Errorf("timestamp missing from health response")
	}
}

func TestCollectionsRequireAuth(t *testing.T) {
	s := &Server{}
	handler := s.Routes(auth.JWTCfg{HS256Secret: "test-secret"}) // production mode

	req := httptest.NewRequest(http.MethodPost, "/collections", strings.NewReader("{}"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated POST /collections = %d, want 401", rr.Code)
	}
}

func TestCreateCollectionRejectsBadJSON(t *testing.T) {
	handler := testRouter(&Server{})

	req := httptest.NewRequest(http.MethodPost, "/collections", strings.NewReader("{not json"))
	req.Header.Set("X-Debug-Collector", "test-collector")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Kind != "validation" {
		t.Errorf("kind = %q, want validation", body.Kind)
	}
}

func TestCreateCollectionRejectsIncompleteRecord(t *testing.T) {
	// Validation runs before any storage access, so no database is needed.
	handler := testRouter(&Server{})

	tests := []struct {
		name   string
		mutate func(*record.CollectionRecord)
	}{
		{"missing id", func(r *record.CollectionRecord) { r.ID = "" }},
		{"missing collector", func(r *record.CollectionRecord) { r.CollectorID = "" }},
		{"missing category", func(r *record.CollectionRecord) { r.Category = "" }},
		{"zero quantity", func(r *record.CollectionRecord) { r.Quantity = 0 }},
		{"missing location", func(r *record.CollectionRecord) { r.Location = nil }},
		{"zero timestamp", func(r *record.CollectionRecord) { r.Timestamp = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ingestPayload("r1", time.Now().UTC())
			tt.mutate(&rec)

			rr := doJSON(t, handler, http.MethodPost, "/collections", rec)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			var body errorBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Kind != "validation" {
				t.Errorf("kind = %q, want validation", body.Kind)
			}
		})
	}
}

func TestCreateCollectionIdempotentUpsert(t *testing.T) {
	pool := getTestDB(t)
	handler := testRouter(&Server{DB: pool})

	rec := ingestPayload("rec-1", time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))

	// A client retrying an ingest whose outcome it never observed must
	// get a clean 200 both times and exactly one canonical row.
	for i := 0; i < 2; i++ {
		rr := doJSON(t, handler, http.MethodPost, "/collections", rec)
		if rr.Code != http.StatusOK {
			t.Fatalf("POST %d = %d, body %s", i+1, rr.Code, rr.Body.String())
		}

		var stored record.CollectionRecord
		if err := json.Unmarshal(rr.Body.Bytes(), &stored); err != nil {
			t.Fatalf("decode echo: %v", err)
		}
		if stored.ID != "rec-1" {
			t.Errorf("echoed ID = %q, want rec-1", stored.ID)
		}
		if stored.SyncState != record.StateSynced {
			t.Errorf("echoed SyncState = %q, want synced", stored.SyncState)
		}
		if stored.SyncedAt == nil {
			t.Errorf("echoed record missing syncedAt")
		}
	}

	var n int
	if err := pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM collection WHERE id = 'rec-1'`).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if n != 1 {
		t.Fatalf("row count = %d after double submit, want 1", n)
	}
}

func TestCreateCollectionLastWriteWins(t *testing.T) {
	pool := getTestDB(t)
	handler := testRouter(&Server{DB: pool})

	rec := ingestPayload("rec-1", time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
	if rr := doJSON(t, handler, http.MethodPost, "/collections", rec); rr.Code != http.StatusOK {
		t.Fatalf("first POST = %d", rr.Code)
	}

	rec.Quantity = 3.5
	rr := doJSON(t, handler, http.MethodPost, "/collections", rec)
	if rr.Code != http.StatusOK {
		t.Fatalf("second POST = %d", rr.Code)
	}

	var stored record.CollectionRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &stored); err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	if stored.Quantity != 3.5 {
		t.Errorf("Quantity = %v after resubmit, want 3.5", stored.Quantity)
	}
}

func TestListCollectionsNewestFirst(t *testing.T) {
	pool := getTestDB(t)
	handler := testRouter(&Server{DB: pool})

	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		rec := ingestPayload(id, base.Add(time.Duration(i)*time.Hour))
		if rr := doJSON(t, handler, http.MethodPost, "/collections", rec); rr.Code != http.StatusOK {
			t.Fatalf("POST %s = %d", id, rr.Code)
		}
	}

	rr := doJSON(t, handler, http.MethodGet, "/collections", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /collections = %d", rr.Code)
	}

	var out []record.CollectionRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d records, want 3", len(out))
	}
	for i, want := range []string{"new", "mid", "old"} {
		if out[i].ID != want {
			t.Errorf("out[%d].ID = %q, want %q", i, out[i].ID, want)
		}
	}

	rr = doJSON(t, handler, http.MethodGet, "/collections?limit=2", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode limited list: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("limit=2 returned %d records", len(out))
	}
}

// stubLedger records entries and hands back deterministic references.
type stubLedger struct {
	refs chan string
}

func (s *stubLedger) LogCollection(ctx context.Context, e ledger.Entry) (string, error) {
	ref := "0xanchor-" + e.RecordID
	s.refs <- ref
	return ref, nil
}

func TestCreateCollectionAnchorsToLedger(t *testing.T) {
	pool := getTestDB(t)

	stub := &stubLedger{refs: make(chan string, 1)}
	queue := anchor.NewQueue(stub, &anchor.PGAnnotator{DB: pool}, 0, 4)
	handler := testRouter(&Server{DB: pool, Anchors: queue})

	rec := ingestPayload("rec-1", time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
	if rr := doJSON(t, handler, http.MethodPost, "/collections", rec); rr.Code != http.StatusOK {
		t.Fatalf("POST = %d", rr.Code)
	}

	select {
	case <-stub.refs:
	case <-time.After(5 * time.Second):
		t.Fatal("ledger write never happened")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := queue.Drain(ctx); err != nil {
		t.Fatalf("drain anchor queue: %v", err)
	}

	var ref *string
	if err := pool.QueryRow(context.Background(),
		`SELECT anchor_ref FROM collection WHERE id = 'rec-1'`).Scan(&ref); err != nil {
		t.Fatalf("read anchor_ref: %v", err)
	}
	if ref == nil || *ref != "0xanchor-rec-1" {
		t.Errorf("anchor_ref = %v, want 0xanchor-rec-1", ref)
	}
}
