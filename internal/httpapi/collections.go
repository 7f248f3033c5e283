package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/herbtrace/herbtrace/internal/record"
)

// CreateCollection handles POST /collections.
//
// Ingestion is an idempotent upsert keyed by record id: a client
// retrying after a timeout whose outcome it never saw must get a clean
// 200, never a duplicate row or a conflict error. Last write wins on
// field content; records are append-only by id on the device, so a
// resubmission only ever carries the same payload.
func (s *Server) CreateCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rec record.CollectionRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", "invalid json")
		return
	}

	// No partial accept: the whole record is rejected on any missing field.
	if err := rec.Validate(); err != nil {
		var verr *record.ValidationError
		msg := "invalid record"
		if errors.As(err, &verr) {
			msg = verr.Error()
		}
		writeError(w, r, http.StatusBadRequest, "validation", msg)
		return
	}

	photos := rec.Photos
	if photos == nil {
		photos = []string{}
	}

	stored := record.CollectionRecord{Location: &record.Location{}}
	err := s.DB.QueryRow(ctx, `
		INSERT INTO collection (
			id, collector_id, category, quantity, photos,
			latitude, longitude, accuracy, recorded_at, synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (id) DO UPDATE SET
			collector_id = EXCLUDED.collector_id,
			category     = EXCLUDED.category,
			quantity     = EXCLUDED.quantity,
			photos       = EXCLUDED.photos,
			latitude     = EXCLUDED.latitude,
			longitude    = EXCLUDED.longitude,
			accuracy     = EXCLUDED.accuracy,
			recorded_at  = EXCLUDED.recorded_at,
			synced_at    = now()
		RETURNING id, collector_id, category, quantity, photos,
		          latitude, longitude, accuracy, recorded_at, synced_at
	`,
		rec.ID, rec.CollectorID, rec.Category, rec.Quantity, photos,
		rec.Location.Latitude, rec.Location.Longitude, rec.Location.Accuracy,
		rec.Timestamp,
	).Scan(
		&stored.ID, &stored.CollectorID, &stored.Category, &stored.Quantity,
		&stored.Photos, &stored.Location.Latitude, &stored.Location.Longitude,
		&stored.Location.Accuracy, &stored.Timestamp, &stored.SyncedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("recordId", rec.ID).Msg("failed to upsert collection")
		writeError(w, r, http.StatusInternalServerError, "storage", "failed to store record")
		return
	}
	stored.SyncState = record.StateSynced

	// Anchoring is strictly secondary: a full or unconfigured queue
	// must never fail or delay the ingest response.
	if s.Anchors != nil {
		s.Anchors.Enqueue(&stored)
	}

	log.Info().
		Str("recordId", stored.ID).
		Str("collectorId", stored.CollectorID).
		Str("category", stored.Category).
		Msg("collection record ingested")

	writeJSON(w, http.StatusOK, stored)
}

// ListCollections handles GET /collections.
// Diagnostic use only: returns canonical records newest-first.
func (s *Server) ListCollections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r.URL.Query().Get("limit"), 500, 1000)

	rows, err := s.DB.Query(ctx, `
		SELECT id, collector_id, category, quantity, photos,
		       latitude, longitude, accuracy, recorded_at, synced_at, anchor_ref
		FROM collection
		ORDER BY recorded_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to query collections")
		writeError(w, r, http.StatusInternalServerError, "storage", "query failed")
		return
	}
	defer rows.Close()

	out := make([]record.CollectionRecord, 0, limit)
	for rows.Next() {
		rec := record.CollectionRecord{Location: &record.Location{}, SyncState: record.StateSynced}
		if err := rows.Scan(
			&rec.ID, &rec.CollectorID, &rec.Category, &rec.Quantity, &rec.Photos,
			&rec.Location.Latitude, &rec.Location.Longitude, &rec.Location.Accuracy,
			&rec.Timestamp, &rec.SyncedAt, &rec.AnchorRef,
		); err != nil {
			log.Error().Err(err).Msg("failed to scan collection row")
			writeError(w, r, http.StatusInternalServerError, "storage", "scan failed")
			return
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("row iteration error")
		writeError(w, r, http.StatusInternalServerError, "storage", "iteration failed")
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// healthResponse is the liveness body for GET /health.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles GET /health. Liveness only: no dependency checks, so
// a device probe can distinguish "server reachable" from everything else.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}
