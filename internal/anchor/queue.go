// Package anchor schedules best-effort, at-most-once ledger anchoring
// of ingested records.
//
// Jobs live only in process memory: one unfired job is lost on restart,
// and nothing is ever retried. This is deliberate — anchoring is a
// strictly secondary guarantee behind the canonical store, and the
// ledger itself stays queryable by record id.
package anchor

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/herbtrace/herbtrace/internal/ledger"
	"github.com/herbtrace/herbtrace/internal/record"
)

// Job carries the projected fields for one record. Created once per
// successful ingest, consumed at most once.
type Job struct {
	RecordID  string
	Entry     ledger.Entry
	NotBefore time.Time
}

// Annotator back-annotates the canonical record with the ledger
// reference after a successful write.
type Annotator interface {
	SetAnchorRef(ctx context.Context, recordID, ref string) error
}

// Project maps a record into the ledger's fixed-shape payload.
// Quantity is scaled to integer thousandths of a kilogram by
// truncation, not rounding: 1.2345 kg becomes 1234.
func Project(rec *record.CollectionRecord) ledger.Entry {
	e := ledger.Entry{
		RecordID:      rec.ID,
		Category:      rec.Category,
		QuantityMilli: uint64(math.Trunc(rec.Quantity * 1000)),
		UnixTimestamp: uint64(rec.Timestamp.Unix()),
	}
	if rec.Location != nil {
		e.Latitude = strconv.FormatFloat(rec.Location.Latitude, 'f', -1, 64)
		e.Longitude = strconv.FormatFloat(rec.Location.Longitude, 'f', -1, 64)
	}
	return e
}

// Queue dispatches anchor jobs after a fixed delay. Jobs may execute
// concurrently with no ordering guarantee; each touches only its own
// record, so no coordination is needed between them.
type Queue struct {
	writer   ledger.Writer
	annotate Annotator
	delay    time.Duration
	slots    chan struct{}
	wg       sync.WaitGroup
	execTO   time.Duration
}

const (
	defaultDelay       = 1 * time.Second
	defaultMaxInFlight = 64
	defaultExecTimeout = 2 * time.Minute
)

// NewQueue builds a queue. A nil writer disables anchoring entirely:
// Enqueue becomes a no-op, never an error.
func NewQueue(writer ledger.Writer, annotate Annotator, delay time.Duration, maxInFlight int) *Queue {
	if delay < 0 {
		delay = defaultDelay
	}
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &Queue{
		writer:   writer,
		annotate: annotate,
		delay:    delay,
		slots:    make(chan struct{}, maxInFlight),
		execTO:   defaultExecTimeout,
	}
}

// Enabled reports whether a ledger target is configured.
func (q *Queue) Enabled() bool { return q.writer != nil }

// Enqueue schedules the record for anchoring no earlier than the
// configured delay from now. Saturation drops the job with a warning;
// the caller's ingest response is never failed or delayed by this.
func (q *Queue) Enqueue(rec *record.CollectionRecord) {
	if q.writer == nil {
		log.Debug().Str("recordId", rec.ID).Msg("ledger not configured, skipping anchor")
		return
	}

	job := Job{
		RecordID:  rec.ID,
		Entry:     Project(rec),
		NotBefore: time.Now().Add(q.delay),
	}

	select {
	case q.slots <- struct{}{}:
	default:
		log.Warn().Str("recordId", rec.ID).Msg("anchor queue saturated, dropping job")
		return
	}

	q.wg.Add(1)
	time.AfterFunc(q.delay, func() { q.run(job) })

	log.Debug().
		Str("recordId", rec.ID).
		Time("notBefore", job.NotBefore).
		Msg("anchor job scheduled")
}

// run executes one job: a single ledger write, then the independent
// back-annotation of the canonical record. Any failure drops the job.
func (q *Queue) run(job Job) {
	defer q.wg.Done()
	defer func() { <-q.slots }()

	ctx, cancel := context.WithTimeout(context.Background(), q.execTO)
	defer cancel()

	ref, err := q.writer.LogCollection(ctx, job.Entry)
	if err != nil {
		log.Warn().Err(err).Str("recordId", job.RecordID).Msg("ledger anchoring failed, job dropped")
		return
	}

	log.Info().
		Str("recordId", job.RecordID).
		Str("ref", ref).
		Msg("record anchored to ledger")

	if q.annotate == nil {
		return
	}
	// The anchor itself already succeeded; a failed annotation is
	// logged and left alone — the ledger is the source of truth.
	if err := q.annotate.SetAnchorRef(ctx, job.RecordID, ref); err != nil {
		log.Warn().Err(err).Str("recordId", job.RecordID).Msg("anchor back-annotation failed")
	}
}

// Drain waits for scheduled jobs to finish, bounded by ctx. Used at
// shutdown; jobs still pending when the bound expires are lost, as the
// at-most-once contract allows.
func (q *Queue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
