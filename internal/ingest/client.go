// Package ingest is the device-side client for the remote ingest API.
//
// It deliberately carries no retry logic: retry policy lives in the
// sync coordinator's next-trigger rule, which re-reads the full pending
// set. The client's job is to make one attempt and classify the
// outcome so the caller can decide whether retrying is useful.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/herbtrace/herbtrace/internal/record"
)

// ErrorKind classifies an ingest failure for retry decisions.
type ErrorKind string

const (
	// KindValidation: the server rejected the record as malformed.
	// Resubmitting the same bytes will fail again.
	KindValidation ErrorKind = "validation"
	// KindStorage: the server accepted the request but could not
	// persist it. Retrying on a later trigger is useful.
	KindStorage ErrorKind = "storage"
	// KindNetwork: the remote was unreachable or the outcome unknown.
	// Indistinguishable from "never arrived"; retry on next trigger.
	KindNetwork ErrorKind = "network"
)

// Error is a typed ingest failure.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("ingest: %s (status %d): %s", e.Kind, e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Client talks to one ingest server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client with a per-request timeout. token may be
// empty when the server runs without auth (dev mode).
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Ingest submits one record. On success the canonical copy echoed by
// the server is returned.
func (c *Client) Ingest(ctx context.Context, rec *record.CollectionRecord) (*record.CollectionRecord, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "unencodable record", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/collections", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", uuid.New().String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	log.Debug().
		Str("recordId", rec.ID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("ingest request completed")

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var stored record.CollectionRecord
		if err := json.Unmarshal(raw, &stored); err != nil {
			return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("decode response: %w", err)}
		}
		return &stored, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &Error{Kind: KindValidation, Status: resp.StatusCode, Message: errMessage(raw)}

	default:
		return nil, &Error{Kind: KindStorage, Status: resp.StatusCode, Message: errMessage(raw)}
	}
}

// Health probes the server's liveness endpoint. A nil return means the
// remote is reachable; the agent's connectivity monitor feeds this into
// the coordinator.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<12))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func errMessage(raw []byte) string {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error != "" {
		return er.Error
	}
	return string(bytes.TrimSpace(raw))
}
