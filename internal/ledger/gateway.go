package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the gateway connection settings. An empty URL means
// ledger anchoring is disabled for this process.
type Config struct {
	URL    string // signing gateway endpoint, e.g. https://ledger-gw.internal/log
	APIKey string
}

// Gateway is a Writer that posts entries to a signing gateway over
// HTTP. The gateway holds the signing identity and serializes
// transaction submission on its side.
type Gateway struct {
	cfg    Config
	client *http.Client
}

// New returns a Gateway, or nil when the target is unconfigured so the
// anchor queue degrades to a deliberate no-op.
func New(cfg Config) *Gateway {
	if cfg.URL == "" {
		return nil
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type gatewayResponse struct {
	Reference string `json:"reference"`
	Error     string `json:"error,omitempty"`
}

// LogCollection implements Writer.
func (g *Gateway) LogCollection(ctx context.Context, e Entry) (string, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ledger: submit: %w", err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("recordId", e.RecordID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("ledger gateway call completed")

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("ledger: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ledger: gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var gr gatewayResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fmt.Errorf("ledger: decode response: %w", err)
	}
	if gr.Reference == "" {
		return "", fmt.Errorf("ledger: gateway returned no reference")
	}
	return gr.Reference, nil
}
