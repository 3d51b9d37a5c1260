// Package revenue forwards confirmed payments to the revenue ledger.
package revenue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Entry struct {
	IntentID          string    `json:"intent_id"`
	OrderID           string    `json:"order_id"`
	AmountCents       int64     `json:"amount_cents"`
	Currency          string    `json:"currency"`
	ProviderReference string    `json:"provider_reference"`
	ConfirmedAt       time.Time `json:"confirmed_at"`
}

type Recorder interface {
	RecordRevenue(ctx context.Context, entry Entry) error
}

// Client posts entries to an external ledger at <baseURL>/api/revenue.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) RecordRevenue(ctx context.Context, entry Entry) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("revenue client not configured")
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/revenue", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", entry.IntentID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// LogRecorder is used when no ledger endpoint is configured.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) RecordRevenue(_ context.Context, entry Entry) error {
	r.logger.Info("revenue recorded",
		zap.String("intent_id", entry.IntentID),
		zap.String("order_id", entry.OrderID),
		zap.Int64("amount_cents", entry.AmountCents),
		zap.String("currency", entry.Currency),
	)
	return nil
}
