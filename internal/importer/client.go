// Package importer is the HTTP client for the backend endpoint that turns
// raw SMS text into a transaction record. The engine treats the call as an
// external side effect with no local retry: the backend dedups repeated
// submissions by reference ID, so a duplicate submission is cheap but a
// retry loop here would multiply it.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Transaction mirrors the backend's created transaction record.
type Transaction struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Date        string  `json:"date"`
	Source      string  `json:"source"`
	Type        string  `json:"transaction_type"`
	RefID       string  `json:"ref_id"`
	MerchantKey string  `json:"merchant_key"`
	UPIID       string  `json:"upi_id"`
}

// Client calls the transactions backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client. baseURL is the API root, e.g.
// "https://api.example.com/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

type smsRequest struct {
	UserID  string `json:"user_id"`
	SMSText string `json:"sms_text"`
	Date    string `json:"date,omitempty"`
}

// CreateFromSMS submits one message body and returns the transaction the
// backend created (or the existing one it matched). timestamp is the
// message's own time in epoch millis; zero lets the backend default it.
func (c *Client) CreateFromSMS(ctx context.Context, userID, text string, timestamp int64) (*Transaction, error) {
	payload := smsRequest{UserID: userID, SMSText: text}
	if timestamp > 0 {
		payload.Date = time.UnixMilli(timestamp).UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions/sms", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post sms transaction: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var txn Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &txn, nil
}
