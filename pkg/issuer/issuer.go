// Package issuer is the HTTP client for the external voucher-code supplier.
// Issuance has a hard deadline: a slow supplier is treated as a failure by
// the caller (refund), never left pending.
package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

// IssueRequest asks the supplier for one voucher code.
type IssueRequest struct {
	VoucherID uint   // catalog entry being issued
	OrderID   string // unique per redemption, used for supplier-side dedupe
	Recipient string // opaque customer reference
}

// IssueResponse is the supplier's answer.
type IssueResponse struct {
	OrderID     string `json:"order_id"`
	VoucherCode string `json:"voucher_code"`
	Status      string `json:"status"`
}

var ErrTimeout = errors.New("issuer: request timed out")

// Client talks to the voucher-code supplier API.
type Client struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Issue requests a voucher code. Deadline overruns return ErrTimeout so the
// caller can distinguish them from hard rejections; both end in a refund.
func (c *Client) Issue(ctx context.Context, req IssueRequest) (*IssueResponse, error) {
	orderID := req.OrderID
	if orderID == "" {
		orderID = fmt.Sprintf("rd-%s", uuid.New().String())
	}
	body, _ := json.Marshal(map[string]interface{}{
		"voucher_id": req.VoucherID,
		"order_id":   orderID,
		"recipient":  req.Recipient,
	})
	apiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/codes/issue", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	apiReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		apiReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	log.Printf("[issuer] POST %s/v1/codes/issue order_id=%s voucher_id=%d", c.BaseURL, orderID, req.VoucherID)
	resp, err := c.client.Do(apiReq)
	if err != nil {
		if isTimeout(err, ctx) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("issuer: %d %s", resp.StatusCode, string(respBody))
	}
	var out IssueResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if out.VoucherCode == "" {
		return nil, fmt.Errorf("issuer: empty voucher code for order %s", orderID)
	}
	return &out, nil
}

func isTimeout(err error, ctx context.Context) bool {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
