/**
 * @description
 * This package provides a client for the external chain settlement rail. The
 * ledger hands it a destination, amount, and currency whenever value leaves
 * the internal books, and gets back an opaque settlement reference. Nothing
 * else about the rail leaks into the ledger.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Amounts travel as decimal strings.
 */
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a client for the chain settlement API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new chain settlement client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SettlementRequest is the payload for submitting an outbound settlement.
type SettlementRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Destination string `json:"destination"`
			Amount      string `json:"amount"`
			Currency    string `json:"currency"`
		} `json:"attributes"`
	} `json:"data"`
}

// SettlementResponse is the expected response from the settlement endpoint.
type SettlementResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Reference string `json:"reference"`
			Status    string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error from the settlement API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("chain api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown chain api error"
}

// SubmitSettlement asks the rail to settle the amount to the destination and
// returns the rail's opaque settlement reference.
func (c *Client) SubmitSettlement(ctx context.Context, destination string, amount decimal.Decimal, currency string) (string, error) {
	reqPayload := SettlementRequest{}
	reqPayload.Data.Type = "Settlement"
	reqPayload.Data.Attributes.Destination = destination
	reqPayload.Data.Attributes.Amount = amount.String()
	reqPayload.Data.Attributes.Currency = currency

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/settlements", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create settlement request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-chain-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute settlement request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read settlement response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=chain_client op=settle status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return "", fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=chain_client op=settle status=%d err=%q", resp.StatusCode, errResp.Error())
		return "", &errResp
	}

	var successResp SettlementResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return "", fmt.Errorf("failed to decode success response: %w", err)
	}

	reference := successResp.Data.Attributes.Reference
	if reference == "" {
		reference = successResp.Data.ID
	}
	if reference == "" {
		return "", fmt.Errorf("settlement response missing reference")
	}
	return reference, nil
}
