// Package facilitator is the client side of the remote facilitator service
// that verifies payment credentials and settles them on-chain. The service
// itself is an external collaborator reached over HTTP with JSON bodies.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tollgate-labs/x402/types"
)

// Client issues Verify and Settle calls against one facilitator endpoint.
// It is stateless and safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient validates cfg and returns a client for it.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{},
	}, nil
}

// URL returns the normalized facilitator base URL.
func (c *Client) URL() string {
	return c.config.URL
}

// Verify asks the facilitator whether payment satisfies requirements.
// A transport-level failure (unreachable endpoint, non-2xx status, malformed
// body) is returned as an error; a facilitator-reported rejection comes back
// as a response with IsValid=false.
func (c *Client) Verify(ctx context.Context, payment *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, error) {
	req := types.VerifyRequest{
		X402Version:         payment.X402Version,
		PaymentPayload:      *payment,
		PaymentRequirements: *requirements,
	}

	var resp types.VerifyResponse
	if err := c.post(ctx, "verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settle submits a verified payment for on-chain settlement. The transport
// contract matches Verify; a facilitator-reported failure comes back as a
// response with Success=false.
func (c *Client) Settle(ctx context.Context, payment *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettleResponse, error) {
	req := types.SettleRequest{
		X402Version:         payment.X402Version,
		PaymentPayload:      *payment,
		PaymentRequirements: *requirements,
	}

	var resp types.SettleResponse
	if err := c.post(ctx, "settle", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, operation string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", c.config.URL, operation), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.config.CreateHeaders != nil {
		headers, err := c.config.CreateHeaders()
		if err != nil {
			return fmt.Errorf("failed to create facilitator headers: %w", err)
		}
		for name, value := range headers[operation] {
			req.Header.Set(name, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
