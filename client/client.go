// Package client is an x402 buyer: it probes a resource for a 402 challenge,
// signs an EIP-3009 authorization for the advertised terms, and retries the
// request with the payment credential attached.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tollgate-labs/x402/chains"
	"github.com/tollgate-labs/x402/types"
	"github.com/tollgate-labs/x402/utils"
)

// Client pays for x402-gated resources. A nil private key yields a read-only
// client that can inspect payment terms but not generate credentials.
type Client struct {
	httpClient *http.Client
	privateKey *ecdsa.PrivateKey
	address    string
}

func New(privateKey *ecdsa.PrivateKey) *Client {
	c := &Client{
		httpClient: &http.Client{},
		privateKey: privateKey,
	}
	if privateKey != nil {
		c.address = crypto.PubkeyToAddress(privateKey.PublicKey).Hex()
	}
	return c
}

// Check requests the resource without payment and reports the advertised
// terms if the server answers 402. A non-402 response is returned with nil
// requirements.
func (c *Client) Check(ctx context.Context, method, url string) (*http.Response, []types.PaymentRequirements, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read 402 response: %w", err)
	}

	var challenge types.PaymentRequiredResponse
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}

	return resp, challenge.Accepts, nil
}

// Pay performs the request with a freshly signed payment credential for the
// given requirements.
func (c *Client) Pay(ctx context.Context, method, url string, body []byte, requirements *types.PaymentRequirements) (*http.Response, error) {
	header, err := c.GeneratePayment(requirements)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-PAYMENT", header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request with payment failed: %w", err)
	}
	return resp, nil
}

// GeneratePayment signs an EIP-3009 transfer authorization satisfying
// requirements and encodes it as an X-PAYMENT header value.
func (c *Client) GeneratePayment(requirements *types.PaymentRequirements) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("cannot generate payment: client has no private key")
	}
	if requirements.Scheme != types.SchemeExact {
		return "", fmt.Errorf("unsupported payment scheme: %s", requirements.Scheme)
	}

	value, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return "", fmt.Errorf("invalid amount: %s", requirements.MaxAmountRequired)
	}

	chainID, err := chains.ChainID(requirements.Network)
	if err != nil {
		return "", err
	}

	domainName, domainVersion, err := signingDomain(requirements)
	if err != nil {
		return "", err
	}

	nonce, err := randomNonce()
	if err != nil {
		return "", err
	}

	// Validity window straddles now so minor clock skew is harmless.
	validAfter := big.NewInt(time.Now().Add(-5 * time.Minute).Unix())
	validBefore := big.NewInt(time.Now().Add(time.Duration(requirements.MaxTimeoutSeconds) * time.Second).Unix())

	auth := authorization{
		From:        c.address,
		To:          requirements.PayTo,
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}

	signature, err := signAuthorization(c.privateKey, auth, requirements.Asset, domainName, domainVersion, chainID)
	if err != nil {
		return "", err
	}

	payload := &types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload: types.ExactPayload{
			Signature: signature,
			Authorization: types.ExactAuthorization{
				From:        auth.From,
				To:          auth.To,
				Value:       auth.Value.String(),
				ValidAfter:  auth.ValidAfter.String(),
				ValidBefore: auth.ValidBefore.String(),
				Nonce:       hexNonce(auth.Nonce),
			},
		},
	}

	return utils.EncodePaymentHeader(payload)
}

// Address returns the payer address derived from the private key, or ""
// for a read-only client.
func (c *Client) Address() string {
	return c.address
}

func signingDomain(requirements *types.PaymentRequirements) (name, version string, err error) {
	name, _ = requirements.Extra["name"].(string)
	version, _ = requirements.Extra["version"].(string)
	if name == "" || version == "" {
		return "", "", fmt.Errorf("requirements are missing the EIP-712 signing domain in extra")
	}
	return name, version, nil
}
