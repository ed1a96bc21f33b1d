package utils

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/tollgate-labs/x402/types"
)

// MalformedPaymentError reports an X-PAYMENT header that could not be decoded
// into a well-formed payment payload.
type MalformedPaymentError struct {
	Reason string
	Err    error
}

func (e *MalformedPaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *MalformedPaymentError) Unwrap() error {
	return e.Err
}

// DecodePaymentHeader decodes the base64-wrapped JSON payment credential
// carried in the X-PAYMENT request header and validates its shape.
func DecodePaymentHeader(header string) (*types.PaymentPayload, error) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, &MalformedPaymentError{Reason: "invalid base64", Err: err}
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, &MalformedPaymentError{Reason: "invalid JSON", Err: err}
	}

	if err := validatePayload(&payload); err != nil {
		return nil, err
	}

	return &payload, nil
}

func validatePayload(payload *types.PaymentPayload) error {
	if payload.Scheme == "" {
		return &MalformedPaymentError{Reason: "missing scheme"}
	}
	if payload.Network == "" {
		return &MalformedPaymentError{Reason: "missing network"}
	}
	if payload.Payload.Signature == "" {
		return &MalformedPaymentError{Reason: "missing signature"}
	}

	auth := payload.Payload.Authorization
	if auth.From == "" || auth.To == "" {
		return &MalformedPaymentError{Reason: "missing authorization addresses"}
	}
	if auth.Nonce == "" {
		return &MalformedPaymentError{Reason: "missing authorization nonce"}
	}
	if _, ok := new(big.Int).SetString(auth.Value, 10); !ok {
		return &MalformedPaymentError{Reason: fmt.Sprintf("authorization value %q is not a decimal integer", auth.Value)}
	}

	return nil
}

// EncodePaymentHeader serializes a payment payload into the base64 JSON form
// carried in the X-PAYMENT request header.
func EncodePaymentHeader(payload *types.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeSettleResponse serializes settlement proof into the base64 JSON form
// placed in the X-PAYMENT-RESPONSE response header.
func EncodeSettleResponse(resp *types.SettleResponse) (string, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettleResponse is the inverse of EncodeSettleResponse. Used by
// clients inspecting the X-PAYMENT-RESPONSE header.
func DecodeSettleResponse(header string) (*types.SettleResponse, error) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	var resp types.SettleResponse
	if err := json.Unmarshal(decoded, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &resp, nil
}
