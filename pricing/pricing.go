// Package pricing converts a rule's configured price into the exact atomic
// amount, asset address, and signing domain advertised in payment
// requirements.
package pricing

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/tollgate-labs/x402/chains"
	"github.com/tollgate-labs/x402/types"
)

// Normalized is the result of resolving a price against a network.
type Normalized struct {
	// MaxAmountRequired is a non-negative decimal integer string in atomic units.
	MaxAmountRequired string

	// Asset is the token contract address the amount is denominated in.
	Asset string

	// Domain is the token's EIP-712 signing domain.
	Domain types.EIP712Domain
}

// InvalidPriceError reports a price that cannot be resolved: an unsupported
// network, an unknown asset, or an unparsable amount.
type InvalidPriceError struct {
	Price  types.Price
	Reason string
	Err    error
}

func (e *InvalidPriceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid price %v: %s: %v", e.Price, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid price %v: %s", e.Price, e.Reason)
}

func (e *InvalidPriceError) Unwrap() error {
	return e.Err
}

// Normalize resolves price against network. Money amounts are rescaled to the
// network's canonical USDC using exact decimal arithmetic and truncated to an
// integer; TokenAmount values pass through unchanged. Pure function of its
// inputs and the chains tables.
func Normalize(price types.Price, network string) (*Normalized, error) {
	switch p := price.(type) {
	case types.Money:
		return normalizeMoney(p, network)
	case types.TokenAmount:
		return normalizeTokenAmount(p)
	case nil:
		return nil, &InvalidPriceError{Price: price, Reason: "price is nil"}
	default:
		return nil, &InvalidPriceError{Price: price, Reason: fmt.Sprintf("unsupported price type %T", price)}
	}
}

func normalizeMoney(money types.Money, network string) (*Normalized, error) {
	amount, err := decimal.NewFromString(strings.TrimPrefix(string(money), "$"))
	if err != nil {
		return nil, &InvalidPriceError{Price: money, Reason: "unparsable amount", Err: err}
	}

	chainID, err := chains.ChainID(network)
	if err != nil {
		return nil, &InvalidPriceError{Price: money, Reason: "unresolvable network", Err: err}
	}
	asset, err := chains.USDCAddress(chainID)
	if err != nil {
		return nil, &InvalidPriceError{Price: money, Reason: "no stablecoin for network", Err: err}
	}
	token, err := chains.Token(chainID, asset)
	if err != nil {
		return nil, &InvalidPriceError{Price: money, Reason: "unknown asset", Err: err}
	}

	atomic := amount.Shift(int32(token.Decimals)).Truncate(0)
	if atomic.IsNegative() {
		return nil, &InvalidPriceError{Price: money, Reason: "amount is negative"}
	}

	return &Normalized{
		MaxAmountRequired: atomic.String(),
		Asset:             asset,
		Domain:            types.EIP712Domain{Name: token.Name, Version: token.Version},
	}, nil
}

func normalizeTokenAmount(amount types.TokenAmount) (*Normalized, error) {
	// The caller already expressed atomic units; only validate the shape.
	n, ok := new(big.Int).SetString(amount.Amount, 10)
	if !ok {
		return nil, &InvalidPriceError{Price: amount, Reason: "amount is not a decimal integer"}
	}
	if n.Sign() < 0 {
		return nil, &InvalidPriceError{Price: amount, Reason: "amount is negative"}
	}
	if amount.Asset.Address == "" {
		return nil, &InvalidPriceError{Price: amount, Reason: "asset address is required"}
	}
	if !common.IsHexAddress(amount.Asset.Address) {
		return nil, &InvalidPriceError{Price: amount, Reason: "asset address is not a hex address"}
	}

	return &Normalized{
		MaxAmountRequired: amount.Amount,
		Asset:             amount.Asset.Address,
		Domain:            amount.Asset.EIP712,
	}, nil
}
