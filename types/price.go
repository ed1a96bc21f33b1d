package types

// Price is what a middleware rule charges for a request. It is a closed
// two-case variant: Money (a human USD amount resolved against the network's
// canonical stablecoin) or TokenAmount (already-atomic units of an explicit
// token).
type Price interface {
	isPrice()
}

// Money is a decimal USD amount, optionally prefixed with "$",
// e.g. "$1.12" or "0.001".
type Money string

func (Money) isPrice() {}

// TokenAmount is an exact atomic amount of a caller-described token.
// No rescaling is applied.
type TokenAmount struct {
	// Amount is a decimal integer string in the token's smallest unit.
	Amount string
	Asset  TokenAsset
}

func (TokenAmount) isPrice() {}

// TokenAsset describes the token a TokenAmount is denominated in.
type TokenAsset struct {
	Address  string
	Decimals int
	EIP712   EIP712Domain
}

// EIP712Domain is the signing-domain metadata (token display name + version)
// carried in PaymentRequirements.Extra for credential signing.
type EIP712Domain struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
