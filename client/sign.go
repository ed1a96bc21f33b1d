package client

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// authorization is the EIP-3009 TransferWithAuthorization message before
// wire encoding.
type authorization struct {
	From        string
	To          string
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

func randomNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

func hexNonce(nonce [32]byte) string {
	return "0x" + hex.EncodeToString(nonce[:])
}

// signAuthorization produces the EIP-712 signature over the
// TransferWithAuthorization struct for the token's signing domain.
func signAuthorization(key *ecdsa.PrivateKey, auth authorization, asset, domainName, domainVersion string, chainID int64) (string, error) {
	domainTypeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	domainSeparator := crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256Hash([]byte(domainName)).Bytes(),
		crypto.Keccak256Hash([]byte(domainVersion)).Bytes(),
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(asset).Bytes(), 32),
	)

	transferTypeHash := crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
	structHash := crypto.Keccak256Hash(
		transferTypeHash.Bytes(),
		common.LeftPadBytes(common.HexToAddress(auth.From).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(auth.To).Bytes(), 32),
		common.LeftPadBytes(auth.Value.Bytes(), 32),
		common.LeftPadBytes(auth.ValidAfter.Bytes(), 32),
		common.LeftPadBytes(auth.ValidBefore.Bytes(), 32),
		auth.Nonce[:],
	)

	messageHash := crypto.Keccak256Hash(
		[]byte("\x19\x01"),
		domainSeparator.Bytes(),
		structHash.Bytes(),
	)

	signature, err := crypto.Sign(messageHash.Bytes(), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}

	// Ethereum expects v in {27, 28}.
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}
