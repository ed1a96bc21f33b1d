// Package chains holds the static tables mapping supported network
// identifiers to chain ids, canonical stablecoin addresses, and token
// metadata. The tables are closed: adding a network means editing them.
package chains

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain ids for the supported networks.
const (
	ChainIDBase          = 8453
	ChainIDBaseSepolia   = 84532
	ChainIDAvalanche     = 43114
	ChainIDAvalancheFuji = 43113
)

var networkToChainID = map[string]int64{
	"base":           ChainIDBase,
	"base-sepolia":   ChainIDBaseSepolia,
	"avalanche":      ChainIDAvalanche,
	"avalanche-fuji": ChainIDAvalancheFuji,
}

var usdcAddressByChainID = map[int64]string{
	ChainIDBase:          "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	ChainIDBaseSepolia:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	ChainIDAvalanche:     "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
	ChainIDAvalancheFuji: "0x5425890298aed601595a70AB815c96711a31Bc65",
}

// TokenInfo is the per-asset metadata needed to build payment requirements:
// the decimal precision and the EIP-712 signing domain of the token contract.
type TokenInfo struct {
	Decimals int
	Name     string
	Version  string
}

type tokenKey struct {
	chainID int64
	address string
}

var tokenInfoByAsset = map[tokenKey]TokenInfo{
	{ChainIDBase, lower(usdcAddressByChainID[ChainIDBase])}:                   {Decimals: 6, Name: "USD Coin", Version: "2"},
	{ChainIDBaseSepolia, lower(usdcAddressByChainID[ChainIDBaseSepolia])}:     {Decimals: 6, Name: "USDC", Version: "2"},
	{ChainIDAvalanche, lower(usdcAddressByChainID[ChainIDAvalanche])}:         {Decimals: 6, Name: "USD Coin", Version: "2"},
	{ChainIDAvalancheFuji, lower(usdcAddressByChainID[ChainIDAvalancheFuji])}: {Decimals: 6, Name: "USD Coin", Version: "2"},
}

func lower(s string) string { return strings.ToLower(s) }

// ChainID resolves a network identifier (e.g. "base-sepolia") to its chain id.
func ChainID(network string) (int64, error) {
	id, ok := networkToChainID[network]
	if !ok {
		return 0, fmt.Errorf("unsupported network: %s", network)
	}
	return id, nil
}

// Networks returns the supported network identifiers.
func Networks() []string {
	names := make([]string, 0, len(networkToChainID))
	for name := range networkToChainID {
		names = append(names, name)
	}
	return names
}

// USDCAddress returns the canonical USDC contract address for a chain id.
func USDCAddress(chainID int64) (string, error) {
	addr, ok := usdcAddressByChainID[chainID]
	if !ok {
		return "", fmt.Errorf("no USDC deployment known for chain id %d", chainID)
	}
	return addr, nil
}

// Token looks up the metadata for an asset on a chain. The address is
// normalized before lookup, so checksummed and lowercase forms both resolve.
func Token(chainID int64, asset string) (TokenInfo, error) {
	if !common.IsHexAddress(asset) {
		return TokenInfo{}, fmt.Errorf("invalid asset address: %s", asset)
	}
	info, ok := tokenInfoByAsset[tokenKey{chainID, lower(asset)}]
	if !ok {
		return TokenInfo{}, fmt.Errorf("unknown asset %s on chain id %d", asset, chainID)
	}
	return info, nil
}
