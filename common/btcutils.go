package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var ErrInvalidBtcAddress = errors.New("invalid btc address")

func IsValidBtcAddress(address string, cfg *chaincfg.Params) bool {
	if _, err := btcutil.DecodeAddress(address, cfg); err != nil {
		return false
	}

	return true
}

// ChainParams maps the configured chain name to btcd params.
// Unknown names fall back to regtest.
func ChainParams(name string) *chaincfg.Params {
	switch strings.ToLower(name) {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}

// Hash160ToP2WPKH turns a 0x-prefixed (or bare) hex hash160 into a
// bech32 witness v0 address.
func Hash160ToP2WPKH(hexHash string, cfg *chaincfg.Params) (string, error) {
	h := HexStrToByteSlice(hexHash)
	if len(h) != 20 {
		return "", fmt.Errorf("%w: hash160 must be 20 bytes, got %d", ErrInvalidBtcAddress, len(h))
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(h, cfg)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// NormalizeBtcAddress accepts either a native address for the network
// or a hex hash160 (the form the contract stores) and returns the
// chain's native encoding.
func NormalizeBtcAddress(address string, cfg *chaincfg.Params) (string, error) {
	if strings.HasPrefix(strings.ToLower(address), cfg.Bech32HRPSegwit+"1") {
		if !IsValidBtcAddress(address, cfg) {
			return "", fmt.Errorf("%w: %s", ErrInvalidBtcAddress, address)
		}
		return strings.ToLower(address), nil
	}
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return Hash160ToP2WPKH(address, cfg)
	}
	if IsValidBtcAddress(address, cfg) {
		return address, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidBtcAddress, address)
}
