package chain

import (
	"crypto/ecdsa"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultFinality      = 3
	DefaultRetryAttempts = 5
)

type Config struct {
	// URL is the URL of the ledger node
	URL string

	// ContractAddress is the deployed OneBtc contract
	ContractAddress common.Address

	// RelayAddress is the deployed BTC header relay
	RelayAddress common.Address

	// Vault is the ledger address of this vault
	Vault common.Address

	// CoreKey signs executeRedeem and registerVault. Without it the
	// client is read only.
	CoreKey *ecdsa.PrivateKey

	// Finality is the number of blocks behind the head that are
	// considered final
	Finality uint64

	RetryAttempts int
	RetryDelay    time.Duration
}

func (cfg *Config) setDefaults() {
	if cfg.Finality == 0 {
		cfg.Finality = DefaultFinality
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
}
