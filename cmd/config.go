package cmd

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/TEENet-io/btc-vault/btcman/derive"
	"github.com/TEENet-io/btc-vault/btcwallet"
)

const ENV_CONFIG_FILE_PATH = "VAULT_CONFIG"

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type VaultServerConfig struct {
	// storage side
	DBType        string `validate:"oneof=sqlite badger"`
	DbFilePath    string `validate:"required"`
	RecordsDbPath string // deposit records and payout journal, defaults next to DbFilePath

	// btc side
	BtcChainConfig string `validate:"oneof=mainnet testnet regtest signet"`
	BtcRpcServer   string `validate:"required"`
	BtcRpcPort     string `validate:"required,numeric"`
	BtcRpcUsername string
	BtcRpcPwd      string
	BtcIndexerUrl  string `validate:"required,url"`
	BtcMinFee      int64  `validate:"gte=0"`
	BtcMaxFee      int64  `validate:"gtfield=BtcMinFee"`

	// master key of the vault
	VaultKeySource   string `validate:"oneof=env file"`
	VaultBtcKey      string `validate:"required_if=VaultKeySource env"`
	VaultKeyFile     string `validate:"required_if=VaultKeySource file"`
	VaultKeyPassword string

	// eth side
	EthRpcUrl          string `validate:"required"`
	EthCoreAccountPriv string `validate:"required,hexadecimal"`
	EthContractAddr    string `validate:"required,eth_addr"`
	EthRelayAddr       string `validate:"required,eth_addr"`
	EthStartBlock      uint64
	VaultAddr          string `validate:"omitempty,eth_addr"` // defaults to the core account
	VaultCollateral    string `validate:"omitempty,numeric"`  // wei sent with registerVault

	ExcludedDeposits []string

	// Http side
	HttpIp   string
	HttpPort string `validate:"required,numeric"`

	LogLevel string
}

func (c *VaultServerConfig) Validate() error {
	return validator.New().Struct(c)
}

// SetDefaults registers the default of every optional setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("DB_TYPE", "sqlite")
	v.SetDefault("DB_FILE_PATH", "vault.db")
	v.SetDefault("BTC_CHAIN_CONFIG", "regtest")
	v.SetDefault("BTC_MAX_FEE", btcwallet.DefaultMaxFee)
	v.SetDefault("VAULT_KEY_SOURCE", derive.SourceEnv)
	v.SetDefault("HTTP_IP", "0.0.0.0")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
}

// PrepareVaultServerConfig reads configuration variables from v.
func PrepareVaultServerConfig(v *viper.Viper) *VaultServerConfig {
	return &VaultServerConfig{
		// storage side
		DBType:        strings.ToLower(v.GetString("DB_TYPE")),
		DbFilePath:    v.GetString("DB_FILE_PATH"),
		RecordsDbPath: v.GetString("RECORDS_DB_PATH"),
		// btc side
		BtcChainConfig: strings.ToLower(v.GetString("BTC_CHAIN_CONFIG")),
		BtcRpcServer:   v.GetString("BTC_RPC_SERVER"),
		BtcRpcPort:     v.GetString("BTC_RPC_PORT"),
		BtcRpcUsername: v.GetString("BTC_RPC_USERNAME"),
		BtcRpcPwd:      v.GetString("BTC_RPC_PWD"),
		BtcIndexerUrl:  v.GetString("BTC_INDEXER_URL"),
		BtcMinFee:      v.GetInt64("BTC_MIN_FEE"),
		BtcMaxFee:      v.GetInt64("BTC_MAX_FEE"),
		// master key
		VaultKeySource:   strings.ToLower(v.GetString("VAULT_KEY_SOURCE")),
		VaultBtcKey:      v.GetString("VAULT_BTC_KEY"),
		VaultKeyFile:     v.GetString("VAULT_KEY_FILE"),
		VaultKeyPassword: v.GetString("VAULT_KEY_PASSWORD"),
		// eth side
		EthRpcUrl:          v.GetString("ETH_RPC_URL"),
		EthCoreAccountPriv: strings.TrimPrefix(v.GetString("ETH_CORE_ACCOUNT_PRIV"), "0x"),
		EthContractAddr:    v.GetString("ETH_CONTRACT_ADDR"),
		EthRelayAddr:       v.GetString("ETH_RELAY_ADDR"),
		EthStartBlock:      v.GetUint64("ETH_START_BLOCK"),
		VaultAddr:          v.GetString("VAULT_ADDR"),
		VaultCollateral:    v.GetString("VAULT_COLLATERAL"),
		ExcludedDeposits:   splitList(v.GetString("EXCLUDED_DEPOSITS")),
		// Http side
		HttpIp:   v.GetString("HTTP_IP"),
		HttpPort: v.GetString("HTTP_PORT"),

		LogLevel: v.GetString("LOG_LEVEL"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
