package cmd

import (
	"context"
	"math/big"
	"os"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/btcman/derive"
	btcrpc "github.com/TEENet-io/btc-vault/btcman/rpc"
	"github.com/TEENet-io/btc-vault/chain"
)

// fileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// Shared Helper function. Create a btc rpc client.
func SetupBtcRpc(server string, port string, username string, password string) (*btcrpc.RpcClient, error) {
	_config := btcrpc.RpcClientConfig{
		ServerAddr: server,
		Port:       port,
		Username:   username,
		Pwd:        password,
	}
	r, err := btcrpc.NewRpcClient(&_config)
	if err != nil {
		logger.WithField("error", err).Error("failed to create btc rpc client")
		return nil, err
	}
	return r, nil
}

// VaultRegistrar is the part of the ledger client used at startup.
type VaultRegistrar interface {
	GetVaultState(ctx context.Context) (*chain.VaultInfo, error)
	RegisterVault(ctx context.Context, x, y, collateral *big.Int) (*chain.VaultInfo, error)
}

// EnsureVaultRegistered registers the master public key of the vault
// when the ledger does not know the vault yet.
func EnsureVaultRegistered(ctx context.Context, ledger VaultRegistrar, master *derive.SecretKey, collateral *big.Int) (*chain.VaultInfo, error) {
	info, err := ledger.GetVaultState(ctx)
	if err != nil {
		return nil, err
	}
	if info != nil {
		logger.WithField("vault", info.Address).Info("vault already registered")
		return info, nil
	}

	pub, err := master.PubKey()
	if err != nil {
		return nil, err
	}
	if collateral == nil {
		collateral = new(big.Int)
	}
	logger.WithField("collateral", collateral.String()).Info("registering vault")
	return ledger.RegisterVault(ctx, pub.X(), pub.Y(), collateral)
}
