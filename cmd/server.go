// Server = ledger side components + btc side components + storage + http reporter.
// All components are configured via environment variables (strings!).

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TEENet-io/btc-vault/btcman/derive"
	btcrpc "github.com/TEENet-io/btc-vault/btcman/rpc"
	"github.com/TEENet-io/btc-vault/btcvault"
	"github.com/TEENet-io/btc-vault/btcwallet"
	"github.com/TEENet-io/btc-vault/chain"
	"github.com/TEENet-io/btc-vault/common"
	"github.com/TEENet-io/btc-vault/database"
	"github.com/TEENet-io/btc-vault/reporter"
	"github.com/TEENet-io/btc-vault/storage"
	"github.com/TEENet-io/btc-vault/vaultclient"
)

// Default params for server.
// More often we don't recommend users to tweak those.
// So we list them here.
const (
	// ledger watcher config
	frequencyToCheckEthFinalizedBlock = 5 * time.Second
	ledgerCheckpointName              = "ledger"

	// publisher-observer config
	CHANNEL_BUFFER_SIZE = 100
)

// VaultServer holds the objects that consists of the vault server.
type VaultServer struct {
	cfg    *VaultServerConfig
	master *derive.SecretKey

	// storage side
	Store    storage.Store
	recordDb *sql.DB
	Records  *btcvault.RecordSQLiteStorage
	Journal  *btcwallet.BtcWalletDB

	// Ledger side
	Ethman    *chain.Ethman
	Publisher *chain.PublisherService
	Watcher   *chain.Watcher

	// Btc side
	BtcRpcClient *btcrpc.RpcClient
	Facade       *btcrpc.Client
	Book         *btcvault.DepositBook
	Wallet       *btcwallet.BtcWallet

	// vault
	Client   *vaultclient.VaultClient
	Ingester *vaultclient.DepositIngester
	Reporter *reporter.HttpReporter
}

func recordsPath(cfg *VaultServerConfig) string {
	if cfg.RecordsDbPath != "" {
		return cfg.RecordsDbPath
	}
	if cfg.DBType == "badger" {
		return filepath.Join(cfg.DbFilePath, "records.db")
	}
	return cfg.DbFilePath
}

// NewVaultServer creates every component of the vault server. Nothing
// runs until Run is called. On error the components created so far are
// closed.
func NewVaultServer(ctx context.Context, cfg *VaultServerConfig) (_ *VaultServer, err error) {
	s := &VaultServer{cfg: cfg}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	chainParams := common.ChainParams(cfg.BtcChainConfig)

	// 0) master key and ledger account
	s.master, err = derive.LoadMasterKey(&derive.LoaderConfig{
		Source:   cfg.VaultKeySource,
		Key:      cfg.VaultBtcKey,
		FilePath: cfg.VaultKeyFile,
		Password: cfg.VaultKeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load vault master key: %w", err)
	}
	coreKey, err := crypto.HexToECDSA(cfg.EthCoreAccountPriv)
	if err != nil {
		return nil, fmt.Errorf("parse core account key: %w", err)
	}
	vault := crypto.PubkeyToAddress(coreKey.PublicKey)
	if cfg.VaultAddr != "" {
		vault = ethcommon.HexToAddress(cfg.VaultAddr)
	}
	logger.WithField("vault", vault.Hex()).Info("vault address")

	// 1) storage: deposit records and payout journal live in sqlite,
	// operations in the configured store
	s.recordDb, err = database.OpenSQLite(recordsPath(cfg))
	if err != nil {
		return nil, err
	}
	if s.Records, err = btcvault.NewRecordSQLiteStorage(s.recordDb); err != nil {
		return nil, err
	}
	if s.Journal, err = btcwallet.NewBtcWalletDB(s.recordDb); err != nil {
		return nil, err
	}
	if cfg.DBType == "badger" {
		s.Store, err = storage.Open(storage.Config{DBType: cfg.DBType, Path: cfg.DbFilePath})
	} else {
		s.Store, err = storage.NewSQLiteStoreFromDB(s.recordDb)
	}
	if err != nil {
		return nil, err
	}
	if err = btcvault.SeedExclusions(ctx, s.Records, cfg.ExcludedDeposits); err != nil {
		return nil, err
	}

	// 2) connect to btc network
	if s.BtcRpcClient, err = SetupBtcRpc(cfg.BtcRpcServer, cfg.BtcRpcPort, cfg.BtcRpcUsername, cfg.BtcRpcPwd); err != nil {
		return nil, err
	}
	s.Facade = btcrpc.NewClient(btcrpc.NewIndexerClient(cfg.BtcIndexerUrl), s.BtcRpcClient)

	// 3) connect to the ledger and make sure the vault is registered
	s.Ethman, err = chain.NewEthman(ctx, chain.Config{
		URL:             cfg.EthRpcUrl,
		ContractAddress: ethcommon.HexToAddress(cfg.EthContractAddr),
		RelayAddress:    ethcommon.HexToAddress(cfg.EthRelayAddr),
		Vault:           vault,
		CoreKey:         coreKey,
	})
	if err != nil {
		return nil, err
	}
	collateral := new(big.Int)
	if cfg.VaultCollateral != "" {
		if _, ok := collateral.SetString(cfg.VaultCollateral, 10); !ok {
			return nil, fmt.Errorf("invalid vault collateral %q", cfg.VaultCollateral)
		}
	}
	if _, err = EnsureVaultRegistered(ctx, s.Ethman, s.master, collateral); err != nil {
		return nil, err
	}

	// 4) wallet over the deposit book
	s.Book = btcvault.NewDepositBook(s.Records, s.Records, chainParams)
	s.Wallet = btcwallet.NewBtcWallet(&btcwallet.Config{
		ChainConfig: chainParams,
		Vault:       vault.Hex(),
		MinFee:      cfg.BtcMinFee,
		MaxFee:      cfg.BtcMaxFee,
	}, btcwallet.Deps{
		Master:        s.master,
		Facade:        s.Facade,
		Book:          s.Book,
		WrongPayments: s.Records,
		Relay:         chain.NewRelayStatus(s.Ethman, s.BtcRpcClient),
		Journal:       s.Journal,
	})

	// 5) operations
	s.Client = vaultclient.NewVaultClient(
		vaultclient.Config{Vault: vault.Hex(), EventBuffer: CHANNEL_BUFFER_SIZE},
		s.Store,
		vaultclient.NewPools(s.Wallet, s.Facade, s.Ethman),
		vaultclient.NewPreflight(s.Ethman),
	)
	s.Ingester = vaultclient.NewDepositIngester(vault.Hex(), s.Book, s.Records, CHANNEL_BUFFER_SIZE)

	// 6) ledger watcher, observers must be registered before it runs
	s.Publisher = chain.NewPublisherService()
	s.Publisher.RegisterRedeemObserver(s.Client.RedeemObserver())
	s.Publisher.RegisterIssueObserver(s.Ingester.IssueObserver())
	s.Watcher, err = chain.NewWatcher(ctx, chain.WatcherConfig{
		FrequencyToCheckBlock: frequencyToCheckEthFinalizedBlock,
		StartBlock:            cfg.EthStartBlock,
	}, s.Ethman, s.Publisher, storage.NewBlockCheckpoint(s.Store, ledgerCheckpointName))
	if err != nil {
		return nil, err
	}

	// 7) http server to report status
	s.Reporter = reporter.NewHttpReporter(cfg.HttpIp, cfg.HttpPort, s.Client, s.Wallet, s.Book)

	return s, nil
}

// Run starts every loop of the server and blocks until ctx is done or
// one of them fails. Operations share the lifetime of the loops, so a
// failed loop stops them too.
func (s *VaultServer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// resume unfinished operations before new events arrive
	if err := s.Client.Start(ctx); err != nil {
		return err
	}

	g.Go(func() error { return s.Wallet.Start(ctx) })
	g.Go(func() error { return s.Client.Run(ctx) })
	g.Go(func() error { return s.Ingester.Run(ctx) })
	g.Go(func() error { return s.Watcher.Sync(ctx) })
	g.Go(func() error { return s.Reporter.Run(ctx) })

	err := g.Wait()
	s.Client.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the storage and wipes the master key.
func (s *VaultServer) Close() {
	if s.BtcRpcClient != nil {
		s.BtcRpcClient.Close()
	}
	if s.Records != nil {
		s.Records.Close()
	}
	if s.Journal != nil {
		s.Journal.Close()
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			logger.WithField("error", err).Error("failed to close store")
		}
	}
	if s.recordDb != nil {
		s.recordDb.Close()
	}
	s.master.Zero()
}

// Create, then start the vault server and wait.
// Press Ctrl-C to kill the server.
func StartVaultServerAndWait(cfg *VaultServerConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a signal channel to listen for Ctrl-C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutting down vault server")
		cancel()
	}()

	server, err := NewVaultServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer server.Close()

	return server.Run(ctx)
}
