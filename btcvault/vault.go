package btcvault

import (
	"context"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/common"
)

// DepositBook lists the deposits of a vault the wallet may spend from.
type DepositBook struct {
	ChainConfig *chaincfg.Params
	records     DepositRecords
	excluded    ExclusionList
	updateMu    sync.Mutex // serializes inserts of the same id
}

func NewDepositBook(records DepositRecords, excluded ExclusionList, chainConfig *chaincfg.Params) *DepositBook {
	return &DepositBook{ChainConfig: chainConfig, records: records, excluded: excluded}
}

// AddDeposit stores a new record. Duplicates are rejected with
// ErrRecordExists.
func (db *DepositBook) AddDeposit(ctx context.Context, w DepositRecordWriter, rec DepositRecord) error {
	db.updateMu.Lock()
	defer db.updateMu.Unlock()

	old, err := db.records.Find(ctx, rec.ID)
	if err != nil && err != ErrRecordNotFound {
		return err
	}
	if old != nil {
		return ErrRecordExists
	}
	if rec.BtcAddressBech32 == "" && rec.BtcAddress != "" {
		if addr, err := common.Hash160ToP2WPKH(rec.BtcAddress, db.ChainConfig); err == nil {
			rec.BtcAddressBech32 = addr
		}
	}
	return w.InsertDeposit(ctx, rec)
}

// Address resolves the bech32 deposit address of rec.
func (db *DepositBook) Address(rec *DepositRecord) (string, error) {
	if rec.BtcAddressBech32 != "" {
		return rec.BtcAddressBech32, nil
	}
	return common.Hash160ToP2WPKH(rec.BtcAddress, db.ChainConfig)
}

// ActiveDeposits pages through every record of vault and drops the
// excluded ones. Order is the record order, oldest first.
func (db *DepositBook) ActiveDeposits(ctx context.Context, vault string) ([]DepositRecord, error) {
	return db.deposits(ctx, vault, true)
}

// AllDeposits is ActiveDeposits including the excluded records.
func (db *DepositBook) AllDeposits(ctx context.Context, vault string) ([]DepositRecord, error) {
	return db.deposits(ctx, vault, false)
}

func (db *DepositBook) deposits(ctx context.Context, vault string, skipExcluded bool) ([]DepositRecord, error) {
	var active []DepositRecord
	filter := RecordFilter{Vault: strings.ToLower(vault)}

	for page := (Page{Number: 0, Size: DefaultPageSize}); ; page.Number++ {
		recs, total, err := db.records.Query(ctx, filter, page)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if skipExcluded {
				skip, err := db.excluded.IsExcluded(ctx, rec.ID)
				if err != nil {
					return nil, err
				}
				if skip {
					logger.WithField("id", rec.ID).Debug("skip excluded deposit")
					continue
				}
			}
			active = append(active, rec)
		}
		if len(recs) == 0 || (page.Number+1)*page.Size >= total {
			break
		}
	}
	return active, nil
}

// SeedExclusions adds ids from configuration to the exclusion list.
func SeedExclusions(ctx context.Context, list ExclusionList, ids []string) error {
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := common.ParseID(id); err != nil {
			return err
		}
		if err := list.Exclude(ctx, id, "configured"); err != nil {
			return err
		}
	}
	return nil
}
