package btcwallet

var (
	payoutTable = `CREATE TABLE IF NOT EXISTS payout (
		id TEXT PRIMARY KEY NOT NULL,
		toAddr TEXT NOT NULL,
		amount BIGINT NOT NULL,
		fee BIGINT NOT NULL,
		txHash CHAR(64) NOT NULL,
		rawTx TEXT NOT NULL,
		inputs BLOB NOT NULL,
		createdAt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		status VARCHAR(10) NOT NULL,
		CONSTRAINT chk_id CHECK (id != ''),
		CONSTRAINT chk_amount CHECK (amount > 0),
		CONSTRAINT chk_fee CHECK (fee >= 0),
		CONSTRAINT chk_status CHECK (status IN ('signed', 'broadcast', 'observed'))
	);`

	// A re-signed payout replaces the old entry; createdAt is kept.
	queryUpsertPayout = `INSERT INTO payout (id, toAddr, amount, fee, txHash, rawTx, inputs, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			toAddr = excluded.toAddr,
			amount = excluded.amount,
			fee = excluded.fee,
			txHash = excluded.txHash,
			rawTx = excluded.rawTx,
			inputs = excluded.inputs,
			status = excluded.status;`
	queryGetPayoutById      = `SELECT * FROM payout WHERE id = ?;`
	queryUpdatePayoutStatus = `UPDATE payout SET status = ? WHERE id = ?;`
	queryGetPayoutsByStatus = `SELECT * FROM payout WHERE status = ? ORDER BY createdAt ASC;`
	queryDeletePayout       = `DELETE FROM payout WHERE id = ?;`
)
