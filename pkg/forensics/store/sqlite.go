package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/polyforensic/pipeline/pkg/forensics/domain"
	"github.com/polyforensic/pipeline/pkg/forensics/ferrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	tx_hash TEXT NOT NULL,
	log_index INTEGER NOT NULL,
	block_number INTEGER NOT NULL,
	ts INTEGER NOT NULL,
	exchange TEXT NOT NULL,
	maker TEXT NOT NULL,
	taker TEXT NOT NULL,
	token_id TEXT NOT NULL,
	side TEXT NOT NULL,
	price INTEGER NOT NULL,
	size INTEGER NOT NULL,
	volume INTEGER NOT NULL,
	gas_price_wei INTEGER NOT NULL,
	UNIQUE(tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS idx_trades_token ON trades(token_id);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);

CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	confidence REAL NOT NULL,
	ts INTEGER NOT NULL,
	token_id TEXT NOT NULL,
	ack INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS evidence (
	kind TEXT NOT NULL,
	confidence REAL NOT NULL,
	ts INTEGER NOT NULL,
	token_id TEXT NOT NULL,
	volume INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
	condition_id TEXT PRIMARY KEY,
	question_id TEXT NOT NULL,
	oracle TEXT NOT NULL,
	yes_token_id TEXT NOT NULL,
	no_token_id TEXT NOT NULL,
	slug TEXT,
	question TEXT,
	status INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	key TEXT PRIMARY KEY,
	last_block INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const insertTradeQuery = `
INSERT OR IGNORE INTO trades
	(tx_hash, log_index, block_number, ts, exchange, maker, taker, token_id, side, price, size, volume, gas_price_wei)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertAlertQuery = `
INSERT OR IGNORE INTO alerts (id, kind, severity, confidence, ts, token_id, ack)
VALUES (?, ?, ?, ?, ?, ?, ?)`

const upsertSyncStateQuery = `
INSERT INTO sync_state (key, last_block, updated_at) VALUES ('controller', ?, ?)
ON CONFLICT(key) DO UPDATE SET last_block = excluded.last_block, updated_at = excluded.updated_at`

// DurableStore is the relational spill target: SQLite accessed through
// database/sql, prepared statements reused across every spill tick, WAL
// journal mode for concurrent-reader durability.
type DurableStore struct {
	db         *sql.DB
	stmtTrade  *sql.Stmt
	stmtAlert  *sql.Stmt
	stmtSync   *sql.Stmt
}

func OpenDurableStore(path string) (*DurableStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrPersistence, "open durable store", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, ferrors.Wrap(ferrors.ErrPersistence, "init schema", err)
	}

	ds := &DurableStore{db: db}
	if ds.stmtTrade, err = db.Prepare(insertTradeQuery); err != nil {
		_ = db.Close()
		return nil, ferrors.Wrap(ferrors.ErrPersistence, "prepare trade statement", err)
	}
	if ds.stmtAlert, err = db.Prepare(insertAlertQuery); err != nil {
		_ = ds.stmtTrade.Close()
		_ = db.Close()
		return nil, ferrors.Wrap(ferrors.ErrPersistence, "prepare alert statement", err)
	}
	if ds.stmtSync, err = db.Prepare(upsertSyncStateQuery); err != nil {
		_ = ds.stmtTrade.Close()
		_ = ds.stmtAlert.Close()
		_ = db.Close()
		return nil, ferrors.Wrap(ferrors.ErrPersistence, "prepare sync-state statement", err)
	}
	return ds, nil
}

func (d *DurableStore) Close() error {
	_ = d.stmtTrade.Close()
	_ = d.stmtAlert.Close()
	_ = d.stmtSync.Close()
	return d.db.Close()
}

// SpillTrades persists trades within a single transaction, rolling back on
// any failure — the next spill tick retries the same (still-unsynced)
// trades, since the ring is untouched by a failed spill.
func (d *DurableStore) SpillTrades(trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return ferrors.Wrap(ferrors.ErrPersistence, "begin trade spill", err)
	}
	stmt := tx.Stmt(d.stmtTrade)
	for _, t := range trades {
		_, err := stmt.Exec(
			t.Key.TxHash.Hex(), t.Key.LogIndex, t.BlockNumber, t.Timestamp,
			t.Exchange.Hex(), t.Maker.Hex(), t.Taker.Hex(), t.TokenID.Hex(),
			string(t.Side), int64(t.Price), int64(t.Size), int64(t.Volume), t.GasPriceWei,
		)
		if err != nil {
			_ = tx.Rollback()
			return ferrors.Wrap(ferrors.ErrPersistence, "spill trade", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ferrors.Wrap(ferrors.ErrPersistence, "commit trade spill", err)
	}
	return nil
}

// SpillAlerts persists alerts within a single transaction.
func (d *DurableStore) SpillAlerts(alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return ferrors.Wrap(ferrors.ErrPersistence, "begin alert spill", err)
	}
	stmt := tx.Stmt(d.stmtAlert)
	for _, a := range alerts {
		ackInt := 0
		if a.Ack {
			ackInt = 1
		}
		_, err := stmt.Exec(a.ID, string(a.Evidence.Kind), string(a.Severity), a.Evidence.Confidence, a.Evidence.Timestamp, a.Evidence.TokenID.Hex(), ackInt)
		if err != nil {
			_ = tx.Rollback()
			return ferrors.Wrap(ferrors.ErrPersistence, "spill alert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ferrors.Wrap(ferrors.ErrPersistence, "commit alert spill", err)
	}
	return nil
}

// SaveSyncState persists the Stream Controller's last-processed-block. The
// caller only invokes this after a batch's trades and evidence are
// durably committed.
func (d *DurableStore) SaveSyncState(s domain.SyncState, updatedAt int64) error {
	if _, err := d.stmtSync.Exec(s.LastBlock, updatedAt); err != nil {
		return ferrors.Wrap(ferrors.ErrPersistence, "save sync state", err)
	}
	return nil
}

// LoadSyncState returns the last durably committed SyncState, or the zero
// value if the controller has never run to completion.
func (d *DurableStore) LoadSyncState() (domain.SyncState, error) {
	var s domain.SyncState
	row := d.db.QueryRow(`SELECT last_block FROM sync_state WHERE key = 'controller'`)
	if err := row.Scan(&s.LastBlock); err != nil {
		if err == sql.ErrNoRows {
			return domain.SyncState{}, nil
		}
		return domain.SyncState{}, fmt.Errorf("load sync state: %w", err)
	}
	return s, nil
}
