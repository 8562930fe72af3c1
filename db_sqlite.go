package cardano

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SqliteJournal struct {
	db *sql.DB
	mu sync.Mutex
}

var _ Journal = &SqliteJournal{}

func NewSqliteJournal(path string) (j *SqliteJournal, err error) {
	log.Info().Msgf("opening sqlite journal at: '%s'", path)

	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		err = errors.Wrap(err, "failed to open database")
		return
	}

	if err = sqldb.Ping(); err != nil {
		_ = sqldb.Close()
		err = errors.Wrap(err, "failed to ping database")
		return
	}

	j = &SqliteJournal{db: sqldb}
	if err = j.initTables(); err != nil {
		_ = sqldb.Close()
		err = errors.Wrap(err, "failed to init tables")
		return
	}

	return
}

func (s *SqliteJournal) Close() error {
	return errors.WithStack(s.db.Close())
}

func (s *SqliteJournal) initTables() (err error) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS run (
			run_id TEXT PRIMARY KEY,
			tx_hash TEXT,
			kind TEXT,
			state TEXT,
			estimated_fee INTEGER DEFAULT 0,
			fee INTEGER DEFAULT 0,
			onchain_fee INTEGER DEFAULT 0,
			block_index INTEGER DEFAULT -1,
			block_hash TEXT DEFAULT '',
			error TEXT DEFAULT '',
			updated_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_tx_hash ON run(tx_hash)`,
	}

	for i, query := range queries {
		_, err = s.db.Exec(query)
		if err != nil {
			err = errors.Wrapf(err, "failed to execute query: %d", i)
			return
		}
	}

	return
}

func (s *SqliteJournal) RecordSubmission(record TxRecord) (err error) {
	if record.RunID == "" || record.TxHash == "" {
		return errors.Wrap(ErrValidation, "submission record needs a run id and tx hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO run (run_id, tx_hash, kind, state, estimated_fee, fee, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			tx_hash = excluded.tx_hash,
			kind = excluded.kind,
			state = excluded.state,
			estimated_fee = excluded.estimated_fee,
			fee = excluded.fee,
			updated_at = excluded.updated_at`,
		record.RunID,
		record.TxHash,
		record.Kind,
		RecordSubmitted,
		record.EstimatedFee,
		record.Fee,
		time.Now().UTC())

	return errors.Wrapf(err, "failed to record submission of %s", record.TxHash)
}

func (s *SqliteJournal) MarkConfirmed(txHash string, block BlockIdentifier, onchainFee uint64) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE run SET state = ?, block_index = ?, block_hash = ?, onchain_fee = ?, updated_at = ?
		WHERE tx_hash = ?`,
		RecordConfirmed,
		block.Index,
		block.Hash,
		onchainFee,
		time.Now().UTC(),
		txHash)
	if err != nil {
		return errors.Wrapf(err, "failed to mark %s confirmed", txHash)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "no journal record for tx %s", txHash)
	}

	return
}

func (s *SqliteJournal) MarkFailed(runID string, kind string, reason string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO run (run_id, kind, state, error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			state = excluded.state,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		runID,
		kind,
		RecordFailed,
		reason,
		time.Now().UTC())

	return errors.Wrapf(err, "failed to mark run %s failed", runID)
}

const recordColumns = `run_id, COALESCE(tx_hash, ''), kind, state, estimated_fee, fee, onchain_fee, block_index, block_hash, error, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (r TxRecord, err error) {
	err = row.Scan(
		&r.RunID,
		&r.TxHash,
		&r.Kind,
		&r.State,
		&r.EstimatedFee,
		&r.Fee,
		&r.OnchainFee,
		&r.BlockIndex,
		&r.BlockHash,
		&r.Error,
		&r.UpdatedAt)
	return
}

func (s *SqliteJournal) getOne(query string, arg string) (r TxRecord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err = scanRecord(s.db.QueryRow(query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		err = errors.Wrapf(ErrNotFound, "no journal record for %s", arg)
		return
	}
	err = errors.WithStack(err)
	return
}

func (s *SqliteJournal) GetRecord(txHash string) (TxRecord, error) {
	return s.getOne(`SELECT `+recordColumns+` FROM run WHERE tx_hash = ?`, txHash)
}

func (s *SqliteJournal) GetRun(runID string) (TxRecord, error) {
	return s.getOne(`SELECT `+recordColumns+` FROM run WHERE run_id = ?`, runID)
}

func (s *SqliteJournal) ListRecords(limit int) (records []TxRecord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`SELECT `+recordColumns+` FROM run ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		r, err2 := scanRecord(rows)
		if err2 != nil {
			return nil, errors.WithStack(err2)
		}
		records = append(records, r)
	}

	err = errors.WithStack(rows.Err())
	return
}
