package cachestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// MirrorRepo wraps the mirror database and provides batch read/write for
// cache entries. All writes go through single transactions so a crash
// never leaves a half-applied flush.
type MirrorRepo struct {
	db *sql.DB
}

// NewMirrorRepo creates a MirrorRepo over an opened, migrated database.
func NewMirrorRepo(db *sql.DB) *MirrorRepo {
	return &MirrorRepo{db: db}
}

// Close closes the underlying database.
func (r *MirrorRepo) Close() error {
	return r.db.Close()
}

const (
	upsertEntrySQL = `INSERT INTO cache_entries (key_digest, cache_key, payload_json, written_at_ns, ttl_ns)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key_digest) DO UPDATE SET
			cache_key     = excluded.cache_key,
			payload_json  = excluded.payload_json,
			written_at_ns = excluded.written_at_ns,
			ttl_ns        = excluded.ttl_ns`

	deleteEntrySQL = "DELETE FROM cache_entries WHERE key_digest = ?"
)

// FlushOps holds the upsert/delete sets for a single-transaction flush.
type FlushOps struct {
	Upserts []Entry
	Deletes []string // raw cache keys
}

// FlushTx executes all upserts and deletes in one transaction.
func (r *MirrorRepo) FlushTx(ops FlushOps) error {
	if len(ops.Upserts) == 0 && len(ops.Deletes) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin flush tx: %w", err)
	}
	defer tx.Rollback()

	if err := bulkExecTx(tx, upsertEntrySQL, len(ops.Upserts), func(stmt *sql.Stmt, i int) error {
		e := ops.Upserts[i]
		_, err := stmt.Exec(keyDigest(e.Key), e.Key, string(e.Data), e.WrittenAt.UnixNano(), int64(e.TTL))
		return err
	}); err != nil {
		return fmt.Errorf("upsert_entries: %w", err)
	}

	if err := bulkExecTx(tx, deleteEntrySQL, len(ops.Deletes), func(stmt *sql.Stmt, i int) error {
		_, err := stmt.Exec(keyDigest(ops.Deletes[i]))
		return err
	}); err != nil {
		return fmt.Errorf("delete_entries: %w", err)
	}

	return tx.Commit()
}

// LoadAll reads every mirrored entry, used to rehydrate the in-memory
// map at startup.
func (r *MirrorRepo) LoadAll() ([]Entry, error) {
	rows, err := r.db.Query("SELECT cache_key, payload_json, written_at_ns, ttl_ns FROM cache_entries")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var (
			e         Entry
			payload   string
			writtenNs int64
			ttlNs     int64
		)
		if err := rows.Scan(&e.Key, &payload, &writtenNs, &ttlNs); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(payload)
		e.WrittenAt = time.Unix(0, writtenNs)
		e.TTL = time.Duration(ttlNs)
		result = append(result, e)
	}
	return result, rows.Err()
}

// DeleteAll wipes the mirror. Used on Clear so a previous session's data
// never leaks into the next one.
func (r *MirrorRepo) DeleteAll() error {
	_, err := r.db.Exec("DELETE FROM cache_entries")
	return err
}

// SweepExpiredBefore deletes rows whose retention window ended before
// now. The retention window is written_at + 2*ttl: one TTL of freshness
// plus one TTL of stale-fallback headroom for offline reads.
func (r *MirrorRepo) SweepExpiredBefore(now time.Time) (int64, error) {
	res, err := r.db.Exec(
		"DELETE FROM cache_entries WHERE written_at_ns + 2*ttl_ns < ?",
		now.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// bulkExecTx runs a prepared statement within an existing transaction for
// n rows.
func bulkExecTx(tx *sql.Tx, query string, n int, execFn func(stmt *sql.Stmt, i int) error) error {
	if n == 0 {
		return nil
	}

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := execFn(stmt, i); err != nil {
			return fmt.Errorf("exec row %d: %w", i, err)
		}
	}
	return nil
}
