package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// migrations are applied in order on open, each one is idempotent
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS audit_entries (
		sequence   INTEGER PRIMARY KEY,
		id         TEXT UNIQUE NOT NULL,
		timestamp  INTEGER NOT NULL,
		type       TEXT NOT NULL,
		device_id  TEXT NOT NULL DEFAULT '',
		details    TEXT NOT NULL DEFAULT '{}',
		prev_hash  TEXT NOT NULL,
		hash       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_entries_device_id ON audit_entries (device_id)`,
}

// SQLiteStore keeps entries in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates a SQLite database at path and migrates it
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open audit database")
	}

	// single writer
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "audit migration failed")
		}
	}

	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return errors.Wrap(err, "failed to encode audit details")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin audit transaction")
	}

	defer tx.Rollback()

	var last uint64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM audit_entries`).Scan(&last); err != nil {
		return errors.Wrap(err, "failed to read last audit sequence")
	}

	if last+1 != e.Sequence {
		return ErrOutOfSequence
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO audit_entries (sequence, id, timestamp, type, device_id, details, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Sequence, e.ID.String(), e.Timestamp.UnixNano(), string(e.Type), e.DeviceID, string(details), e.PrevHash, e.Hash,
	)

	if err != nil {
		return errors.Wrapf(err, "failed to insert audit entry %d", e.Sequence)
	}

	return tx.Commit()
}

const selectEntries = `SELECT sequence, id, timestamp, type, device_id, details, prev_hash, hash FROM audit_entries`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (e Entry, err error) {
	var id, eventType, details string
	var ts int64

	if err = row.Scan(&e.Sequence, &id, &ts, &eventType, &e.DeviceID, &details, &e.PrevHash, &e.Hash); err != nil {
		return e, err
	}

	if e.ID, err = ulid.Parse(id); err != nil {
		return e, errors.Wrapf(err, "malformed audit entry id %q", id)
	}

	if err = json.Unmarshal([]byte(details), &e.Details); err != nil {
		return e, errors.Wrap(err, "malformed audit details")
	}

	e.Type = EventType(eventType)
	e.Timestamp = time.Unix(0, ts).UTC()

	return e, nil
}

func (s *SQLiteStore) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntries+` ORDER BY sequence`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}

	defer rows.Close()

	es := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}

		es = append(es, e)
	}

	return es, rows.Err()
}

func (s *SQLiteStore) Last(ctx context.Context) (Entry, bool, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectEntries+` ORDER BY sequence DESC LIMIT 1`))
	switch err {
	case nil:
		return e, true, nil
	case sql.ErrNoRows:
		return Entry{}, false, nil
	default:
		return Entry{}, false, errors.Wrap(err, "failed to query last audit entry")
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
