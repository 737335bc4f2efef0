package audit

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx"
	"github.com/jackc/pgx/log/zapadapter"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS audit_entries (
		sequence   BIGINT PRIMARY KEY,
		id         TEXT UNIQUE NOT NULL,
		timestamp  BIGINT NOT NULL,
		type       TEXT NOT NULL,
		device_id  TEXT NOT NULL DEFAULT '',
		details    TEXT NOT NULL DEFAULT '{}',
		prev_hash  TEXT NOT NULL,
		hash       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_entries_device_id ON audit_entries (device_id)`,
}

// PostgreSQLStore keeps entries in a PostgreSQL table
type PostgreSQLStore struct {
	db *pgx.Conn

	// pgx.Conn is not safe for concurrent use
	sync.Mutex
}

// OpenPostgreSQLStore connects to the database by DSN and migrates it
func OpenPostgreSQLStore(dsn string, logger *zap.Logger) (*PostgreSQLStore, error) {
	conf, err := pgx.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse DSN")
	}

	if logger != nil {
		conf.Logger = zapadapter.NewLogger(logger.Named("[postgres]"))
		conf.LogLevel = pgx.LogLevelWarn
	}

	conn, err := pgx.Connect(conf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to audit database")
	}

	s, err := NewPostgreSQLStore(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// NewPostgreSQLStore wraps an existing connection and migrates the schema
func NewPostgreSQLStore(conn *pgx.Conn) (*PostgreSQLStore, error) {
	if conn == nil {
		return nil, ErrNilDatabase
	}

	for _, stmt := range postgresMigrations {
		if _, err := conn.Exec(stmt); err != nil {
			return nil, errors.Wrap(err, "audit migration failed")
		}
	}

	return &PostgreSQLStore{db: conn}, nil
}

func (s *PostgreSQLStore) Append(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return errors.Wrap(err, "failed to encode audit details")
	}

	s.Lock()
	defer s.Unlock()

	tx, err := s.db.BeginEx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin audit transaction")
	}

	defer tx.Rollback()

	var last int64
	if err = tx.QueryRowEx(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM audit_entries`, nil).Scan(&last); err != nil {
		return errors.Wrap(err, "failed to read last audit sequence")
	}

	if uint64(last)+1 != e.Sequence {
		return ErrOutOfSequence
	}

	q := `
	INSERT INTO audit_entries(
		sequence,
		id,
		timestamp,
		type,
		device_id,
		details,
		prev_hash,
		hash)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = tx.ExecEx(
		ctx,
		q,
		nil,
		int64(e.Sequence),
		e.ID.String(),
		e.Timestamp.UnixNano(),
		string(e.Type),
		e.DeviceID,
		string(details),
		e.PrevHash,
		e.Hash,
	)

	if err != nil {
		return errors.Wrapf(err, "failed to insert audit entry %d", e.Sequence)
	}

	return tx.CommitEx(ctx)
}

func scanPostgresEntry(row scanner) (e Entry, err error) {
	var id, eventType, details string
	var seq, ts int64

	if err = row.Scan(&seq, &id, &ts, &eventType, &e.DeviceID, &details, &e.PrevHash, &e.Hash); err != nil {
		return e, err
	}

	if e.ID, err = ulid.Parse(id); err != nil {
		return e, errors.Wrapf(err, "malformed audit entry id %q", id)
	}

	if err = json.Unmarshal([]byte(details), &e.Details); err != nil {
		return e, errors.Wrap(err, "malformed audit details")
	}

	e.Sequence = uint64(seq)
	e.Type = EventType(eventType)
	e.Timestamp = time.Unix(0, ts).UTC()

	return e, nil
}

func (s *PostgreSQLStore) Entries(ctx context.Context) ([]Entry, error) {
	s.Lock()
	defer s.Unlock()

	rows, err := s.db.QueryEx(ctx, selectEntries+` ORDER BY sequence`, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}

	defer rows.Close()

	es := make([]Entry, 0)
	for rows.Next() {
		e, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, err
		}

		es = append(es, e)
	}

	return es, rows.Err()
}

func (s *PostgreSQLStore) Last(ctx context.Context) (Entry, bool, error) {
	s.Lock()
	defer s.Unlock()

	e, err := scanPostgresEntry(s.db.QueryRowEx(ctx, selectEntries+` ORDER BY sequence DESC LIMIT 1`, nil))
	switch err {
	case nil:
		return e, true, nil
	case pgx.ErrNoRows:
		return Entry{}, false, nil
	default:
		return Entry{}, false, errors.Wrap(err, "failed to query last audit entry")
	}
}

func (s *PostgreSQLStore) Close() error {
	s.Lock()
	defer s.Unlock()

	return s.db.Close()
}
