package audit

import (
	"context"
	"encoding/binary"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// entryPrefix is prepended to the big-endian sequence of each key
var entryPrefix = []byte("audit:")

func entryKey(sequence uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], sequence)

	return key
}

// BadgerStore keeps entries in a badger key-value database
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger routes badger's own logging through zap
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

// OpenBadgerStore opens or creates a badger database in dir
func OpenBadgerStore(dir string, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{logger.Named("[badger]").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open badger database at %s", dir)
	}

	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already opened database
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}

	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Append(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to encode audit entry")
	}

	return s.db.Update(func(tx *badger.Txn) error {
		key := entryKey(e.Sequence)

		// entries are never overwritten
		_, err := tx.Get(key)
		switch err {
		case nil:
			return ErrOutOfSequence
		case badger.ErrKeyNotFound:
		default:
			return errors.Wrapf(err, "failed to check audit entry %d", e.Sequence)
		}

		if e.Sequence > 1 {
			if _, err = tx.Get(entryKey(e.Sequence - 1)); err != nil {
				return ErrOutOfSequence
			}
		}

		if err = tx.Set(key, data); err != nil {
			return errors.Wrapf(err, "failed to store audit entry %d", e.Sequence)
		}

		return nil
	})
}

func (s *BadgerStore) Entries(ctx context.Context) ([]Entry, error) {
	es := make([]Entry, 0)

	err := s.db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			var e Entry

			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})

			if err != nil {
				return errors.Wrap(err, "failed to decode audit entry")
			}

			es = append(es, e)
		}

		return nil
	})

	return es, err
}

func (s *BadgerStore) Last(ctx context.Context) (e Entry, ok bool, err error) {
	err = s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		it := tx.NewIterator(opts)
		defer it.Close()

		// seeking past the largest possible key of the prefix
		it.Seek(append(append([]byte{}, entryPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
		if !it.ValidForPrefix(entryPrefix) {
			return nil
		}

		ok = true

		return it.Item().Value(func(val []byte) error {
			return errors.Wrap(json.Unmarshal(val, &e), "failed to decode last audit entry")
		})
	})

	return e, ok, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
