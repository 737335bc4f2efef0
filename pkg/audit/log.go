package audit

import (
	"context"
	"sync"
	"time"

	"github.com/agubarev/ztcp/pkg/util"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Log is an append-only hash-chained audit log
type Log struct {
	store    Store
	sequence uint64
	lastHash string
	clock    func() time.Time
	logger   *zap.Logger
	sync.Mutex
}

// NewLog initializes a log on top of a store, resuming from its last entry
func NewLog(ctx context.Context, store Store) (*Log, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	l := &Log{
		store:    store,
		lastHash: GenesisHash,
		clock:    time.Now,
	}

	last, ok, err := store.Last(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resume audit log")
	}

	if ok {
		l.sequence = last.Sequence
		l.lastHash = last.Hash
	}

	return l, nil
}

// SetLogger assigns a logger to this log
func (l *Log) SetLogger(logger *zap.Logger) error {
	if logger != nil {
		logger = logger.Named("[audit]")
	}

	l.logger = logger

	return nil
}

// Logger returns own logger
func (l *Log) Logger() *zap.Logger {
	if l.logger == nil {
		l.logger = zap.NewNop()
	}

	return l.logger
}

// SetClock replaces the time source
func (l *Log) SetClock(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}

	l.Lock()
	l.clock = clock
	l.Unlock()
}

// Append chains a new event onto the log
func (l *Log) Append(ctx context.Context, eventType EventType, deviceID string, details map[string]string) (Entry, error) {
	if eventType == "" {
		return Entry{}, ErrEmptyEventType
	}

	// detaching from the caller's map
	ds := make(map[string]string, len(details))
	for k, v := range details {
		ds[k] = v
	}

	l.Lock()
	defer l.Unlock()

	now := l.clock().UTC()

	e := Entry{
		ID:        util.NewULID(now),
		Sequence:  l.sequence + 1,
		Timestamp: now,
		Type:      eventType,
		DeviceID:  deviceID,
		Details:   ds,
		PrevHash:  l.lastHash,
	}

	hash, err := e.ComputeHash()
	if err != nil {
		return Entry{}, err
	}

	e.Hash = hash

	if err = l.store.Append(ctx, e); err != nil {
		return Entry{}, errors.Wrapf(err, "failed to append audit entry %d", e.Sequence)
	}

	l.sequence = e.Sequence
	l.lastHash = e.Hash

	l.Logger().Debug(
		"audit entry appended",
		zap.Uint64("sequence", e.Sequence),
		zap.String("type", string(e.Type)),
		zap.String("device_id", deviceID),
	)

	return e, nil
}

// Entries returns every stored entry, ordered by sequence
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	return l.store.Entries(ctx)
}

// Len returns the number of appended entries
func (l *Log) Len() uint64 {
	l.Lock()
	defer l.Unlock()

	return l.sequence
}

// Verify recomputes the whole chain
func (l *Log) Verify(ctx context.Context) error {
	es, err := l.store.Entries(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load audit entries")
	}

	if err = VerifyChain(es); err != nil {
		l.Logger().Error("audit chain verification failed", zap.Error(err))
		return err
	}

	return nil
}

// VerifyChain checks sequence continuity, hash linkage and each entry's
// own hash, starting from the genesis hash
func VerifyChain(es []Entry) error {
	prev := GenesisHash

	for i, e := range es {
		if e.Sequence != uint64(i)+1 {
			return errors.Wrapf(ErrChainBroken, "sequence %d found at position %d", e.Sequence, i+1)
		}

		if e.PrevHash != prev {
			return errors.Wrapf(ErrChainBroken, "sequence %d: previous hash mismatch", e.Sequence)
		}

		hash, err := e.ComputeHash()
		if err != nil {
			return err
		}

		if hash != e.Hash {
			return errors.Wrapf(ErrChainBroken, "sequence %d: hash mismatch", e.Sequence)
		}

		prev = e.Hash
	}

	return nil
}

// Open builds a store for the named backend
func Open(backend, path string, logger *zap.Logger) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		s, err := OpenBadgerStore(path, logger)
		if err != nil {
			return nil, err
		}

		return s, nil
	case "sqlite":
		s, err := OpenSQLiteStore(path)
		if err != nil {
			return nil, err
		}

		return s, nil
	case "postgres":
		s, err := OpenPostgreSQLStore(path, logger)
		if err != nil {
			return nil, err
		}

		return s, nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", backend)
	}
}
