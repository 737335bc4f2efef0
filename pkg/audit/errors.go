package audit

import "github.com/pkg/errors"

// errors
var (
	ErrNilStore       = errors.New("audit store is nil")
	ErrNilDatabase    = errors.New("audit database is nil")
	ErrChainBroken    = errors.New("audit chain is broken")
	ErrEmptyEventType = errors.New("audit event type is empty")
	ErrUnknownBackend = errors.New("unknown audit backend")
	ErrOutOfSequence  = errors.New("audit entry is out of sequence")
)
