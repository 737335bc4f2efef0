package identity

import "github.com/pkg/errors"

// errors
var (
	ErrNilManager          = errors.New("identity manager is nil")
	ErrNilKeySource        = errors.New("key source is nil")
	ErrIdentityNotFound    = errors.New("identity not found")
	ErrIdentityConflict    = errors.New("active identity already exists")
	ErrIdentityRevoked     = errors.New("identity is revoked")
	ErrEmptyAttributes     = errors.New("device attributes are empty")
	ErrInvalidAttribute    = errors.New("device attribute is invalid")
	ErrInvalidCertificate  = errors.New("certificate is invalid")
	ErrProtectedFieldShift = errors.New("protected identity field has changed")
)
