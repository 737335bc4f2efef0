package trust

import "github.com/pkg/errors"

// errors
var (
	ErrNilManager         = errors.New("trust manager is nil")
	ErrNilVerifier        = errors.New("identity verifier is nil")
	ErrVerificationFailed = errors.New("identity verification failed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionInactive    = errors.New("session is not active")
	ErrInvalidScoring     = errors.New("invalid scoring configuration")
	ErrUnknownLevel       = errors.New("unknown trust level")
)
