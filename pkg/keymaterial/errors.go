package keymaterial

import "github.com/pkg/errors"

// errors
var (
	ErrNilManager           = errors.New("key material manager is nil")
	ErrEmptyKeyID           = errors.New("key id is empty")
	ErrKeyExists            = errors.New("key id is already taken")
	ErrKeyNotFound          = errors.New("key not found")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrNilEntropy           = errors.New("entropy source is nil")
	ErrInvalidLength        = errors.New("requested length must be positive")
	ErrEmptySecret          = errors.New("secret is empty")
	ErrInvalidCiphertext    = errors.New("hybrid ciphertext is invalid")
	ErrMalformedKey         = errors.New("key material is malformed")
)
