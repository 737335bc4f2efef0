package keymaterial

import (
	"crypto/rand"
	"io"
	"time"
)

// Algorithm is a key algorithm tag
type Algorithm string

// supported algorithms
const (
	// ECDSAP256 is the classical signing scheme used for device identities
	ECDSAP256 Algorithm = "ecdsa-p256"

	// X25519 is the classical key agreement half of a hybrid identity
	X25519 Algorithm = "x25519"

	// MLKEM768 is the alternative-scheme KEM half of a hybrid identity
	MLKEM768 Algorithm = "ml-kem-768"

	// Hybrid tags a bundle of X25519 and ML-KEM-768 keys
	Hybrid Algorithm = "x25519+ml-kem-768"
)

// KeySize returns the deterministic key size for an algorithm tag,
// zero means the tag is not a generatable algorithm
func (alg Algorithm) KeySize() int {
	switch alg {
	case ECDSAP256, X25519:
		return 256
	case MLKEM768:
		return 768
	default:
		return 0
	}
}

// CanSign tells whether keys of this algorithm produce signatures
func (alg Algorithm) CanSign() bool {
	return alg == ECDSAP256
}

func (alg Algorithm) String() string {
	return string(alg)
}

// KeyPair is a generated key along with its metadata
//   - ecdsa-p256: Public is SPKI DER, Private is SEC1 DER
//   - x25519: Public and Private are raw 32 byte values
//   - ml-kem-768: Public is the encapsulation key, Private is the 64 byte seed
type KeyPair struct {
	KeyID     string    `json:"key_id"`
	Algorithm Algorithm `json:"algorithm"`
	Public    []byte    `json:"public"`
	Private   []byte    `json:"-"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// HybridIdentity bundles a classical and an alternative-scheme key
// under one logical id
type HybridIdentity struct {
	ID                   string    `json:"id"`
	ClassicalPublicKey   []byte    `json:"classical_public_key"`
	AlternativePublicKey []byte    `json:"alternative_public_key"`
	Algorithm            Algorithm `json:"algorithm"`
}

// HybridCiphertext is what an initiator sends to the holder of a hybrid
// identity so that both sides end up with the same shared secret
type HybridCiphertext struct {
	EphemeralPublic []byte `json:"ephemeral_public"`
	KEMCiphertext   []byte `json:"kem_ciphertext"`
	Salt            []byte `json:"salt"`
}

// Entropy is a named randomness source
type Entropy struct {
	Name   string
	Source io.Reader
}

// SystemEntropy is the operating system CSPRNG
var SystemEntropy = Entropy{
	Name:   "crypto/rand",
	Source: rand.Reader,
}

func classicalKeyID(hybridID string) string {
	return hybridID + "/classical"
}

func alternativeKeyID(hybridID string) string {
	return hybridID + "/alternative"
}
