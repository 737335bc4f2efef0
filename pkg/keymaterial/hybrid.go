package keymaterial

import (
	"context"
	"crypto/mlkem"
	"crypto/sha512"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// SharedSecretSize is the length of every derived hybrid secret
const SharedSecretSize = 32

// hybridInfo binds derived secrets to this construction
var hybridInfo = []byte("ztcp-hybrid-kex-v1")

// HybridKeyExchange mixes two independently sourced secrets into one
// shared secret, returning it along with the random salt used
// NOTE: the output is one-way and requires both inputs, knowing either
// secret alone gives nothing
func (m *Manager) HybridKeyExchange(classicalSecret, alternativeSecret []byte) (shared, ephemeral []byte, err error) {
	if len(classicalSecret) == 0 || len(alternativeSecret) == 0 {
		return nil, nil, ErrEmptySecret
	}

	if ephemeral, err = m.Random(SharedSecretSize); err != nil {
		return nil, nil, err
	}

	if shared, err = deriveHybridSecret(classicalSecret, alternativeSecret, ephemeral); err != nil {
		return nil, nil, err
	}

	return shared, ephemeral, nil
}

// deriveHybridSecret is HKDF-SHA-512 over classical || alternative
func deriveHybridSecret(classicalSecret, alternativeSecret, salt []byte) ([]byte, error) {
	ikm := make([]byte, 0, len(classicalSecret)+len(alternativeSecret))
	ikm = append(ikm, classicalSecret...)
	ikm = append(ikm, alternativeSecret...)

	shared := make([]byte, SharedSecretSize)
	if _, err := io.ReadFull(hkdf.New(sha512.New, ikm, salt, hybridInfo), shared); err != nil {
		return nil, errors.Wrap(err, "failed to derive hybrid secret")
	}

	return shared, nil
}

// PendingHybrid is a generated hybrid identity that is not stored yet
type PendingHybrid struct {
	id          string
	classical   KeyPair
	alternative KeyPair
}

// Identity returns the public bundle of a pending hybrid identity
func (p PendingHybrid) Identity() HybridIdentity {
	return HybridIdentity{
		ID:                   p.id,
		ClassicalPublicKey:   p.classical.Public,
		AlternativePublicKey: p.alternative.Public,
		Algorithm:            Hybrid,
	}
}

// PrepareHybridIdentity generates both halves of a hybrid identity
// without storing anything, a failure leaves stored material untouched
func (m *Manager) PrepareHybridIdentity(ctx context.Context, id string) (p PendingHybrid, err error) {
	if id == "" {
		return p, ErrEmptyKeyID
	}

	if p.classical, err = m.generate(classicalKeyID(id), X25519); err != nil {
		return p, errors.Wrap(err, "failed to generate classical half")
	}

	if p.alternative, err = m.generate(alternativeKeyID(id), MLKEM768); err != nil {
		return p, errors.Wrap(err, "failed to generate alternative half")
	}

	p.id = id

	return p, nil
}

// CommitHybridIdentity stores a prepared hybrid identity, replacing both
// halves of any previous bundle under the same id at once
func (m *Manager) CommitHybridIdentity(ctx context.Context, p PendingHybrid) (HybridIdentity, error) {
	if p.id == "" {
		return HybridIdentity{}, ErrEmptyKeyID
	}

	m.Lock()
	m.keys[p.classical.KeyID] = p.classical
	m.keys[p.alternative.KeyID] = p.alternative
	m.Unlock()

	m.Logger().Debug("hybrid identity committed", zap.String("id", p.id))

	return p.Identity(), nil
}

// CreateHybridIdentity generates a classical and an alternative-scheme key
// pair under a single logical id
// NOTE: the bundle is all or nothing, an existing id is never overwritten
func (m *Manager) CreateHybridIdentity(ctx context.Context, id string) (hi HybridIdentity, err error) {
	p, err := m.PrepareHybridIdentity(ctx, id)
	if err != nil {
		return hi, err
	}

	m.Lock()
	_, classicalExists := m.keys[p.classical.KeyID]
	_, alternativeExists := m.keys[p.alternative.KeyID]

	if classicalExists || alternativeExists {
		m.Unlock()
		return hi, ErrKeyExists
	}

	m.keys[p.classical.KeyID] = p.classical
	m.keys[p.alternative.KeyID] = p.alternative
	m.Unlock()

	return p.Identity(), nil
}

// HybridIdentity reassembles the public bundle of a stored hybrid identity
func (m *Manager) HybridIdentity(ctx context.Context, id string) (hi HybridIdentity, err error) {
	classical, err := m.Key(ctx, classicalKeyID(id))
	if err != nil {
		return hi, err
	}

	alternative, err := m.Key(ctx, alternativeKeyID(id))
	if err != nil {
		return hi, err
	}

	hi = HybridIdentity{
		ID:                   id,
		ClassicalPublicKey:   classical.Public,
		AlternativePublicKey: alternative.Public,
		Algorithm:            Hybrid,
	}

	return hi, nil
}

// DeleteHybridIdentity removes both halves of a hybrid identity
func (m *Manager) DeleteHybridIdentity(ctx context.Context, id string) error {
	errClassical := m.DeleteKey(ctx, classicalKeyID(id))
	errAlternative := m.DeleteKey(ctx, alternativeKeyID(id))

	if errClassical != nil {
		return errClassical
	}

	return errAlternative
}

// Encapsulate derives a fresh shared secret towards a hybrid identity's
// public bundle, returning the ciphertext its holder needs to recover it
func (m *Manager) Encapsulate(classicalPublic, alternativePublic []byte) (ct HybridCiphertext, shared []byte, err error) {
	scalar, err := m.Random(curve25519.ScalarSize)
	if err != nil {
		return ct, nil, err
	}

	ephemeralPublic, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return ct, nil, errors.Wrap(err, "failed to compute ephemeral public key")
	}

	classicalSecret, err := curve25519.X25519(scalar, classicalPublic)
	if err != nil {
		return ct, nil, errors.Wrap(ErrMalformedKey, err.Error())
	}

	ek, err := mlkem.NewEncapsulationKey768(alternativePublic)
	if err != nil {
		return ct, nil, errors.Wrap(ErrMalformedKey, err.Error())
	}

	alternativeSecret, kemCiphertext := ek.Encapsulate()

	shared, salt, err := m.HybridKeyExchange(classicalSecret, alternativeSecret)
	if err != nil {
		return ct, nil, err
	}

	ct = HybridCiphertext{
		EphemeralPublic: ephemeralPublic,
		KEMCiphertext:   kemCiphertext,
		Salt:            salt,
	}

	return ct, shared, nil
}

// Decapsulate recovers the shared secret of a hybrid ciphertext using the
// private halves of a stored hybrid identity
func (m *Manager) Decapsulate(ctx context.Context, hybridID string, ct HybridCiphertext) ([]byte, error) {
	if len(ct.EphemeralPublic) == 0 || len(ct.KEMCiphertext) == 0 || len(ct.Salt) == 0 {
		return nil, ErrInvalidCiphertext
	}

	classical, err := m.Key(ctx, classicalKeyID(hybridID))
	if err != nil {
		return nil, err
	}

	alternative, err := m.Key(ctx, alternativeKeyID(hybridID))
	if err != nil {
		return nil, err
	}

	classicalSecret, err := curve25519.X25519(classical.Private, ct.EphemeralPublic)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCiphertext, err.Error())
	}

	dk, err := mlkem.NewDecapsulationKey768(alternative.Private)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedKey, err.Error())
	}

	alternativeSecret, err := dk.Decapsulate(ct.KEMCiphertext)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCiphertext, err.Error())
	}

	return deriveHybridSecret(classicalSecret, alternativeSecret, ct.Salt)
}
