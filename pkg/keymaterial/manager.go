package keymaterial

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/mlkem"
	"crypto/sha256"
	"crypto/x509"
	"io"
	"sync"
	"time"

	"github.com/agubarev/ztcp/pkg/util"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/curve25519"
)

// Statistics is a read-only snapshot of stored key material
type Statistics struct {
	Keys        int               `json:"keys"`
	ByAlgorithm map[Algorithm]int `json:"by_algorithm"`
}

// Manager generates and holds key material, signs and derives secrets
type Manager struct {
	keys    map[string]KeyPair
	entropy Entropy
	logger  *zap.Logger
	sync.RWMutex
}

// NewManager initializes a key material manager backed by the system CSPRNG
func NewManager() *Manager {
	return &Manager{
		keys:    make(map[string]KeyPair),
		entropy: SystemEntropy,
	}
}

// SetLogger assigns a logger to this manager
func (m *Manager) SetLogger(logger *zap.Logger) error {
	if logger != nil {
		logger = logger.Named("[keymaterial]")
	}

	m.logger = logger

	return nil
}

// Logger returns own logger
func (m *Manager) Logger() *zap.Logger {
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	return m.logger
}

// SetEntropy swaps the randomness source
func (m *Manager) SetEntropy(e Entropy) error {
	if e.Source == nil {
		return ErrNilEntropy
	}

	m.Lock()
	m.entropy = e
	m.Unlock()

	m.Logger().Info("entropy source changed", zap.String("source", e.Name))

	return nil
}

// Entropy returns the current randomness source
func (m *Manager) Entropy() Entropy {
	m.RLock()
	defer m.RUnlock()

	return m.entropy
}

// Random returns n bytes read from the current entropy source
func (m *Manager) Random(n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrInvalidLength
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(m.Entropy().Source, buf); err != nil {
		return nil, errors.Wrapf(err, "failed to read %d bytes of entropy", n)
	}

	return buf, nil
}

// GenerateKeyPair generates and stores a new key under a given key id
// NOTE: key ids are unique, an existing id is never overwritten
func (m *Manager) GenerateKeyPair(ctx context.Context, keyID string, alg Algorithm) (kp KeyPair, err error) {
	if kp, err = m.generate(keyID, alg); err != nil {
		return kp, err
	}

	m.Lock()
	if _, ok := m.keys[keyID]; ok {
		m.Unlock()
		return KeyPair{}, ErrKeyExists
	}
	m.keys[keyID] = kp
	m.Unlock()

	m.Logger().Debug("key generated", zap.String("key_id", keyID), zap.String("algorithm", alg.String()))

	return kp, nil
}

// generate produces a key pair without storing it
func (m *Manager) generate(keyID string, alg Algorithm) (kp KeyPair, err error) {
	if keyID == "" {
		return kp, ErrEmptyKeyID
	}

	switch alg {
	case ECDSAP256:
		kp.Public, kp.Private, err = m.generateECDSA()
	case X25519:
		kp.Public, kp.Private, err = m.generateX25519()
	case MLKEM768:
		kp.Public, kp.Private, err = m.generateMLKEM()
	default:
		return kp, errors.Wrapf(ErrUnsupportedAlgorithm, "cannot generate %q", alg)
	}

	if err != nil {
		return kp, errors.Wrapf(err, "failed to generate %s key", alg)
	}

	kp.KeyID = keyID
	kp.Algorithm = alg
	kp.Size = alg.KeySize()
	kp.CreatedAt = time.Now()

	return kp, nil
}

func (m *Manager) generateECDSA() (pub, priv []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), m.Entropy().Source)
	if err != nil {
		return nil, nil, err
	}

	if pub, err = x509.MarshalPKIXPublicKey(&key.PublicKey); err != nil {
		return nil, nil, err
	}

	if priv, err = x509.MarshalECPrivateKey(key); err != nil {
		return nil, nil, err
	}

	return pub, priv, nil
}

func (m *Manager) generateX25519() (pub, priv []byte, err error) {
	if priv, err = m.Random(curve25519.ScalarSize); err != nil {
		return nil, nil, err
	}

	if pub, err = curve25519.X25519(priv, curve25519.Basepoint); err != nil {
		return nil, nil, err
	}

	return pub, priv, nil
}

func (m *Manager) generateMLKEM() (pub, seed []byte, err error) {
	if seed, err = m.Random(mlkem.SeedSize); err != nil {
		return nil, nil, err
	}

	dk, err := mlkem.NewDecapsulationKey768(seed)
	if err != nil {
		return nil, nil, err
	}

	return dk.EncapsulationKey().Bytes(), seed, nil
}

// Key returns a stored key pair
func (m *Manager) Key(ctx context.Context, keyID string) (KeyPair, error) {
	m.RLock()
	kp, ok := m.keys[keyID]
	m.RUnlock()

	if !ok {
		return kp, ErrKeyNotFound
	}

	return kp, nil
}

// PublicKey returns only the public half of a stored key
func (m *Manager) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	kp, err := m.Key(ctx, keyID)
	if err != nil {
		return nil, err
	}

	return kp.Public, nil
}

// DeleteKey retires a stored key
func (m *Manager) DeleteKey(ctx context.Context, keyID string) error {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.keys[keyID]; !ok {
		return ErrKeyNotFound
	}

	delete(m.keys, keyID)

	return nil
}

// Sign signs SHA-256 of a message with a stored signing key,
// returning an ASN.1 DER signature
func (m *Manager) Sign(ctx context.Context, keyID string, message []byte) ([]byte, error) {
	kp, err := m.Key(ctx, keyID)
	if err != nil {
		return nil, err
	}

	if !kp.Algorithm.CanSign() {
		return nil, errors.Wrapf(ErrUnsupportedAlgorithm, "%s keys cannot sign", kp.Algorithm)
	}

	key, err := x509.ParseECPrivateKey(kp.Private)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedKey, err.Error())
	}

	digest := sha256.Sum256(message)

	sig, err := ecdsa.SignASN1(m.Entropy().Source, key, digest[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign message")
	}

	return sig, nil
}

// Verify checks an ASN.1 DER ECDSA signature against a SPKI DER public key
func (m *Manager) Verify(publicKey, message, signature []byte) bool {
	pub, err := x509.ParsePKIXPublicKey(publicKey)
	if err != nil {
		return false
	}

	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok || ecdsaPub.Curve != elliptic.P256() {
		return false
	}

	digest := sha256.Sum256(message)

	return ecdsa.VerifyASN1(ecdsaPub, digest[:], signature)
}

// Statistics returns counts of stored keys
func (m *Manager) Statistics() Statistics {
	m.RLock()
	defer m.RUnlock()

	stats := Statistics{
		Keys:        len(m.keys),
		ByAlgorithm: make(map[Algorithm]int),
	}

	for _, kp := range m.keys {
		stats.ByAlgorithm[kp.Algorithm]++
	}

	return stats
}

// Fingerprint is the hex SHA-256 of public key material
func Fingerprint(publicKey []byte) string {
	return util.HexSHA256(publicKey)
}
