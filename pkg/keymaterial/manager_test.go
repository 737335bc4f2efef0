package keymaterial_test

import (
	"bytes"
	"context"
	"crypto/mlkem"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/agubarev/ztcp/pkg/keymaterial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m := keymaterial.NewManager()

	for _, alg := range []keymaterial.Algorithm{keymaterial.ECDSAP256, keymaterial.X25519, keymaterial.MLKEM768} {
		kp, err := m.GenerateKeyPair(ctx, "key/"+alg.String(), alg)
		a.NoError(err)
		a.Equal(alg, kp.Algorithm)
		a.Equal(alg.KeySize(), kp.Size)
		a.NotEmpty(kp.Public)
		a.NotEmpty(kp.Private)
	}

	a.Equal(256, keymaterial.ECDSAP256.KeySize())
	a.Equal(256, keymaterial.X25519.KeySize())
	a.Equal(768, keymaterial.MLKEM768.KeySize())

	// duplicate key id
	_, err := m.GenerateKeyPair(ctx, "key/ecdsa-p256", keymaterial.ECDSAP256)
	a.ErrorIs(err, keymaterial.ErrKeyExists)

	// unknown algorithm
	_, err = m.GenerateKeyPair(ctx, "key/rsa", keymaterial.Algorithm("rsa-1024"))
	a.ErrorIs(err, keymaterial.ErrUnsupportedAlgorithm)

	// empty key id
	_, err = m.GenerateKeyPair(ctx, "", keymaterial.ECDSAP256)
	a.ErrorIs(err, keymaterial.ErrEmptyKeyID)

	// distinct key ids never share material
	k1, err := m.GenerateKeyPair(ctx, "device/1", keymaterial.ECDSAP256)
	a.NoError(err)
	k2, err := m.GenerateKeyPair(ctx, "device/2", keymaterial.ECDSAP256)
	a.NoError(err)
	a.NotEqual(k1.Public, k2.Public)

	stats := m.Statistics()
	a.Equal(5, stats.Keys)
	a.Equal(3, stats.ByAlgorithm[keymaterial.ECDSAP256])
	a.Equal(1, stats.ByAlgorithm[keymaterial.MLKEM768])
}

func TestRandomAndEntropy(t *testing.T) {
	a := assert.New(t)

	m := keymaterial.NewManager()
	a.Equal("crypto/rand", m.Entropy().Name)

	buf, err := m.Random(32)
	a.NoError(err)
	a.Len(buf, 32)

	_, err = m.Random(0)
	a.Equal(keymaterial.ErrInvalidLength, err)

	// swapping the source
	fixed := bytes.Repeat([]byte{0x42}, 64)
	a.NoError(m.SetEntropy(keymaterial.Entropy{Name: "fixed", Source: bytes.NewReader(fixed)}))
	a.Equal("fixed", m.Entropy().Name)

	buf, err = m.Random(16)
	a.NoError(err)
	a.Equal(bytes.Repeat([]byte{0x42}, 16), buf)

	a.Equal(keymaterial.ErrNilEntropy, m.SetEntropy(keymaterial.Entropy{Name: "nil"}))

	// exhausted source surfaces as an error
	_, err = m.Random(64)
	a.Error(err)
}

func TestSignAndVerify(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m := keymaterial.NewManager()

	kp, err := m.GenerateKeyPair(ctx, "signer", keymaterial.ECDSAP256)
	require.NoError(t, err)

	msg := []byte("device telemetry frame")

	sig, err := m.Sign(ctx, "signer", msg)
	a.NoError(err)
	a.True(m.Verify(kp.Public, msg, sig))

	// tampered message and foreign key
	a.False(m.Verify(kp.Public, []byte("device telemetry framE"), sig))

	other, err := m.GenerateKeyPair(ctx, "other", keymaterial.ECDSAP256)
	require.NoError(t, err)
	a.False(m.Verify(other.Public, msg, sig))

	// garbage public key
	a.False(m.Verify([]byte("not a key"), msg, sig))

	// non-signing algorithms
	_, err = m.GenerateKeyPair(ctx, "kex", keymaterial.X25519)
	require.NoError(t, err)
	_, err = m.Sign(ctx, "kex", msg)
	a.ErrorIs(err, keymaterial.ErrUnsupportedAlgorithm)

	_, err = m.Sign(ctx, "missing", msg)
	a.Equal(keymaterial.ErrKeyNotFound, err)
}

func TestHybridKeyExchange(t *testing.T) {
	a := assert.New(t)

	m := keymaterial.NewManager()

	classical := bytes.Repeat([]byte{1}, 32)
	alternative := bytes.Repeat([]byte{2}, 32)

	shared, ephemeral, err := m.HybridKeyExchange(classical, alternative)
	a.NoError(err)
	a.Len(shared, keymaterial.SharedSecretSize)
	a.Len(ephemeral, keymaterial.SharedSecretSize)

	// the output differs from either input
	a.NotEqual(classical, shared)
	a.NotEqual(alternative, shared)

	// a fresh exchange uses fresh salt
	shared2, ephemeral2, err := m.HybridKeyExchange(classical, alternative)
	a.NoError(err)
	a.NotEqual(ephemeral, ephemeral2)
	a.NotEqual(shared, shared2)

	_, _, err = m.HybridKeyExchange(nil, alternative)
	a.Equal(keymaterial.ErrEmptySecret, err)

	_, _, err = m.HybridKeyExchange(classical, nil)
	a.Equal(keymaterial.ErrEmptySecret, err)
}

func TestHybridIdentityRoundTrip(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m := keymaterial.NewManager()

	hi, err := m.CreateHybridIdentity(ctx, "gateway-7")
	require.NoError(t, err)
	a.Equal(keymaterial.Hybrid, hi.Algorithm)
	a.Len(hi.ClassicalPublicKey, 32)
	a.Len(hi.AlternativePublicKey, 1184)

	// duplicate bundle
	_, err = m.CreateHybridIdentity(ctx, "gateway-7")
	a.Error(err)

	stored, err := m.HybridIdentity(ctx, "gateway-7")
	a.NoError(err)
	a.Equal(hi, stored)

	ct, shared, err := m.Encapsulate(hi.ClassicalPublicKey, hi.AlternativePublicKey)
	require.NoError(t, err)

	recovered, err := m.Decapsulate(ctx, "gateway-7", ct)
	a.NoError(err)
	a.Equal(shared, recovered)

	// another identity derives something else
	_, err = m.CreateHybridIdentity(ctx, "gateway-8")
	require.NoError(t, err)

	wrong, err := m.Decapsulate(ctx, "gateway-8", ct)
	if err == nil {
		a.NotEqual(shared, wrong)
	}

	_, err = m.Decapsulate(ctx, "gateway-7", keymaterial.HybridCiphertext{})
	a.Equal(keymaterial.ErrInvalidCiphertext, err)

	a.NoError(m.DeleteHybridIdentity(ctx, "gateway-7"))
	_, err = m.HybridIdentity(ctx, "gateway-7")
	a.Equal(keymaterial.ErrKeyNotFound, err)
}

// seedFailingReader fails every read of exactly size bytes
type seedFailingReader struct {
	size int
}

func (r seedFailingReader) Read(p []byte) (int, error) {
	if len(p) == r.size {
		return 0, errors.New("entropy exhausted")
	}

	return rand.Read(p)
}

func TestPreparedHybridIdentityReplacesAtOnce(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m := keymaterial.NewManager()

	original, err := m.CreateHybridIdentity(ctx, "gateway-9")
	require.NoError(t, err)

	// a failed preparation stores nothing and keeps the current bundle
	require.NoError(t, m.SetEntropy(keymaterial.Entropy{Name: "failing", Source: seedFailingReader{size: mlkem.SeedSize}}))

	_, err = m.PrepareHybridIdentity(ctx, "gateway-9")
	a.Error(err)

	stored, err := m.HybridIdentity(ctx, "gateway-9")
	a.NoError(err)
	a.Equal(original, stored)

	require.NoError(t, m.SetEntropy(keymaterial.SystemEntropy))

	pending, err := m.PrepareHybridIdentity(ctx, "gateway-9")
	require.NoError(t, err)

	// nothing changes until commit
	stored, err = m.HybridIdentity(ctx, "gateway-9")
	a.NoError(err)
	a.Equal(original, stored)

	replaced, err := m.CommitHybridIdentity(ctx, pending)
	require.NoError(t, err)
	a.Equal(pending.Identity(), replaced)
	a.NotEqual(original.ClassicalPublicKey, replaced.ClassicalPublicKey)
	a.NotEqual(original.AlternativePublicKey, replaced.AlternativePublicKey)

	stored, err = m.HybridIdentity(ctx, "gateway-9")
	a.NoError(err)
	a.Equal(replaced, stored)

	_, err = m.CommitHybridIdentity(ctx, keymaterial.PendingHybrid{})
	a.Equal(keymaterial.ErrEmptyKeyID, err)
}

func TestFingerprint(t *testing.T) {
	a := assert.New(t)

	fp := keymaterial.Fingerprint([]byte("public"))
	a.Len(fp, 64)
	a.Equal(fp, keymaterial.Fingerprint([]byte("public")))
	a.NotEqual(fp, keymaterial.Fingerprint([]byte("Public")))
}
