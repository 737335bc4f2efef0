package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/agubarev/ztcp/pkg/keymaterial"
	"github.com/agubarev/ztcp/pkg/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultValidityDays is used whenever a non-positive validity is requested
const DefaultValidityDays = 365

// KeySource generates and retires identity key material
type KeySource interface {
	GenerateKeyPair(ctx context.Context, keyID string, alg keymaterial.Algorithm) (keymaterial.KeyPair, error)
	DeleteKey(ctx context.Context, keyID string) error
}

// Statistics is a read-only snapshot of the registry
type Statistics struct {
	Devices     int `json:"devices"`
	Active      int `json:"active"`
	Revoked     int `json:"revoked"`
	Generations int `json:"generations"`
}

// record holds the current identity of a device along with every
// superseded generation, guarded by its own lock
type record struct {
	current Identity
	history []Identity
	sync.RWMutex
}

// Manager is the device identity registry
type Manager struct {
	records      map[uuid.UUID]*record
	keys         KeySource
	validityDays int
	clock        func() time.Time
	logger       *zap.Logger
	sync.RWMutex
}

// NewManager initializes a new identity registry
func NewManager(keys KeySource) (*Manager, error) {
	if keys == nil {
		return nil, ErrNilKeySource
	}

	m := &Manager{
		records:      make(map[uuid.UUID]*record),
		keys:         keys,
		validityDays: DefaultValidityDays,
		clock:        time.Now,
	}

	return m, nil
}

// SetLogger assigns a logger to this manager
func (m *Manager) SetLogger(logger *zap.Logger) error {
	if logger != nil {
		logger = logger.Named("[identity]")
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

// SetClock replaces the time source
func (m *Manager) SetClock(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}

	m.Lock()
	m.clock = clock
	m.Unlock()
}

// SetDefaultValidity sets the validity used when a caller passes zero days
func (m *Manager) SetDefaultValidity(days int) {
	if days <= 0 {
		days = DefaultValidityDays
	}

	m.Lock()
	m.validityDays = days
	m.Unlock()
}

func (m *Manager) now() time.Time {
	m.RLock()
	defer m.RUnlock()

	return m.clock()
}

func (m *Manager) lookup(id uuid.UUID) *record {
	m.RLock()
	defer m.RUnlock()

	return m.records[id]
}

func (rec *record) empty() bool {
	return rec.current.Status == 0
}

// Create issues a new active identity for a device described by attrs
func (m *Manager) Create(ctx context.Context, attrs Attributes, validityDays int) (Identity, error) {
	if err := attrs.Validate(); err != nil {
		return Identity{}, err
	}

	id := GenerateDeviceID(attrs)

	// obtaining the record or registering an empty one
	m.Lock()
	rec, ok := m.records[id]
	if !ok {
		rec = &record{}
		m.records[id] = rec
	}
	m.Unlock()

	rec.Lock()
	defer rec.Unlock()

	// the live credential is never handed back to a conflicting caller
	if rec.current.IsActive() {
		return Identity{}, ErrIdentityConflict
	}

	// NOTE: a record that never got an identity stays empty and is
	// treated as unknown everywhere
	ident, err := m.issue(ctx, id, 1, validityDays)
	if err != nil {
		return Identity{}, errors.Wrap(err, "failed to issue identity")
	}

	// a revoked identity is retained for audit, superseded by fresh onboarding
	if rec.current.Status != 0 {
		rec.history = append(rec.history, rec.current)
	}

	rec.current = ident

	m.Logger().Info(
		"identity created",
		zap.String("device_id", id.String()),
		zap.String("fingerprint", ident.Fingerprint),
		zap.Time("expires_at", ident.ExpiresAt),
	)

	return ident, nil
}

// issue generates fresh key material and builds an active identity from it
func (m *Manager) issue(ctx context.Context, id uuid.UUID, generation uint32, validityDays int) (ident Identity, err error) {
	if validityDays <= 0 {
		m.RLock()
		validityDays = m.validityDays
		m.RUnlock()
	}

	keyID := fmt.Sprintf("identity/%s/%s", id, uuid.New())

	kp, err := m.keys.GenerateKeyPair(ctx, keyID, keymaterial.ECDSAP256)
	if err != nil {
		return ident, errors.Wrap(err, "failed to generate identity key pair")
	}

	now := m.now()
	expiresAt := now.AddDate(0, 0, validityDays)

	cert, err := signCertificate(id, kp, generation, now, expiresAt)
	if err != nil {
		m.retireKey(ctx, keyID)
		return ident, err
	}

	ident = Identity{
		DeviceID:    id,
		KeyID:       keyID,
		PublicKey:   kp.Public,
		Certificate: cert,
		Fingerprint: keymaterial.Fingerprint(kp.Public),
		Generation:  generation,
		Status:      StatusActive,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}

	return ident, nil
}

func (m *Manager) retireKey(ctx context.Context, keyID string) {
	if err := m.keys.DeleteKey(ctx, keyID); err != nil {
		m.Logger().Warn("failed to retire identity key", zap.String("key_id", keyID), zap.Error(err))
	}
}

// Verify reports whether a presented fingerprint proves the device's identity
// NOTE: unknown, revoked, expired and mismatching all yield the same false
func (m *Manager) Verify(ctx context.Context, id uuid.UUID, fingerprint string) bool {
	var current Identity

	rec := m.lookup(id)
	exists := rec != nil

	if exists {
		rec.RLock()
		current = rec.current
		rec.RUnlock()
	}

	active := current.Status == StatusActive
	matches := len(fingerprint) > 0 && subtle.ConstantTimeCompare([]byte(current.Fingerprint), []byte(fingerprint)) == 1
	notExpired := m.now().Before(current.ExpiresAt)

	return exists && active && matches && notExpired
}

// VerifyCertificate checks that a presented certificate is self-consistent
// and describes the device's current active identity
func (m *Manager) VerifyCertificate(ctx context.Context, cert string) (uuid.UUID, bool) {
	claims, publicKey, err := parseCertificate(cert)
	if err != nil {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, false
	}

	fingerprint := keymaterial.Fingerprint(publicKey)
	if claims.Fingerprint != fingerprint {
		return uuid.Nil, false
	}

	if !m.now().Before(time.Unix(claims.ExpiresAt, 0)) {
		return uuid.Nil, false
	}

	if !m.Verify(ctx, id, fingerprint) {
		return uuid.Nil, false
	}

	return id, true
}

// Revoke permanently revokes a device identity
// NOTE: returns false if it was already revoked
func (m *Manager) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	rec := m.lookup(id)
	if rec == nil {
		return false, ErrIdentityNotFound
	}

	rec.Lock()
	defer rec.Unlock()

	if rec.empty() {
		return false, ErrIdentityNotFound
	}

	if rec.current.Status == StatusRevoked {
		return false, nil
	}

	rec.current.Status = StatusRevoked
	rec.current.RevokedAt = m.now()

	// revoked key material is of no further use
	m.retireKey(ctx, rec.current.KeyID)

	m.Logger().Warn("identity revoked", zap.String("device_id", id.String()), zap.Uint32("generation", rec.current.Generation))

	return true, nil
}

// Rotation describes the outcome of a credential rotation
type Rotation struct {
	Previous Identity `json:"previous"`
	Current  Identity `json:"current"`
	Changed  []string `json:"changed"`
}

// Rotate replaces the key material of an active identity
// NOTE: the swap happens under the record lock, the old fingerprint stops
// verifying at the exact moment the new one starts
func (m *Manager) Rotate(ctx context.Context, id uuid.UUID, validityDays int) (r Rotation, err error) {
	rec := m.lookup(id)
	if rec == nil {
		return r, ErrIdentityNotFound
	}

	rec.Lock()
	defer rec.Unlock()

	if rec.empty() {
		return r, ErrIdentityNotFound
	}

	if !rec.current.IsActive() {
		return r, ErrIdentityRevoked
	}

	previous := rec.current

	next, err := m.issue(ctx, id, previous.Generation+1, validityDays)
	if err != nil {
		return r, errors.Wrap(err, "failed to issue rotated identity")
	}

	changed, err := rotationChangelog(previous, next)
	if err != nil {
		m.retireKey(ctx, next.KeyID)
		return r, err
	}

	rec.history = append(rec.history, previous)
	rec.current = next

	m.retireKey(ctx, previous.KeyID)

	m.Logger().Info(
		"identity rotated",
		zap.String("device_id", id.String()),
		zap.Uint32("generation", next.Generation),
		zap.Strings("changed", changed),
	)

	return Rotation{Previous: previous, Current: next, Changed: changed}, nil
}

// rotationView is the comparable surface of an identity
type rotationView struct {
	DeviceID    string `diff:"device_id"`
	KeyID       string `diff:"key_id"`
	Fingerprint string `diff:"fingerprint"`
	Certificate string `diff:"certificate"`
	Generation  uint32 `diff:"generation"`
	ExpiresAt   int64  `diff:"expires_at"`
}

func viewOf(i Identity) rotationView {
	return rotationView{
		DeviceID:    i.DeviceID.String(),
		KeyID:       i.KeyID,
		Fingerprint: i.Fingerprint,
		Certificate: i.Certificate,
		Generation:  i.Generation,
		ExpiresAt:   i.ExpiresAt.Unix(),
	}
}

// rotationProtected are the fields a rotation must never change
var rotationProtected = map[string]bool{"device_id": true}

// rotationChangelog lists the fields a rotation changed, refusing any
// change to the device id
func rotationChangelog(before, after Identity) ([]string, error) {
	changelog, err := util.ProtectedChangelog(rotationProtected, viewOf(before), viewOf(after))
	if err != nil {
		if errors.Cause(err) == util.ErrProtectedField {
			return nil, errors.Wrap(ErrProtectedFieldShift, err.Error())
		}

		return nil, errors.Wrap(err, "failed to compute rotation changelog")
	}

	changed := make([]string, 0, len(changelog))
	for _, c := range changelog {
		changed = append(changed, c.Path[0])
	}

	return changed, nil
}

// Identity returns the current identity of a device
func (m *Manager) Identity(ctx context.Context, id uuid.UUID) (Identity, error) {
	rec := m.lookup(id)
	if rec == nil {
		return Identity{}, ErrIdentityNotFound
	}

	rec.RLock()
	defer rec.RUnlock()

	if rec.empty() {
		return Identity{}, ErrIdentityNotFound
	}

	return rec.current, nil
}

// History returns every generation of a device identity, oldest first,
// ending with the current one
func (m *Manager) History(ctx context.Context, id uuid.UUID) ([]Identity, error) {
	rec := m.lookup(id)
	if rec == nil {
		return nil, ErrIdentityNotFound
	}

	rec.RLock()
	defer rec.RUnlock()

	if rec.empty() {
		return nil, ErrIdentityNotFound
	}

	hs := make([]Identity, 0, len(rec.history)+1)
	hs = append(hs, rec.history...)
	hs = append(hs, rec.current)

	return hs, nil
}

// Statistics returns identity counts
func (m *Manager) Statistics() Statistics {
	m.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.RUnlock()

	stats := Statistics{}

	for _, rec := range recs {
		rec.RLock()
		switch rec.current.Status {
		case StatusActive:
			stats.Active++
		case StatusRevoked:
			stats.Revoked++
		}

		if !rec.empty() {
			stats.Devices++
			stats.Generations += len(rec.history) + 1
		}
		rec.RUnlock()
	}

	return stats
}
