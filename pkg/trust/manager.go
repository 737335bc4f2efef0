package trust

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Verifier proves a device identity before a session may be opened
type Verifier interface {
	Verify(ctx context.Context, deviceID uuid.UUID, fingerprint string) bool
}

// Statistics is a read-only snapshot of the session table
type Statistics struct {
	Sessions             int            `json:"sessions"`
	Active               int            `json:"active"`
	Terminated           int            `json:"terminated"`
	Expired              int            `json:"expired"`
	ByLevel              map[string]int `json:"by_level"`
	SuspiciousActivities int            `json:"suspicious_activities"`
}

// Manager owns every session and its trust score
type Manager struct {
	sessions map[uuid.UUID]*Session
	byDevice map[uuid.UUID][]uuid.UUID
	verifier Verifier
	scoring  Scoring
	clock    func() time.Time
	logger   *zap.Logger
	sync.RWMutex
}

// NewManager initializes a session manager gated by the given verifier
func NewManager(v Verifier, scoring Scoring) (*Manager, error) {
	if v == nil {
		return nil, ErrNilVerifier
	}

	if err := scoring.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		sessions: make(map[uuid.UUID]*Session),
		byDevice: make(map[uuid.UUID][]uuid.UUID),
		verifier: v,
		scoring:  scoring,
		clock:    time.Now,
	}

	return m, nil
}

// SetLogger assigns a logger to this manager
func (m *Manager) SetLogger(logger *zap.Logger) error {
	if logger != nil {
		logger = logger.Named("[trust]")
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

// Scoring returns the current trust model
func (m *Manager) Scoring() Scoring {
	m.RLock()
	defer m.RUnlock()

	return m.scoring
}

// SetScoring replaces the trust model
// NOTE: levels are always derived on read, so every open session is
// reclassified by the new thresholds immediately
func (m *Manager) SetScoring(scoring Scoring) error {
	if err := scoring.Validate(); err != nil {
		return err
	}

	m.Lock()
	m.scoring = scoring
	m.Unlock()

	m.Logger().Info(
		"scoring changed",
		zap.Float64("full", scoring.Thresholds.Full),
		zap.Float64("high", scoring.Thresholds.High),
		zap.Float64("medium", scoring.Thresholds.Medium),
		zap.Float64("low", scoring.Thresholds.Low),
	)

	return nil
}

// Open verifies the device and opens a fresh full-trust session for it
// NOTE: verification and insertion happen under the manager lock, so a
// concurrent TerminateAllFor for the same device is either before or after
func (m *Manager) Open(ctx context.Context, deviceID uuid.UUID, fingerprint string) (Session, error) {
	m.Lock()
	defer m.Unlock()

	if !m.verifier.Verify(ctx, deviceID, fingerprint) {
		return Session{}, ErrVerificationFailed
	}

	now := m.clock()

	s := &Session{
		ID:          uuid.New(),
		DeviceID:    deviceID,
		Fingerprint: fingerprint,
		OpenedAt:    now,
		ExpiresAt:   now.Add(m.scoring.SessionTTL),
		Score:       MaxScore,
		Status:      StatusActive,
	}

	m.sessions[s.ID] = s
	m.byDevice[deviceID] = append(m.byDevice[deviceID], s.ID)

	m.Logger().Info(
		"session opened",
		zap.String("session_id", s.ID.String()),
		zap.String("device_id", deviceID.String()),
		zap.Time("expires_at", s.ExpiresAt),
	)

	return *s, nil
}

// UpdateTrust applies one observed operation outcome to a session score
func (m *Manager) UpdateTrust(ctx context.Context, sessionID uuid.UUID, latency time.Duration, success bool) (Session, error) {
	m.Lock()
	defer m.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	now := m.clock()

	if s.Status == StatusActive && !now.Before(s.ExpiresAt) {
		s.terminate(now, ReasonExpired)
	}

	if s.Status != StatusActive {
		return *s, ErrSessionInactive
	}

	//---------------------------------------------------------------------------
	// counters
	//---------------------------------------------------------------------------
	s.Metrics.RequestCount++
	if !success {
		s.Metrics.FailureCount++
	}

	//---------------------------------------------------------------------------
	// scoring
	//---------------------------------------------------------------------------
	score, suspicious := m.scoring.adjust(s.Score, latency, success)
	if suspicious {
		s.Metrics.SuspiciousActivities++

		m.Logger().Warn(
			"suspicious activity",
			zap.String("session_id", s.ID.String()),
			zap.String("device_id", s.DeviceID.String()),
			zap.Duration("latency", latency),
		)
	}

	s.Score = score

	return *s, nil
}

// TrustLevel classifies the current score of a session
func (m *Manager) TrustLevel(ctx context.Context, sessionID uuid.UUID) (Level, error) {
	m.RLock()
	defer m.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return LevelNone, ErrSessionNotFound
	}

	return m.scoring.Thresholds.Classify(s.Score), nil
}

// Verify tells whether a session is active and unexpired
// NOTE: has no side effect, verifying never extends a session
func (m *Manager) Verify(ctx context.Context, sessionID uuid.UUID) bool {
	m.RLock()
	defer m.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}

	return s.IsActive(m.clock())
}

// Terminate ends a session
// NOTE: returns false if it was already terminated
func (m *Manager) Terminate(ctx context.Context, sessionID uuid.UUID, reason string) (bool, error) {
	m.Lock()
	defer m.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return false, ErrSessionNotFound
	}

	if s.Status == StatusTerminated {
		return false, nil
	}

	if reason == "" {
		reason = ReasonClosed
	}

	s.terminate(m.clock(), reason)

	m.Logger().Info(
		"session terminated",
		zap.String("session_id", s.ID.String()),
		zap.String("reason", reason),
	)

	return true, nil
}

// TerminateAllFor ends every non-terminated session of a device and
// returns how many were ended
func (m *Manager) TerminateAllFor(ctx context.Context, deviceID uuid.UUID, reason string) int {
	m.Lock()
	defer m.Unlock()

	if reason == "" {
		reason = ReasonClosed
	}

	now := m.clock()
	count := 0

	for _, id := range m.byDevice[deviceID] {
		s := m.sessions[id]
		if s.Status == StatusTerminated {
			continue
		}

		s.terminate(now, reason)
		count++
	}

	if count > 0 {
		m.Logger().Info(
			"device sessions terminated",
			zap.String("device_id", deviceID.String()),
			zap.Int("count", count),
			zap.String("reason", reason),
		)
	}

	return count
}

// Session returns a session snapshot
func (m *Manager) Session(ctx context.Context, sessionID uuid.UUID) (Session, error) {
	m.RLock()
	defer m.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	return *s, nil
}

// SessionsFor returns every session ever opened for a device, oldest first
func (m *Manager) SessionsFor(ctx context.Context, deviceID uuid.UUID) []Session {
	m.RLock()
	defer m.RUnlock()

	ids := m.byDevice[deviceID]
	ss := make([]Session, 0, len(ids))

	for _, id := range ids {
		ss = append(ss, *m.sessions[id])
	}

	return ss
}

// ActiveSessionsFor counts the usable sessions of a device
func (m *Manager) ActiveSessionsFor(ctx context.Context, deviceID uuid.UUID) int {
	m.RLock()
	defer m.RUnlock()

	now := m.clock()
	count := 0

	for _, id := range m.byDevice[deviceID] {
		if m.sessions[id].IsActive(now) {
			count++
		}
	}

	return count
}

// Statistics returns session counts
func (m *Manager) Statistics() Statistics {
	m.RLock()
	defer m.RUnlock()

	now := m.clock()

	stats := Statistics{
		Sessions: len(m.sessions),
		ByLevel:  make(map[string]int),
	}

	for _, s := range m.sessions {
		stats.SuspiciousActivities += s.Metrics.SuspiciousActivities

		switch {
		case s.Status == StatusTerminated:
			stats.Terminated++
		case !s.IsActive(now):
			stats.Expired++
		default:
			stats.Active++
			stats.ByLevel[m.scoring.Thresholds.Classify(s.Score).String()]++
		}
	}

	return stats
}

