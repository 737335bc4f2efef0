package trust_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agubarev/ztcp/pkg/trust"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticVerifier accepts exactly one fingerprint per device
type staticVerifier struct {
	mu    sync.Mutex
	known map[uuid.UUID]string
}

func (v *staticVerifier) Verify(ctx context.Context, deviceID uuid.UUID, fingerprint string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	fp, ok := v.known[deviceID]
	return ok && fp == fingerprint
}

func (v *staticVerifier) forget(deviceID uuid.UUID) {
	v.mu.Lock()
	delete(v.known, deviceID)
	v.mu.Unlock()
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func managerForTesting(t *testing.T) (*trust.Manager, *staticVerifier, *fakeClock, uuid.UUID) {
	deviceID := uuid.New()

	v := &staticVerifier{known: map[uuid.UUID]string{deviceID: "fp"}}

	m, err := trust.NewManager(v, trust.DefaultScoring())
	require.NoError(t, err)

	clock := &fakeClock{t: time.Now().UTC()}
	m.SetClock(clock.Now)

	return m, v, clock, deviceID
}

func levelOf(t *testing.T, m *trust.Manager, sessionID uuid.UUID) trust.Level {
	l, err := m.TrustLevel(context.Background(), sessionID)
	require.NoError(t, err)

	return l
}

func TestNewManager(t *testing.T) {
	a := assert.New(t)

	_, err := trust.NewManager(nil, trust.DefaultScoring())
	a.Equal(trust.ErrNilVerifier, err)

	broken := trust.DefaultScoring()
	broken.Thresholds.High = 90
	_, err = trust.NewManager(&staticVerifier{}, broken)
	a.ErrorIs(err, trust.ErrInvalidScoring)
}

func TestOpenSession(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m, _, _, deviceID := managerForTesting(t)

	s, err := m.Open(ctx, deviceID, "fp")
	require.NoError(t, err)
	a.Equal(deviceID, s.DeviceID)
	a.Equal(trust.MaxScore, s.Score)
	a.Equal(trust.StatusActive, s.Status)
	a.Equal(s.OpenedAt.Add(time.Hour), s.ExpiresAt)
	a.Equal(trust.LevelFull, levelOf(t, m, s.ID))
	a.True(m.Verify(ctx, s.ID))

	_, err = m.Open(ctx, deviceID, "wrong")
	a.Equal(trust.ErrVerificationFailed, err)

	_, err = m.Open(ctx, uuid.New(), "fp")
	a.Equal(trust.ErrVerificationFailed, err)
}

func TestUpdateTrustScoring(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m, _, _, deviceID := managerForTesting(t)

	s, err := m.Open(ctx, deviceID, "fp")
	require.NoError(t, err)

	// capped at the maximum
	s, err = m.UpdateTrust(ctx, s.ID, 10*time.Millisecond, true)
	a.NoError(err)
	a.Equal(trust.MaxScore, s.Score)

	// failure penalty
	s, err = m.UpdateTrust(ctx, s.ID, 10*time.Millisecond, false)
	a.NoError(err)
	a.Equal(90.0, s.Score)
	a.Equal(1, s.Metrics.FailureCount)
	a.Zero(s.Metrics.SuspiciousActivities)

	// anomaly applies independently of success
	s, err = m.UpdateTrust(ctx, s.ID, 2*time.Second, false)
	a.NoError(err)
	a.Equal(75.0, s.Score)
	a.Equal(1, s.Metrics.SuspiciousActivities)
	a.Equal(trust.LevelHigh, levelOf(t, m, s.ID))

	s, err = m.UpdateTrust(ctx, s.ID, 2*time.Second, true)
	a.NoError(err)
	a.Equal(71.0, s.Score)
	a.Equal(2, s.Metrics.SuspiciousActivities)
	a.Equal(4, s.Metrics.RequestCount)

	_, err = m.UpdateTrust(ctx, uuid.New(), 0, true)
	a.Equal(trust.ErrSessionNotFound, err)
}

func TestScoreStaysWithinBounds(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m, _, _, deviceID := managerForTesting(t)

	s, err := m.Open(ctx, deviceID, "fp")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		s, err = m.UpdateTrust(ctx, s.ID, 3*time.Second, false)
		require.NoError(t, err)
		a.True(s.Score >= 0 && s.Score <= trust.MaxScore)
	}

	a.Zero(s.Score)
	a.Equal(trust.LevelNone, levelOf(t, m, s.ID))

	for i := 0; i < 500; i++ {
		s, err = m.UpdateTrust(ctx, s.ID, 0, true)
		require.NoError(t, err)
		a.True(s.Score >= 0 && s.Score <= trust.MaxScore)
	}

	a.Equal(trust.MaxScore, s.Score)
}

func TestRepeatedSlowSuccessDegradesTrust(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m, _, _, deviceID := managerForTesting(t)

	s, err := m.Open(ctx, deviceID, "fp")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		s, err = m.UpdateTrust(ctx, s.ID, 5*time.Second, true)
		require.NoError(t, err)
	}

	a.True(levelOf(t, m, s.ID) < trust.LevelFull)
	a.Equal(10, s.Metrics.SuspiciousActivities)
	a.InDelta(59.0, s.Score, 0.0001)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m, _, _, deviceID := managerForTesting(t)

	s, err := m.Open(ctx, deviceID, "fp")
	require.NoError(t, err)

	// failures only, so no cap interferes with the final tally
	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := 0; i < perWorker; i++ {
				_, err := m.UpdateTrust(ctx, s.ID, 0, false)
				a.NoError(err)
			}
		}()
	}

	wg.Wait()

	s, err = m.Session(ctx, s.ID)
	a.NoError(err)
	a.Equal(workers*perWorker, s.Metrics.RequestCount)
	a.Equal(workers*perWorker, s.Metrics.FailureCount)
	a.Zero(s.Score)
}

func TestThresholdChangeReclassifiesOpenSessions(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m, _, _, deviceID := managerForTesting(t)

	s, err := m.Open(ctx, deviceID, "fp")
	require.NoError(t, err)

	// 100 -> 70
	for i := 0; i < 3; i++ {
		_, err = m.UpdateTrust(ctx, s.ID, 0, false)
		require.NoError(t, err)
	}
	a.Equal(trust.LevelHigh, levelOf(t, m, s.ID))

	scoring := trust.DefaultScoring()
	scoring.Thresholds = trust.Thresholds{Full: 65, High: 50, Medium: 30, Low: 10}
	a.NoError(m.SetScoring(scoring))
	a.Equal(trust.LevelFull, levelOf(t, m, s.ID))

	scoring.Thresholds = trust.Thresholds{Full: 99, High: 95, Medium: 90, Low: 60}
	a.NoError(m.SetScoring(scoring))
	a.Equal(trust.LevelLow, levelOf(t, m, s.ID))

	scoring.Thresholds.Low = 0
	a.ErrorIs(m.SetScoring(scoring), trust.ErrInvalidScoring)
	a.Equal(trust.LevelLow, levelOf(t, m, s.ID))
}

func TestSessionExpiry(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m, _, clock, deviceID := managerForTesting(t)

	s, err := m.Open(ctx, deviceID, "fp")
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	a.True(m.Verify(ctx, s.ID))

	// verifying does not keep the session alive
	clock.Advance(time.Minute)
	a.False(m.Verify(ctx, s.ID))
	a.Equal(1, m.Statistics().Expired)

	_, err = m.UpdateTrust(ctx, s.ID, 0, true)
	a.Equal(trust.ErrSessionInactive, err)

	s, err = m.Session(ctx, s.ID)
	a.NoError(err)
	a.Equal(trust.StatusTerminated, s.Status)
	a.Equal(trust.ReasonExpired, s.TerminationReason)
}

func TestTerminate(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m, _, _, deviceID := managerForTesting(t)

	s1, err := m.Open(ctx, deviceID, "fp")
	require.NoError(t, err)
	s2, err := m.Open(ctx, deviceID, "fp")
	require.NoError(t, err)
	s3, err := m.Open(ctx, deviceID, "fp")
	require.NoError(t, err)

	ok, err := m.Terminate(ctx, s1.ID, "")
	a.NoError(err)
	a.True(ok)

	ok, err = m.Terminate(ctx, s1.ID, "")
	a.NoError(err)
	a.False(ok)

	_, err = m.Terminate(ctx, uuid.New(), "")
	a.Equal(trust.ErrSessionNotFound, err)

	a.Equal(2, m.ActiveSessionsFor(ctx, deviceID))
	a.Equal(2, m.TerminateAllFor(ctx, deviceID, trust.ReasonIsolation))
	a.Zero(m.TerminateAllFor(ctx, deviceID, trust.ReasonIsolation))

	a.False(m.Verify(ctx, s2.ID))
	a.False(m.Verify(ctx, s3.ID))

	_, err = m.UpdateTrust(ctx, s2.ID, 0, true)
	a.Equal(trust.ErrSessionInactive, err)

	sessions := m.SessionsFor(ctx, deviceID)
	a.Len(sessions, 3)
	a.Equal(trust.ReasonClosed, sessions[0].TerminationReason)
	a.Equal(trust.ReasonIsolation, sessions[1].TerminationReason)
	a.Equal(trust.ReasonIsolation, sessions[2].TerminationReason)

	stats := m.Statistics()
	a.Equal(3, stats.Sessions)
	a.Equal(3, stats.Terminated)
	a.Zero(stats.Active)
}

func TestTerminateAllForIsAtomicWithOpen(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	m, v, _, deviceID := managerForTesting(t)

	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Open(ctx, deviceID, "fp")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		// the verifier stops vouching before the sweep, as isolation does
		v.forget(deviceID)
		m.TerminateAllFor(ctx, deviceID, trust.ReasonIsolation)
	}()

	wg.Wait()

	// whatever got opened before the sweep was terminated by it and
	// nothing could be opened after it
	a.Zero(m.ActiveSessionsFor(ctx, deviceID))
}

func TestParseLevel(t *testing.T) {
	a := assert.New(t)

	for _, l := range []trust.Level{trust.LevelNone, trust.LevelLow, trust.LevelMedium, trust.LevelHigh, trust.LevelFull} {
		parsed, err := trust.ParseLevel(l.String())
		a.NoError(err)
		a.Equal(l, parsed)
	}

	l, err := trust.ParseLevel(" medium ")
	a.NoError(err)
	a.Equal(trust.LevelMedium, l)

	_, err = trust.ParseLevel("ultra")
	a.ErrorIs(err, trust.ErrUnknownLevel)
}
