package core

import (
	"context"
	"time"

	"github.com/agubarev/ztcp/pkg/audit"
	"github.com/agubarev/ztcp/pkg/segment"
	"github.com/agubarev/ztcp/pkg/trust"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuthOutcome is the variant of an authentication result
type AuthOutcome uint8

// authentication outcomes
const (
	AuthDenied AuthOutcome = iota
	AuthSuccess
)

func (o AuthOutcome) String() string {
	switch o {
	case AuthSuccess:
		return "success"
	default:
		return "denied"
	}
}

// SessionInfo is what a device learns about its freshly opened session
type SessionInfo struct {
	SessionID uuid.UUID   `json:"session_id"`
	DeviceID  uuid.UUID   `json:"device_id"`
	OpenedAt  time.Time   `json:"opened_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Score     float64     `json:"score"`
	Level     trust.Level `json:"level"`
}

// AuthResult is the outcome of an authentication attempt
// NOTE: a denial never tells why, unknown, revoked, expired and
// mismatching credentials all look alike
type AuthResult struct {
	Outcome AuthOutcome `json:"outcome"`
	Session SessionInfo `json:"session"`
}

// OK tells whether the authentication succeeded
func (r AuthResult) OK() bool {
	return r.Outcome == AuthSuccess
}

// AuthenticateAndConnect verifies the presented fingerprint and opens a session
func (c *Core) AuthenticateAndConnect(ctx context.Context, deviceID uuid.UUID, fingerprint string) AuthResult {
	unlock := c.devices.Lock(deviceID.String())
	defer unlock()

	s, err := c.sessions.Open(ctx, deviceID, fingerprint)
	if err != nil {
		c.Logger().Warn("authentication denied", zap.String("device_id", deviceID.String()))
		c.record(ctx, audit.EventAuthFailure, deviceID.String(), nil)

		return AuthResult{Outcome: AuthDenied}
	}

	c.record(ctx, audit.EventSessionOpened, deviceID.String(), map[string]string{"session_id": s.ID.String()})

	return AuthResult{
		Outcome: AuthSuccess,
		Session: SessionInfo{
			SessionID: s.ID,
			DeviceID:  s.DeviceID,
			OpenedAt:  s.OpenedAt,
			ExpiresAt: s.ExpiresAt,
			Score:     s.Score,
			Level:     trust.LevelFull,
		},
	}
}

// AuthorizeCommunication decides whether src may reach dst, requiring a
// valid session of src, sufficient trust and a segmentation allowance
func (c *Core) AuthorizeCommunication(ctx context.Context, src, dst uuid.UUID, protocol string, port uint16, sessionID uuid.UUID) (d segment.Decision) {
	defer func() {
		fields := []zap.Field{
			zap.String("source", src.String()),
			zap.String("target", dst.String()),
			zap.String("protocol", protocol),
			zap.Uint16("port", port),
			zap.String("session_id", sessionID.String()),
			zap.Bool("allowed", d.Allowed),
			zap.String("reason", d.Reason),
			zap.String("policy_id", d.PolicyID),
		}

		if d.Allowed {
			c.Logger().Info("communication authorized", fields...)
		} else {
			c.Logger().Warn("communication denied", fields...)
		}
	}()

	//---------------------------------------------------------------------------
	// session
	//---------------------------------------------------------------------------
	if !c.sessions.Verify(ctx, sessionID) {
		return segment.Deny(segment.ReasonSessionInvalid)
	}

	s, err := c.sessions.Session(ctx, sessionID)
	if err != nil || s.DeviceID != src {
		return segment.Deny(segment.ReasonSessionInvalid)
	}

	//---------------------------------------------------------------------------
	// trust
	//---------------------------------------------------------------------------
	level, err := c.sessions.TrustLevel(ctx, sessionID)
	if err != nil || level < c.minimumLevel {
		return segment.Deny(segment.ReasonTrustTooLow)
	}

	//---------------------------------------------------------------------------
	// segmentation
	//---------------------------------------------------------------------------
	return c.segments.Check(ctx, src, dst, protocol, port)
}

// RecordActivity feeds an observed operation outcome into the session score
// and returns the resulting trust level
func (c *Core) RecordActivity(ctx context.Context, sessionID uuid.UUID, latency time.Duration, success bool) (trust.Level, error) {
	if _, err := c.sessions.UpdateTrust(ctx, sessionID, latency, success); err != nil {
		return trust.LevelNone, err
	}

	return c.sessions.TrustLevel(ctx, sessionID)
}

// CreatePolicy registers a directional communication policy
func (c *Core) CreatePolicy(ctx context.Context, id string, src, dst uuid.UUID, protocols []string, ports []uint16) (segment.Policy, error) {
	p, err := c.segments.CreatePolicy(ctx, id, src, dst, protocols, ports)
	if err != nil {
		return p, err
	}

	c.record(ctx, audit.EventPolicyCreated, src.String(), map[string]string{
		"policy_id": p.ID,
		"target":    dst.String(),
	})

	return p, nil
}
