package core

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/agubarev/ztcp/pkg/audit"
	"github.com/agubarev/ztcp/pkg/identity"
	"github.com/agubarev/ztcp/pkg/keymaterial"
	"github.com/agubarev/ztcp/pkg/segment"
	"github.com/agubarev/ztcp/pkg/trust"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Credentials are handed to a device at onboarding and rotation
type Credentials struct {
	DeviceID    uuid.UUID                  `json:"device_id"`
	Fingerprint string                     `json:"fingerprint"`
	Certificate string                     `json:"certificate"`
	SegmentID   string                     `json:"segment_id"`
	Zone        segment.Zone               `json:"zone"`
	Hybrid      keymaterial.HybridIdentity `json:"hybrid"`
	Generation  uint32                     `json:"generation"`
	ExpiresAt   time.Time                  `json:"expires_at"`
}

// IsolationReport tells which containment steps took effect
type IsolationReport struct {
	DeviceID           uuid.UUID `json:"device_id"`
	Revoked            bool      `json:"revoked"`
	SessionsTerminated int       `json:"sessions_terminated"`
	NetworkIsolated    bool      `json:"network_isolated"`
}

// Complete tells whether both the revocation and the network isolation
// took effect during this call
func (r IsolationReport) Complete() bool {
	return r.Revoked && r.NetworkIsolated
}

// DeviceStatus is a read-only view of everything known about a device
type DeviceStatus struct {
	DeviceID       uuid.UUID       `json:"device_id"`
	Status         identity.Status `json:"status"`
	Generation     uint32          `json:"generation"`
	Fingerprint    string          `json:"fingerprint"`
	ExpiresAt      time.Time       `json:"expires_at"`
	SegmentID      string          `json:"segment_id"`
	Zone           segment.Zone    `json:"zone"`
	Isolated       bool            `json:"isolated"`
	ActiveSessions int             `json:"active_sessions"`
	Sessions       []trust.Session `json:"sessions"`
	HybridBundle   bool            `json:"hybrid_bundle"`
}

func hybridID(deviceID uuid.UUID) string {
	return "hybrid/" + deviceID.String()
}

// resolveSegment finds or creates the segment a device is onboarded into
func (c *Core) resolveSegment(ctx context.Context, zone segment.Zone, segmentID string) (segment.Segment, error) {
	segmentID = strings.TrimSpace(segmentID)
	if segmentID == "" {
		segmentID = zone.DefaultSegmentID()
	}

	s, err := c.segments.Segment(ctx, segmentID)
	switch err {
	case nil:
		if s.Zone != zone {
			return s, errors.Wrapf(ErrZoneMismatch, "segment %s is in zone %s, not %s", s.ID, s.Zone, zone)
		}

		return s, nil
	case segment.ErrSegmentNotFound:
	default:
		return s, err
	}

	s, err = c.segments.CreateSegment(ctx, segmentID, zone, "created at onboarding")
	if err == segment.ErrSegmentExists {
		// lost a creation race against another onboarding
		return c.resolveSegment(ctx, zone, segmentID)
	}

	return s, err
}

// prepareHybridBundle generates a device bundle without storing it
func (c *Core) prepareHybridBundle(ctx context.Context, deviceID uuid.UUID) (keymaterial.PendingHybrid, error) {
	return c.keys.PrepareHybridIdentity(ctx, hybridID(deviceID))
}

// OnboardDevice enrolls a device: identity, segment membership and hybrid bundle
func (c *Core) OnboardDevice(ctx context.Context, attrs identity.Attributes, zone segment.Zone, segmentID string) (cred Credentials, err error) {
	if !zone.IsValid() {
		return cred, errors.Wrapf(segment.ErrInvalidZone, "%q", zone)
	}

	if err = attrs.Validate(); err != nil {
		return cred, err
	}

	deviceID := identity.GenerateDeviceID(attrs)

	unlock := c.devices.Lock(deviceID.String())
	defer unlock()

	//---------------------------------------------------------------------------
	// segment
	//---------------------------------------------------------------------------
	seg, err := c.resolveSegment(ctx, zone, segmentID)
	if err != nil {
		return cred, err
	}

	//---------------------------------------------------------------------------
	// hybrid bundle, generated first so that a failure changes nothing
	//---------------------------------------------------------------------------
	pending, err := c.prepareHybridBundle(ctx, deviceID)
	if err != nil {
		return cred, errors.Wrap(err, "failed to create hybrid bundle")
	}

	//---------------------------------------------------------------------------
	// identity
	//---------------------------------------------------------------------------
	ident, err := c.identities.Create(ctx, attrs, c.config.Identity.ValidityDays)
	if err != nil {
		return cred, err
	}

	c.record(ctx, audit.EventIdentityCreated, deviceID.String(), map[string]string{
		"fingerprint": ident.Fingerprint,
		"generation":  strconv.FormatUint(uint64(ident.Generation), 10),
		"segment_id":  seg.ID,
	})

	//---------------------------------------------------------------------------
	// membership, lifting a previous isolation
	//---------------------------------------------------------------------------
	if err = c.segments.Readmit(ctx, deviceID, seg.ID); err != nil {
		// a revoked identity can be onboarded afresh on retry
		if _, revokeErr := c.identities.Revoke(ctx, deviceID); revokeErr != nil {
			c.Logger().Error("failed to revoke undelivered identity", zap.String("device_id", deviceID.String()), zap.Error(revokeErr))
		}

		return cred, errors.Wrap(err, "failed to assign device")
	}

	hybrid, err := c.keys.CommitHybridIdentity(ctx, pending)
	if err != nil {
		return cred, errors.Wrap(err, "failed to store hybrid bundle")
	}

	c.Logger().Info(
		"device onboarded",
		zap.String("device_id", deviceID.String()),
		zap.String("segment_id", seg.ID),
		zap.String("zone", zone.String()),
		zap.String("fingerprint", ident.Fingerprint),
	)

	cred = Credentials{
		DeviceID:    deviceID,
		Fingerprint: ident.Fingerprint,
		Certificate: ident.Certificate,
		SegmentID:   seg.ID,
		Zone:        seg.Zone,
		Hybrid:      hybrid,
		Generation:  ident.Generation,
		ExpiresAt:   ident.ExpiresAt,
	}

	return cred, nil
}

// RotateDeviceCredentials replaces the identity key material and the hybrid
// bundle of an active device
// NOTE: sessions opened under the previous fingerprint stay valid
func (c *Core) RotateDeviceCredentials(ctx context.Context, deviceID uuid.UUID, validityDays int) (cred Credentials, err error) {
	unlock := c.devices.Lock(deviceID.String())
	defer unlock()

	if validityDays <= 0 {
		validityDays = c.config.Identity.ValidityDays
	}

	// the new bundle is ready before the identity moves on
	pending, err := c.prepareHybridBundle(ctx, deviceID)
	if err != nil {
		return cred, errors.Wrap(err, "failed to rotate hybrid bundle")
	}

	r, err := c.identities.Rotate(ctx, deviceID, validityDays)
	if err != nil {
		return cred, err
	}

	c.record(ctx, audit.EventIdentityRotated, deviceID.String(), map[string]string{
		"previous_fingerprint": r.Previous.Fingerprint,
		"fingerprint":          r.Current.Fingerprint,
		"generation":           strconv.FormatUint(uint64(r.Current.Generation), 10),
		"changed":              strings.Join(r.Changed, ","),
	})

	hybrid, err := c.keys.CommitHybridIdentity(ctx, pending)
	if err != nil {
		return cred, errors.Wrap(err, "failed to store rotated hybrid bundle")
	}

	cred = Credentials{
		DeviceID:    deviceID,
		Fingerprint: r.Current.Fingerprint,
		Certificate: r.Current.Certificate,
		Hybrid:      hybrid,
		Generation:  r.Current.Generation,
		ExpiresAt:   r.Current.ExpiresAt,
	}

	if seg, ok := c.segments.SegmentOf(ctx, deviceID); ok {
		cred.SegmentID = seg.ID
		cred.Zone = seg.Zone
	}

	c.Logger().Info(
		"device credentials rotated",
		zap.String("device_id", deviceID.String()),
		zap.Uint32("generation", r.Current.Generation),
	)

	return cred, nil
}

// IsolateCompromisedDevice revokes the identity, terminates every session
// and cuts the device off the network, reporting each step on its own
func (c *Core) IsolateCompromisedDevice(ctx context.Context, deviceID uuid.UUID) IsolationReport {
	unlock := c.devices.Lock(deviceID.String())
	defer unlock()

	report := IsolationReport{DeviceID: deviceID}

	revoked, err := c.identities.Revoke(ctx, deviceID)
	if err != nil {
		c.Logger().Warn("isolation: revocation failed", zap.String("device_id", deviceID.String()), zap.Error(err))
	}

	report.Revoked = revoked

	if revoked {
		c.record(ctx, audit.EventIdentityRevoked, deviceID.String(), map[string]string{"reason": trust.ReasonIsolation})
	}

	report.SessionsTerminated = c.sessions.TerminateAllFor(ctx, deviceID, trust.ReasonIsolation)
	report.NetworkIsolated = c.segments.IsolateDevice(ctx, deviceID)

	if err = c.keys.DeleteHybridIdentity(ctx, hybridID(deviceID)); err != nil && errors.Cause(err) != keymaterial.ErrKeyNotFound {
		c.Logger().Warn("isolation: failed to discard hybrid bundle", zap.String("device_id", deviceID.String()), zap.Error(err))
	}

	c.record(ctx, audit.EventDeviceIsolated, deviceID.String(), map[string]string{
		"revoked":             strconv.FormatBool(report.Revoked),
		"sessions_terminated": strconv.Itoa(report.SessionsTerminated),
		"network_isolated":    strconv.FormatBool(report.NetworkIsolated),
	})

	fields := []zap.Field{
		zap.String("device_id", deviceID.String()),
		zap.Bool("revoked", report.Revoked),
		zap.Int("sessions_terminated", report.SessionsTerminated),
		zap.Bool("network_isolated", report.NetworkIsolated),
	}

	if report.Complete() {
		c.Logger().Warn("device isolated", fields...)
	} else {
		c.Logger().Error("device isolation is partial, manual follow-up required", fields...)
	}

	return report
}

// DeviceStatus aggregates what every component knows about a device
func (c *Core) DeviceStatus(ctx context.Context, deviceID uuid.UUID) (status DeviceStatus, err error) {
	ident, err := c.identities.Identity(ctx, deviceID)
	if err != nil {
		if err == identity.ErrIdentityNotFound {
			return status, ErrDeviceNotFound
		}

		return status, err
	}

	status = DeviceStatus{
		DeviceID:       deviceID,
		Status:         ident.Status,
		Generation:     ident.Generation,
		Fingerprint:    ident.Fingerprint,
		ExpiresAt:      ident.ExpiresAt,
		Isolated:       c.segments.IsIsolated(ctx, deviceID),
		ActiveSessions: c.sessions.ActiveSessionsFor(ctx, deviceID),
		Sessions:       c.sessions.SessionsFor(ctx, deviceID),
	}

	if seg, ok := c.segments.SegmentOf(ctx, deviceID); ok {
		status.SegmentID = seg.ID
		status.Zone = seg.Zone
	}

	if _, err = c.keys.HybridIdentity(ctx, hybridID(deviceID)); err == nil {
		status.HybridBundle = true
	}

	return status, nil
}
