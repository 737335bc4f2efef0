package fleet

import (
	"context"

	"github.com/agubarev/ztcp/pkg/core"
	"github.com/agubarev/ztcp/pkg/segment"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DeviceReport is what happened to a single device
type DeviceReport struct {
	Name        string                `json:"name"`
	DeviceID    uuid.UUID             `json:"device_id"`
	SegmentID   string                `json:"segment_id"`
	Fingerprint string                `json:"fingerprint"`
	Session     uuid.UUID             `json:"session"`
	TrustLevel  string                `json:"trust_level"`
	Rotated     bool                  `json:"rotated"`
	Isolation   *core.IsolationReport `json:"isolation,omitempty"`
}

// CommunicationReport is the decision on a single communication
type CommunicationReport struct {
	Communication
	Decision segment.Decision `json:"decision"`
}

// Report is the outcome of a whole run
type Report struct {
	Devices        []DeviceReport        `json:"devices"`
	Communications []CommunicationReport `json:"communications"`
	Statistics     core.Statistics       `json:"statistics"`
	AuditIntact    bool                  `json:"audit_intact"`
}

// Run plays a manifest through a control plane
func Run(ctx context.Context, c *core.Core, m Manifest) (r Report, err error) {
	if err = m.Validate(); err != nil {
		return r, err
	}

	devices := make(map[string]*DeviceReport, len(m.Devices))
	r.Devices = make([]DeviceReport, len(m.Devices))

	//---------------------------------------------------------------------------
	// onboarding and authentication
	//---------------------------------------------------------------------------
	for i, d := range m.Devices {
		zone, err := segment.ParseZone(d.Zone)
		if err != nil {
			return r, errors.Wrapf(err, "device %s", d.Name)
		}

		cred, err := c.OnboardDevice(ctx, d.Attributes, zone, d.Segment)
		if err != nil {
			return r, errors.Wrapf(err, "failed to onboard %s", d.Name)
		}

		res := c.AuthenticateAndConnect(ctx, cred.DeviceID, cred.Fingerprint)
		if !res.OK() {
			return r, errors.Errorf("device %s failed to authenticate with its own credentials", d.Name)
		}

		r.Devices[i] = DeviceReport{
			Name:        d.Name,
			DeviceID:    cred.DeviceID,
			SegmentID:   cred.SegmentID,
			Fingerprint: cred.Fingerprint,
			Session:     res.Session.SessionID,
			TrustLevel:  res.Session.Level.String(),
		}

		devices[d.Name] = &r.Devices[i]
	}

	//---------------------------------------------------------------------------
	// policies
	//---------------------------------------------------------------------------
	for _, p := range m.Policies {
		src, dst := devices[p.Source], devices[p.Target]

		if _, err = c.CreatePolicy(ctx, p.ID, src.DeviceID, dst.DeviceID, p.Protocols, p.Ports); err != nil {
			return r, errors.Wrapf(err, "failed to create policy %s", p.ID)
		}

		if p.Priority != 0 {
			if err = c.Segments().SetPolicyPriority(ctx, p.ID, p.Priority); err != nil {
				return r, err
			}
		}
	}

	//---------------------------------------------------------------------------
	// activity
	//---------------------------------------------------------------------------
	for _, a := range m.Activity {
		d := devices[a.Device]

		repeat := a.Repeat
		if repeat <= 0 {
			repeat = 1
		}

		for n := 0; n < repeat; n++ {
			level, err := c.RecordActivity(ctx, d.Session, a.Latency, a.Success)
			if err != nil {
				c.Logger().Warn("activity rejected", zap.String("device", a.Device), zap.Error(err))
				break
			}

			d.TrustLevel = level.String()
		}
	}

	//---------------------------------------------------------------------------
	// rotation
	//---------------------------------------------------------------------------
	for _, name := range m.Rotate {
		d := devices[name]

		cred, err := c.RotateDeviceCredentials(ctx, d.DeviceID, 0)
		if err != nil {
			return r, errors.Wrapf(err, "failed to rotate %s", name)
		}

		d.Fingerprint = cred.Fingerprint
		d.Rotated = true
	}

	//---------------------------------------------------------------------------
	// communications
	//---------------------------------------------------------------------------
	for _, cm := range m.Communications {
		src, dst := devices[cm.Source], devices[cm.Target]

		r.Communications = append(r.Communications, CommunicationReport{
			Communication: cm,
			Decision:      c.AuthorizeCommunication(ctx, src.DeviceID, dst.DeviceID, cm.Protocol, cm.Port, src.Session),
		})
	}

	//---------------------------------------------------------------------------
	// isolation
	//---------------------------------------------------------------------------
	for _, name := range m.Isolate {
		d := devices[name]

		report := c.IsolateCompromisedDevice(ctx, d.DeviceID)
		d.Isolation = &report
	}

	r.Statistics = c.ArchitectureStatistics(ctx)
	r.AuditIntact = c.VerifyAuditIntegrity(ctx) == nil

	return r, nil
}
