package core

import (
	"context"
	"time"

	"github.com/agubarev/ztcp/pkg/audit"
	"github.com/agubarev/ztcp/pkg/config"
	"github.com/agubarev/ztcp/pkg/identity"
	"github.com/agubarev/ztcp/pkg/keymaterial"
	"github.com/agubarev/ztcp/pkg/segment"
	"github.com/agubarev/ztcp/pkg/trust"
	"github.com/agubarev/ztcp/pkg/util"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Core is the zero-trust control plane, composing the identity registry,
// trust sessions, network segmentation and key material
// NOTE: it holds no entity state of its own
type Core struct {
	config       config.Config
	minimumLevel trust.Level

	keys       *keymaterial.Manager
	identities *identity.Manager
	sessions   *trust.Manager
	segments   *segment.Manager
	auditStore audit.Store
	auditLog   *audit.Log

	// per-device serialization of onboard, authenticate, isolate and rotate
	devices *util.KeyedMutex

	logger *zap.Logger
}

// New assembles a control plane from configuration
func New(ctx context.Context, cfg config.Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	minimumLevel, err := cfg.MinimumLevel()
	if err != nil {
		return nil, err
	}

	keys := keymaterial.NewManager()

	identities, err := identity.NewManager(keys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize identity registry")
	}

	identities.SetDefaultValidity(cfg.Identity.ValidityDays)

	sessions, err := trust.NewManager(identities, cfg.Scoring())
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize trust sessions")
	}

	store, err := audit.Open(cfg.Audit.Backend, cfg.Audit.Path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open audit store")
	}

	auditLog, err := audit.NewLog(ctx, store)
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "failed to initialize audit log")
	}

	c := &Core{
		config:       cfg,
		minimumLevel: minimumLevel,
		keys:         keys,
		identities:   identities,
		sessions:     sessions,
		segments:     segment.NewManager(),
		auditStore:   store,
		auditLog:     auditLog,
		devices:      util.NewKeyedMutex(),
	}

	return c, nil
}

// SetLogger assigns a logger to the control plane and every component
func (c *Core) SetLogger(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}

	c.logger = logger.Named("[core]")

	c.keys.SetLogger(logger)
	c.identities.SetLogger(logger)
	c.sessions.SetLogger(logger)
	c.segments.SetLogger(logger)
	c.auditLog.SetLogger(logger)

	return nil
}

// Logger returns own logger
func (c *Core) Logger() *zap.Logger {
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	return c.logger
}

// SetClock replaces the time source of every time-aware component
func (c *Core) SetClock(clock func() time.Time) {
	c.identities.SetClock(clock)
	c.sessions.SetClock(clock)
	c.auditLog.SetClock(clock)
}

// Config returns the configuration the control plane was built with
func (c *Core) Config() config.Config { return c.config }

// Keys returns the key material service
func (c *Core) Keys() *keymaterial.Manager { return c.keys }

// Identities returns the identity registry
func (c *Core) Identities() *identity.Manager { return c.identities }

// Sessions returns the trust session manager
func (c *Core) Sessions() *trust.Manager { return c.sessions }

// Segments returns the segmentation manager
func (c *Core) Segments() *segment.Manager { return c.segments }

// Audit returns the audit log
func (c *Core) Audit() *audit.Log { return c.auditLog }

// record appends a security event to the audit log
// NOTE: the event has already happened, a failed append is logged, not returned
func (c *Core) record(ctx context.Context, eventType audit.EventType, deviceID string, details map[string]string) {
	if _, err := c.auditLog.Append(ctx, eventType, deviceID, details); err != nil {
		c.Logger().Error(
			"failed to record audit event",
			zap.String("type", string(eventType)),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}
}

// VerifyAuditIntegrity recomputes the audit hash chain
func (c *Core) VerifyAuditIntegrity(ctx context.Context) error {
	return c.auditLog.Verify(ctx)
}

// Close releases the audit store
func (c *Core) Close() error {
	return c.auditStore.Close()
}
