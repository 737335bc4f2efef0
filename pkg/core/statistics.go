package core

import (
	"context"

	"github.com/agubarev/ztcp/pkg/identity"
	"github.com/agubarev/ztcp/pkg/keymaterial"
	"github.com/agubarev/ztcp/pkg/segment"
	"github.com/agubarev/ztcp/pkg/trust"
)

// Statistics is a read-only aggregate of the whole control plane
type Statistics struct {
	Identities   identity.Statistics    `json:"identities"`
	Sessions     trust.Statistics       `json:"sessions"`
	Segmentation segment.Statistics     `json:"segmentation"`
	KeyMaterial  keymaterial.Statistics `json:"key_material"`
	AuditEntries uint64                 `json:"audit_entries"`
	MinimumLevel string                 `json:"minimum_level"`
}

// ArchitectureStatistics collects statistics from every component
func (c *Core) ArchitectureStatistics(ctx context.Context) Statistics {
	return Statistics{
		Identities:   c.identities.Statistics(),
		Sessions:     c.sessions.Statistics(),
		Segmentation: c.segments.Statistics(),
		KeyMaterial:  c.keys.Statistics(),
		AuditEntries: c.auditLog.Len(),
		MinimumLevel: c.minimumLevel.String(),
	}
}
