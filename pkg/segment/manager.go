package segment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agubarev/ztcp/pkg/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Statistics is a read-only snapshot of the segmentation state
type Statistics struct {
	Segments        int            `json:"segments"`
	SegmentsByZone  map[string]int `json:"segments_by_zone"`
	DevicesByZone   map[string]int `json:"devices_by_zone"`
	AssignedDevices int            `json:"assigned_devices"`
	IsolatedDevices int            `json:"isolated_devices"`
	Policies        int            `json:"policies"`
	EnabledPolicies int            `json:"enabled_policies"`
}

// Manager owns segments, device membership, isolation marks and policies
type Manager struct {
	segments map[string]Segment
	members  map[uuid.UUID]string
	isolated map[uuid.UUID]time.Time
	policies map[string]*Policy

	// (source, target) hash key -> policies, see pairKey
	pairMap map[uint64][]*Policy

	seq    uint64
	clock  func() time.Time
	logger *zap.Logger
	sync.RWMutex
}

// NewManager initializes an empty segmentation manager
func NewManager() *Manager {
	return &Manager{
		segments: make(map[string]Segment),
		members:  make(map[uuid.UUID]string),
		isolated: make(map[uuid.UUID]time.Time),
		policies: make(map[string]*Policy),
		pairMap:  make(map[uint64][]*Policy),
		clock:    time.Now,
	}
}

// SetLogger assigns a logger to this manager
func (m *Manager) SetLogger(logger *zap.Logger) error {
	if logger != nil {
		logger = logger.Named("[segment]")
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

func pairKey(src, dst uuid.UUID) uint64 {
	return util.HashKeyStrings(src.String(), dst.String())
}

// CreateSegment registers a new segment within a zone
func (m *Manager) CreateSegment(ctx context.Context, id string, zone Zone, description string) (Segment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Segment{}, ErrEmptySegmentID
	}

	if !zone.IsValid() {
		return Segment{}, errors.Wrapf(ErrInvalidZone, "%q", zone)
	}

	m.Lock()
	defer m.Unlock()

	if _, ok := m.segments[id]; ok {
		return Segment{}, ErrSegmentExists
	}

	s := Segment{
		ID:          id,
		Zone:        zone,
		Description: description,
		CreatedAt:   m.clock(),
	}

	m.segments[id] = s

	m.Logger().Info("segment created", zap.String("segment_id", id), zap.String("zone", zone.String()))

	return s, nil
}

// Segment returns a segment by id
func (m *Manager) Segment(ctx context.Context, id string) (Segment, error) {
	m.RLock()
	defer m.RUnlock()

	s, ok := m.segments[id]
	if !ok {
		return Segment{}, ErrSegmentNotFound
	}

	return s, nil
}

// Segments returns all segments ordered by id
func (m *Manager) Segments(ctx context.Context) []Segment {
	m.RLock()
	ss := make([]Segment, 0, len(m.segments))
	for _, s := range m.segments {
		ss = append(ss, s)
	}
	m.RUnlock()

	sort.Slice(ss, func(i, j int) bool { return ss[i].ID < ss[j].ID })

	return ss
}

// AssignDevice places a device into a segment, replacing its previous membership
func (m *Manager) AssignDevice(ctx context.Context, deviceID uuid.UUID, segmentID string) error {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.isolated[deviceID]; ok {
		return ErrDeviceIsolated
	}

	return m.assign(deviceID, segmentID)
}

// Readmit lifts the isolation of a device and assigns it to a segment
// NOTE: intended for fresh onboarding of a previously isolated device only
func (m *Manager) Readmit(ctx context.Context, deviceID uuid.UUID, segmentID string) error {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.segments[segmentID]; !ok {
		return ErrSegmentNotFound
	}

	if _, ok := m.isolated[deviceID]; ok {
		delete(m.isolated, deviceID)
		m.Logger().Info("device readmitted", zap.String("device_id", deviceID.String()))
	}

	return m.assign(deviceID, segmentID)
}

func (m *Manager) assign(deviceID uuid.UUID, segmentID string) error {
	if _, ok := m.segments[segmentID]; !ok {
		return ErrSegmentNotFound
	}

	previous := m.members[deviceID]
	m.members[deviceID] = segmentID

	m.Logger().Debug(
		"device assigned",
		zap.String("device_id", deviceID.String()),
		zap.String("segment_id", segmentID),
		zap.String("previous_segment_id", previous),
	)

	return nil
}

// SegmentOf returns the segment a device belongs to
func (m *Manager) SegmentOf(ctx context.Context, deviceID uuid.UUID) (Segment, bool) {
	m.RLock()
	defer m.RUnlock()

	id, ok := m.members[deviceID]
	if !ok {
		return Segment{}, false
	}

	return m.segments[id], true
}

// IsIsolated tells whether a device is network-isolated
func (m *Manager) IsIsolated(ctx context.Context, deviceID uuid.UUID) bool {
	m.RLock()
	defer m.RUnlock()

	_, ok := m.isolated[deviceID]

	return ok
}

// IsolateDevice removes the device from its segment and marks it isolated
// NOTE: returns false if it was already isolated
func (m *Manager) IsolateDevice(ctx context.Context, deviceID uuid.UUID) bool {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.isolated[deviceID]; ok {
		return false
	}

	delete(m.members, deviceID)
	m.isolated[deviceID] = m.clock()

	m.Logger().Warn("device isolated", zap.String("device_id", deviceID.String()))

	return true
}

// CreatePolicy registers a directional allow rule from src to dst
func (m *Manager) CreatePolicy(ctx context.Context, id string, src, dst uuid.UUID, protocols []string, ports []uint16) (Policy, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Policy{}, ErrEmptyPolicyID
	}

	if src == dst {
		return Policy{}, ErrSelfPolicy
	}

	protocols, err := normalizeProtocols(protocols)
	if err != nil {
		return Policy{}, err
	}

	ports, err = normalizePorts(ports)
	if err != nil {
		return Policy{}, err
	}

	m.Lock()
	defer m.Unlock()

	if _, ok := m.policies[id]; ok {
		return Policy{}, ErrPolicyExists
	}

	m.seq++

	p := &Policy{
		ID:        id,
		Source:    src,
		Target:    dst,
		Protocols: protocols,
		Ports:     ports,
		Enabled:   true,
		CreatedAt: m.clock(),
		seq:       m.seq,
	}

	key := pairKey(src, dst)

	m.policies[id] = p
	m.pairMap[key] = append(m.pairMap[key], p)

	m.Logger().Info(
		"policy created",
		zap.String("policy_id", id),
		zap.String("source", src.String()),
		zap.String("target", dst.String()),
		zap.Strings("protocols", protocols),
	)

	return *p, nil
}

// SetPolicyEnabled enables or disables a policy
func (m *Manager) SetPolicyEnabled(ctx context.Context, id string, enabled bool) error {
	m.Lock()
	defer m.Unlock()

	p, ok := m.policies[id]
	if !ok {
		return ErrPolicyNotFound
	}

	p.Enabled = enabled

	return nil
}

// SetPolicyPriority changes the evaluation priority of a policy, higher first
func (m *Manager) SetPolicyPriority(ctx context.Context, id string, priority int) error {
	m.Lock()
	defer m.Unlock()

	p, ok := m.policies[id]
	if !ok {
		return ErrPolicyNotFound
	}

	p.Priority = priority

	return nil
}

// DeletePolicy removes a policy
func (m *Manager) DeletePolicy(ctx context.Context, id string) error {
	m.Lock()
	defer m.Unlock()

	p, ok := m.policies[id]
	if !ok {
		return ErrPolicyNotFound
	}

	key := pairKey(p.Source, p.Target)

	ps := m.pairMap[key]
	for i := range ps {
		if ps[i] == p {
			ps = append(ps[:i], ps[i+1:]...)
			break
		}
	}

	if len(ps) == 0 {
		delete(m.pairMap, key)
	} else {
		m.pairMap[key] = ps
	}

	delete(m.policies, id)

	m.Logger().Info("policy deleted", zap.String("policy_id", id))

	return nil
}

// Policy returns a policy by id
func (m *Manager) Policy(ctx context.Context, id string) (Policy, error) {
	m.RLock()
	defer m.RUnlock()

	p, ok := m.policies[id]
	if !ok {
		return Policy{}, ErrPolicyNotFound
	}

	return *p, nil
}

// Policies returns every policy in evaluation order
func (m *Manager) Policies(ctx context.Context) []Policy {
	m.RLock()
	ps := make([]Policy, 0, len(m.policies))
	for _, p := range m.policies {
		ps = append(ps, *p)
	}
	m.RUnlock()

	sortPolicies(ps)

	return ps
}

// sortPolicies orders by priority descending, then by creation
func sortPolicies(ps []Policy) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Priority != ps[j].Priority {
			return ps[i].Priority > ps[j].Priority
		}

		return ps[i].seq < ps[j].seq
	})
}

// Check decides whether src may talk to dst over a protocol and port
func (m *Manager) Check(ctx context.Context, src, dst uuid.UUID, protocol string, port uint16) Decision {
	m.RLock()
	defer m.RUnlock()

	//---------------------------------------------------------------------------
	// isolation overrides everything
	//---------------------------------------------------------------------------
	if _, ok := m.isolated[src]; ok {
		return Deny(ReasonIsolated)
	}

	if _, ok := m.isolated[dst]; ok {
		return Deny(ReasonIsolated)
	}

	//---------------------------------------------------------------------------
	// segment membership
	//---------------------------------------------------------------------------
	srcSegment, srcOK := m.members[src]
	dstSegment, dstOK := m.members[dst]

	if srcOK && dstOK && srcSegment == dstSegment {
		return Decision{Allowed: true, Reason: ReasonSameSegment}
	}

	//---------------------------------------------------------------------------
	// directional policies
	//---------------------------------------------------------------------------
	candidates := m.pairMap[pairKey(src, dst)]
	ps := make([]Policy, 0, len(candidates))

	for _, p := range candidates {
		if p.Enabled && p.Source == src && p.Target == dst {
			ps = append(ps, *p)
		}
	}

	sortPolicies(ps)

	for _, p := range ps {
		if p.Matches(protocol, port) {
			return Decision{Allowed: true, Reason: ReasonPolicyMatch, PolicyID: p.ID}
		}
	}

	return Deny(ReasonNoMatchingPolicy)
}

// Statistics returns segmentation counts
func (m *Manager) Statistics() Statistics {
	m.RLock()
	defer m.RUnlock()

	stats := Statistics{
		Segments:        len(m.segments),
		SegmentsByZone:  make(map[string]int),
		DevicesByZone:   make(map[string]int),
		AssignedDevices: len(m.members),
		IsolatedDevices: len(m.isolated),
		Policies:        len(m.policies),
	}

	for _, s := range m.segments {
		stats.SegmentsByZone[s.Zone.String()]++
	}

	for _, id := range m.members {
		stats.DevicesByZone[m.segments[id].Zone.String()]++
	}

	for _, p := range m.policies {
		if p.Enabled {
			stats.EnabledPolicies++
		}
	}

	return stats
}
