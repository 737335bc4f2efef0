package segment

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Segment is a named group of devices within a zone
type Segment struct {
	ID          string    `json:"id"`
	Zone        Zone      `json:"zone"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Policy is a directional allow rule from one device to another
type Policy struct {
	ID        string    `json:"id"`
	Source    uuid.UUID `json:"source"`
	Target    uuid.UUID `json:"target"`
	Protocols []string  `json:"protocols"`
	Ports     []uint16  `json:"ports"`
	Enabled   bool      `json:"enabled"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`

	// creation order, breaks priority ties
	seq uint64
}

// Matches tells whether the policy permits the given protocol and port
func (p Policy) Matches(protocol string, port uint16) bool {
	protocol = strings.ToUpper(strings.TrimSpace(protocol))

	i := sort.SearchStrings(p.Protocols, protocol)
	if i == len(p.Protocols) || p.Protocols[i] != protocol {
		return false
	}

	j := sort.Search(len(p.Ports), func(n int) bool { return p.Ports[n] >= port })

	return j < len(p.Ports) && p.Ports[j] == port
}

// normalizeProtocols upper-cases, deduplicates and sorts
func normalizeProtocols(protocols []string) ([]string, error) {
	set := make(map[string]struct{}, len(protocols))

	for _, p := range protocols {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}

		set[p] = struct{}{}
	}

	if len(set) == 0 {
		return nil, ErrNoProtocols
	}

	ps := make([]string, 0, len(set))
	for p := range set {
		ps = append(ps, p)
	}

	sort.Strings(ps)

	return ps, nil
}

// normalizePorts deduplicates and sorts, rejecting port zero
func normalizePorts(ports []uint16) ([]uint16, error) {
	if len(ports) == 0 {
		return nil, ErrNoPorts
	}

	set := make(map[uint16]struct{}, len(ports))

	for _, p := range ports {
		if p == 0 {
			return nil, errors.Wrap(ErrInvalidPort, "port 0")
		}

		set[p] = struct{}{}
	}

	ps := make([]uint16, 0, len(set))
	for p := range set {
		ps = append(ps, p)
	}

	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })

	return ps, nil
}

// decision reasons
const (
	ReasonIsolated         = "isolated"
	ReasonSameSegment      = "same-segment"
	ReasonPolicyMatch      = "policy-match"
	ReasonNoMatchingPolicy = "no-matching-policy"
	ReasonSessionInvalid   = "session-invalid"
	ReasonTrustTooLow      = "trust-too-low"
)

// Decision is the outcome of a communication check
// NOTE: the reason is always set, allow or deny
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason"`
	PolicyID string `json:"policy_id,omitempty"`
}

// Deny returns a denying decision with a reason
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}
