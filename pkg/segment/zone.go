package segment

import (
	"strings"

	"github.com/pkg/errors"
)

// Zone is a security classification of a segment
type Zone string

// security zones
const (
	ZoneInternal   Zone = "internal"
	ZoneDMZ        Zone = "dmz"
	ZoneRestricted Zone = "restricted"
	ZoneCritical   Zone = "critical"
)

// Zones lists every known zone from least to most sensitive
var Zones = []Zone{ZoneInternal, ZoneDMZ, ZoneRestricted, ZoneCritical}

// ParseZone normalizes and validates a zone name
func ParseZone(s string) (Zone, error) {
	z := Zone(strings.ToLower(strings.TrimSpace(s)))
	if !z.IsValid() {
		return "", errors.Wrapf(ErrInvalidZone, "%q", s)
	}

	return z, nil
}

// IsValid tells whether the zone is one of the known zones
func (z Zone) IsValid() bool {
	switch z {
	case ZoneInternal, ZoneDMZ, ZoneRestricted, ZoneCritical:
		return true
	}

	return false
}

func (z Zone) String() string {
	return string(z)
}

// DefaultSegmentID is the segment a device lands in when none is named
func (z Zone) DefaultSegmentID() string {
	return string(z) + "-default"
}
