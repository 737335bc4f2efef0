package identity

import (
	"sort"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Namespace is the UUIDv5 namespace all device ids are derived in
var Namespace = uuid.MustParse("6f1c2a3e-8d8b-5b7e-9a51-3c0f7d2e4b19")

// Status represents the lifecycle state of an identity
type Status uint8

// identity statuses
const (
	StatusActive Status = iota + 1
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Attributes are the stable hardware attributes of a device
// i.e.: serial number, MAC address, model, manufacturer
type Attributes map[string]string

// Canonical returns the normalized form that device ids are derived from:
// trimmed lower-cased keys, trimmed values, sorted by key, one `k=v` per line
// NOTE: of raw keys that normalize alike, the lexically smallest one wins,
// such sets never pass Validate anyway
func (attrs Attributes) Canonical() string {
	raw := make([]string, 0, len(attrs))
	for k := range attrs {
		raw = append(raw, k)
	}

	sort.Strings(raw)

	keys := make([]string, 0, len(attrs))
	norm := make(map[string]string, len(attrs))

	for _, rk := range raw {
		k := normalizeKey(rk)
		if _, ok := norm[k]; ok {
			continue
		}

		norm[k] = strings.TrimSpace(attrs[rk])
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(norm[k])
		b.WriteByte('\n')
	}

	return b.String()
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// Validate checks that the attribute set is usable for identification
func (attrs Attributes) Validate() error {
	if len(attrs) == 0 {
		return ErrEmptyAttributes
	}

	seen := make(map[string]bool, len(attrs))

	for k, v := range attrs {
		k = normalizeKey(k)
		v = strings.TrimSpace(v)

		if k == "" || v == "" {
			return errors.Wrapf(ErrInvalidAttribute, "empty key or value (%q)", k)
		}

		if seen[k] {
			return errors.Wrapf(ErrInvalidAttribute, "%s: given more than once", k)
		}

		seen[k] = true

		if !govalidator.IsPrintableASCII(k) || !govalidator.IsPrintableASCII(v) {
			return errors.Wrapf(ErrInvalidAttribute, "%s: not printable ascii", k)
		}

		switch k {
		case "mac":
			if !govalidator.IsMAC(v) {
				return errors.Wrapf(ErrInvalidAttribute, "mac: %q is not a MAC address", v)
			}
		case "ip":
			if !govalidator.IsIP(v) {
				return errors.Wrapf(ErrInvalidAttribute, "ip: %q is not an IP address", v)
			}
		}
	}

	return nil
}

// GenerateDeviceID derives a device id from its attributes
// NOTE: identical attributes always yield the identical id
func GenerateDeviceID(attrs Attributes) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(attrs.Canonical()))
}

// Identity is a device's cryptographic representation
// NOTE: private key material never leaves the key source, only its id is kept
type Identity struct {
	DeviceID    uuid.UUID `json:"device_id"`
	KeyID       string    `json:"key_id"`
	PublicKey   []byte    `json:"public_key"`
	Certificate string    `json:"certificate"`
	Fingerprint string    `json:"fingerprint"`
	Generation  uint32    `json:"generation"`
	Status      Status    `json:"status"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	RevokedAt   time.Time `json:"revoked_at"`
}

// IsActive tells whether the identity is active
func (i Identity) IsActive() bool {
	return i.Status == StatusActive
}
