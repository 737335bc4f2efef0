package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid"
	"github.com/pkg/errors"
)

// EventType names what happened
type EventType string

// security events
const (
	EventIdentityCreated EventType = "identity.created"
	EventIdentityRotated EventType = "identity.rotated"
	EventIdentityRevoked EventType = "identity.revoked"
	EventDeviceIsolated  EventType = "device.isolated"
	EventAuthFailure     EventType = "auth.failure"
	EventSessionOpened   EventType = "session.opened"
	EventPolicyCreated   EventType = "policy.created"
)

// GenesisHash is the previous hash of the very first entry
var GenesisHash = strings.Repeat("0", sha256.Size*2)

// json is the canonical encoder, map keys are sorted
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is a single hash-chained audit record
type Entry struct {
	ID        ulid.ULID         `json:"id"`
	Sequence  uint64            `json:"sequence"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	DeviceID  string            `json:"device_id"`
	Details   map[string]string `json:"details"`
	PrevHash  string            `json:"prev_hash"`
	Hash      string            `json:"hash"`
}

// hashable is the part of an entry its hash covers
type hashable struct {
	Sequence  uint64            `json:"sequence"`
	ID        string            `json:"id"`
	Timestamp int64             `json:"timestamp"`
	Type      EventType         `json:"type"`
	DeviceID  string            `json:"device_id"`
	Details   map[string]string `json:"details"`
}

// ComputeHash returns SHA-256 over the previous hash followed by the
// canonical JSON of the entry body
func (e Entry) ComputeHash() (string, error) {
	body, err := json.Marshal(hashable{
		Sequence:  e.Sequence,
		ID:        e.ID.String(),
		Timestamp: e.Timestamp.UnixNano(),
		Type:      e.Type,
		DeviceID:  e.DeviceID,
		Details:   e.Details,
	})

	if err != nil {
		return "", errors.Wrap(err, "failed to encode audit entry")
	}

	d := sha256.New()
	d.Write([]byte(e.PrevHash))
	d.Write(body)

	return hex.EncodeToString(d.Sum(nil)), nil
}
