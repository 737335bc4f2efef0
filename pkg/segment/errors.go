package segment

import "github.com/pkg/errors"

// errors
var (
	ErrNilManager      = errors.New("segmentation manager is nil")
	ErrEmptySegmentID  = errors.New("segment id is empty")
	ErrSegmentExists   = errors.New("segment already exists")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrInvalidZone     = errors.New("invalid security zone")
	ErrDeviceIsolated  = errors.New("device is isolated")
	ErrEmptyPolicyID   = errors.New("policy id is empty")
	ErrPolicyExists    = errors.New("policy already exists")
	ErrPolicyNotFound  = errors.New("policy not found")
	ErrNoProtocols     = errors.New("policy has no protocols")
	ErrNoPorts         = errors.New("policy has no ports")
	ErrInvalidPort     = errors.New("invalid port")
	ErrSelfPolicy      = errors.New("policy source and destination are the same device")
)
