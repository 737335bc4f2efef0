package core

import "github.com/pkg/errors"

// errors
var (
	ErrZoneMismatch   = errors.New("segment belongs to another zone")
	ErrDeviceNotFound = errors.New("device not found")
)
