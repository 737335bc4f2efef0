package util

import (
	"github.com/pkg/errors"
	"github.com/r3labs/diff"
)

// ErrProtectedField is returned when a change touches a protected field
var ErrProtectedField = errors.New("protected field cannot be changed")

// ProtectedChangelog diffs two values and fails if any protected
// top-level field has changed
func ProtectedChangelog(protected map[string]bool, before, after interface{}) (diff.Changelog, error) {
	changelog, err := diff.Diff(before, after)
	if err != nil {
		return nil, errors.Wrap(err, "failed to diff values")
	}

	for _, change := range changelog {
		if protected[change.Path[0]] {
			return nil, errors.Wrapf(ErrProtectedField, "`%s`", change.Path[0])
		}
	}

	return changelog, nil
}
