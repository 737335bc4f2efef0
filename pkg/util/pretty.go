package util

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/pretty"
)

// PrettyJSON encodes a value as indented JSON, optionally colorized
func PrettyJSON(val interface{}, color bool) ([]byte, error) {
	buf, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(val)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal value")
	}

	buf = pretty.Pretty(buf)
	if color {
		buf = pretty.Color(buf, nil)
	}

	return buf, nil
}
