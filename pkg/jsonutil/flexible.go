// Package jsonutil decodes loosely typed values found in user-supplied JSON.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotScalar is returned when a value is neither a string nor a number.
var ErrNotScalar = errors.New("value must be a string or a number")

// FlexibleString converts a JSON string or number to a string. Exported
// datasets often carry numeric ids where a string is expected; numbers keep
// their literal form, so 12345678901234567890 is not rounded.
// ok is false when raw is empty or null.
func FlexibleString(raw json.RawMessage) (s string, ok bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false, fmt.Errorf("invalid JSON value: %w", err)
	}

	switch val := v.(type) {
	case string:
		return val, true, nil
	case json.Number:
		return val.String(), true, nil
	default:
		return "", false, ErrNotScalar
	}
}
