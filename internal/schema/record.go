package schema

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// Record is an opaque structured value belonging to a collection.
// Values follow encoding/json conventions: numbers are float64, nested
// objects are map[string]any.
type Record map[string]any

// Key returns the record's primary-key value rendered as a string.
func (r Record) Key(pk string) (string, bool) {
	if r == nil {
		return "", false
	}
	return KeyString(r[pk])
}

// Clone returns a deep copy normalised through JSON, so the copy shares no
// state with r and has the same shape a stored record would have.
func (r Record) Clone() (Record, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(data)
}

// DecodeRecord parses a JSON object into a Record.
func DecodeRecord(data []byte) (Record, error) {
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("record is not a JSON object")
	}
	return out, nil
}

// KeyString converts a primary-key value to its canonical string form.
// Strings pass through unchanged; integral numbers are rendered in base 10.
// Empty strings, nil, fractional numbers and floats outside the int64 range
// are not valid keys.
func KeyString(v any) (string, bool) {
	switch k := v.(type) {
	case string:
		return k, k != ""
	case float64:
		if math.Trunc(k) != k || math.Abs(k) >= 1<<63 {
			return "", false
		}
		return strconv.FormatInt(int64(k), 10), true
	case int:
		return strconv.Itoa(k), true
	case int64:
		return strconv.FormatInt(k, 10), true
	case json.Number:
		if _, err := k.Int64(); err != nil {
			return "", false
		}
		return k.String(), true
	default:
		return "", false
	}
}
