package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

const (
	FieldRequest    = "request"
	FieldEpisode    = "episode"
	FieldPassage    = "passage"
	FieldStatus     = "status"
	FieldScore      = "score"
	FieldInactivity = "inactivity"
)

// Message is one flat wire record. Values are JSON scalars only.
type Message map[string]any

// Clone returns a shallow copy; values are scalars so the copy is independent.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns field names in sorted order.
func (m Message) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RequestName returns the raw request field when it is present and a string.
func (m Message) RequestName() (string, bool) {
	raw, ok := m[FieldRequest]
	if !ok {
		return "", false
	}
	name, ok := raw.(string)
	return name, ok
}

// Int reads an integral numeric field. ok is false when the field is absent.
func (m Message) Int(key string) (int, bool, error) {
	raw, present := m[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	if s, isString := raw.(string); isString {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, true, fmt.Errorf("%w: %s is not an integer", ErrInvalidPayload, key)
		}
		return n, true, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case int8, int16, int32, int64:
		n := widenInt(v)
		if n > math.MaxInt || n < math.MinInt {
			return 0, true, fmt.Errorf("%w: %s is out of range", ErrInvalidPayload, key)
		}
		return int(n), true, nil
	case uint, uint8, uint16, uint32, uint64:
		n := widenUint(v)
		if n > math.MaxInt {
			return 0, true, fmt.Errorf("%w: %s is out of range", ErrInvalidPayload, key)
		}
		return int(n), true, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			if n > math.MaxInt || n < math.MinInt {
				return 0, true, fmt.Errorf("%w: %s is out of range", ErrInvalidPayload, key)
			}
			return int(n), true, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, true, fmt.Errorf("%w: %s is not an integer", ErrInvalidPayload, key)
		}
		return floatToInt(key, f)
	}
	if f, isFloat := asFloat(raw); isFloat {
		return floatToInt(key, f)
	}
	return 0, true, fmt.Errorf("%w: %s has type %T", ErrInvalidPayload, key, raw)
}

// Float reads a numeric field. ok is false when the field is absent.
func (m Message) Float(key string) (float64, bool, error) {
	raw, present := m[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	if v, isNumber := raw.(json.Number); isNumber {
		f, err := v.Float64()
		if err != nil {
			return 0, true, fmt.Errorf("%w: %s is not a number", ErrInvalidPayload, key)
		}
		return f, true, nil
	}
	if f, isNumeric := asFloat(raw); isNumeric {
		return f, true, nil
	}
	return 0, true, fmt.Errorf("%w: %s has type %T", ErrInvalidPayload, key, raw)
}

// floatToInt rejects fractional, infinite, NaN and out-of-range values so
// the conversion never depends on the platform.
func floatToInt(key string, f float64) (int, bool, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, true, fmt.Errorf("%w: %s is not an integer", ErrInvalidPayload, key)
	}
	if f >= math.MaxInt+1 || f < math.MinInt {
		return 0, true, fmt.Errorf("%w: %s is out of range", ErrInvalidPayload, key)
	}
	return int(f), true, nil
}

func widenInt(v any) int64 {
	switch n := v.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

func widenUint(v any) uint64 {
	switch n := v.(type) {
	case uint:
		return uint64(n)
	case uint8:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint32:
		return uint64(n)
	case uint64:
		return n
	}
	return 0
}

// asFloat converts any Go numeric scalar accepted by Validate. json.Number
// is handled by callers since it can fail to parse.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8, int16, int32, int64:
		return float64(widenInt(n)), true
	case uint, uint8, uint16, uint32, uint64:
		return float64(widenUint(n)), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// String reads a string field. ok is false when the field is absent.
func (m Message) String(key string) (string, bool, error) {
	raw, present := m[key]
	if !present || raw == nil {
		return "", false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", true, fmt.Errorf("%w: %s has type %T", ErrInvalidPayload, key, raw)
	}
	return s, true, nil
}

// Validate enforces the flat-record shape: no nested objects or arrays.
func (m Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidMessage)
	}
	for k, v := range m {
		if k == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidMessage)
		}
		switch v.(type) {
		case nil, string, bool, json.Number:
		default:
			if _, isNumeric := asFloat(v); !isNumeric {
				return fmt.Errorf("%w: field %s has non-scalar type %T", ErrInvalidMessage, k, v)
			}
		}
	}
	return nil
}

// Encode marshals a validated message.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses one JSON object. Numbers stay json.Number so integral
// payload fields survive without float rounding.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m Message
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
