package sidecar

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is a JSON object that remembers the insertion order of its
// top-level keys. Values hold whatever encoding/json produces: string,
// float64, bool, []any, map[string]any, nil.
type Document struct {
	keys   []string
	values map[string]any
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{values: make(map[string]any)}
}

// Len reports the number of keys.
func (d *Document) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order.
func (d *Document) Keys() []string {
	return append([]string{}, d.keys...)
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Get returns the raw value for key.
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Set stores value under key, appending the key when it is new.
func (d *Document) Set(key string, value any) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Delete removes key if present.
func (d *Document) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Merge copies every key of other into d, replacing existing values but
// keeping d's ordering for keys both documents share.
func (d *Document) Merge(other *Document) {
	for _, key := range other.keys {
		d.Set(key, other.values[key])
	}
}

// Clone returns a shallow copy sharing value references.
func (d *Document) Clone() *Document {
	clone := NewDocument()
	for _, key := range d.keys {
		clone.Set(key, d.values[key])
	}
	return clone
}

// String returns the string value for key, or "" when absent or not a
// string.
func (d *Document) String(key string) string {
	s, _ := d.values[key].(string)
	return s
}

// Float returns the numeric value for key.
func (d *Document) Float(key string) (float64, bool) {
	f, ok := d.values[key].(float64)
	return f, ok
}

// StringSlice returns the value for key as a string slice, when it is a
// JSON array of strings.
func (d *Document) StringSlice(key string) ([]string, bool) {
	raw, ok := d.values[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

// MarshalJSON encodes the document with keys in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(d.values[key])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, recording top-level key order.
// Nested objects decode as ordinary maps.
func (d *Document) UnmarshalJSON(data []byte) error {
	d.keys = nil
	d.values = make(map[string]any)

	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("sidecar: expected JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("sidecar: unexpected key token %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("sidecar: decode value for %s: %w", key, err)
		}
		d.Set(key, value)
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
