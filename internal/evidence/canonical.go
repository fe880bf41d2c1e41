package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// sigKey is the only field excluded from the signing input.
const sigKey = "watcherSig"

// Canonical returns the signing input for c: compact JSON with object keys
// sorted at every level, HTML characters unescaped and integers kept exact.
func Canonical(c Cycle) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal cycle: %w", err)
	}
	return CanonicalJSON(raw)
}

// CanonicalJSON re-encodes arbitrary JSON canonically. Two documents that
// differ only in key order or whitespace produce identical output.
func CanonicalJSON(raw []byte) ([]byte, error) {
	v, err := decodeGeneric(raw)
	if err != nil {
		return nil, err
	}
	return encodeSorted(v)
}

// Encode returns the publication payload: the canonical form of the whole
// pack, signature included.
func Encode(p Pack) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode pack: %w", err)
	}
	return CanonicalJSON(raw)
}

func decodeGeneric(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canonical: trailing data after JSON value")
	}
	return v, nil
}

// encodeSorted relies on encoding/json sorting map keys; json.Number values
// are emitted verbatim.
func encodeSorted(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical: encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
