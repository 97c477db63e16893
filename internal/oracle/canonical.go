package oracle

import (
	"bytes"
	"encoding/json"
)

// CanonicalJSON is the single canonicalization choke point for everything
// this service hashes or signs. Object keys are sorted lexicographically and
// no insignificant whitespace is emitted, so two logically-equal payloads
// always serialize to identical bytes. The output matches
// json.dumps(data, sort_keys=True, separators=(',',':')) for JSON-native
// values, which is the recipe published to external verifiers.
func CanonicalJSON(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	// Round-trip through a generic value: maps marshal with sorted keys,
	// and json.Number keeps numeric literals byte-stable.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
