// Package content defines the typed content payloads committed into a
// tract, their canonical JSON encoding, and the hashes derived from it.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// CanonicalJSON renders v (any JSON-compatible value, or a value produced
// by decoding JSON with json.Number enabled) into the canonical form used
// for hashing: UTF-8, object keys sorted lexicographically at every level,
// no insignificant whitespace, no HTML-escaping, and numbers in their
// shortest round-trip representation.
//
// v is first round-tripped through encoding/json (marshal, then decode
// with UseNumber) so that callers can pass ordinary Go structs/maps and
// still get deterministic key ordering and number formatting.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("content: marshal for canonicalization: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("content: decode for canonicalization: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(canonicalNumber(t))
	case float64:
		// only reachable if caller builds the tree by hand instead of
		// via json.Marshal+UseNumber; format with shortest round-trip.
		buf.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case string:
		writeCanonicalString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("content: cannot canonicalize value of type %T", v)
	}
	return nil
}

// canonicalNumber re-renders a json.Number: values that parse as int64
// are written as plain integers; everything else is written in Go's
// shortest round-trip 'g' form, which uses exponent notation for very
// large or very small magnitudes.
func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil {
		// Not representable as int64 or float64 (huge integer literal);
		// fall back to the original decimal text unchanged.
		return string(n)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// writeCanonicalString writes s as a JSON string literal without escaping
// non-ASCII runes (canonical JSON preserves UTF-8 verbatim) while still
// escaping control characters, quotes, and backslashes as JSON requires.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}
