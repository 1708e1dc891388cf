// Package canon implements RFC 8785 JSON Canonicalization (JCS) for the
// subset of JSON values the kernel ever hashes: objects, arrays,
// strings, integers, booleans, and null. Floating-point values are
// rejected outright — every numeric quantity that enters a hash must
// already be a pre-quantized Q18 integer.
package canon

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/cohkernel/gmk/kernel/kerrors"
)

// Marshal produces the canonical JCS byte encoding of v. Supported
// input shapes: map[string]any, []any, string, bool, nil, and the
// integer types int, int32, int64, uint32 and uint64; other types fail
// with kerrors.ErrSchemaMismatch. float32/float64 are rejected with
// kerrors.ErrFloatInCanonical, matching E_FLOAT_IN_CANONICAL.
func Marshal(v any) ([]byte, error) {
	var b strings.Builder
	if err := encode(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func encode(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
		return nil
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case string:
		encodeString(b, t)
		return nil
	case float32, float64:
		return kerrors.ErrFloatInCanonical
	case int:
		b.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int32:
		b.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
		return nil
	case uint64:
		b.WriteString(strconv.FormatUint(t, 10))
		return nil
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(t), 10))
		return nil
	case map[string]any:
		return encodeObject(b, t)
	case []any:
		return encodeArray(b, t)
	default:
		return fmt.Errorf("canon: unsupported type %T: %w", v, kerrors.ErrSchemaMismatch)
	}
}

func encodeObject(b *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessUTF16(keys[i], keys[j])
	})
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		encodeString(b, k)
		b.WriteByte(':')
		if err := encode(b, m[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func encodeArray(b *strings.Builder, a []any) error {
	b.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := encode(b, v); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

// lessUTF16 compares two strings by UTF-16 code unit, per RFC 8785 §3.2.3.
func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	n := len(ua)
	if len(ub) < n {
		n = len(ub)
	}
	for i := 0; i < n; i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// encodeString writes s as a JSON string literal using the minimal
// escaping RFC 8785 requires: the mandatory control-character escapes
// plus backslash and quote; everything else is emitted as literal UTF-8.
func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}
