package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is an ordered tuple of primitive values addressing one cache entry.
// Two keys are equal when their canonical strings are equal.
type Key struct {
	parts []any
	id    string
}

// K builds a Key from primitive parts (string, bool, signed and unsigned
// integers, float32/float64). Other types are formatted with %v under a
// distinct tag so they never collide with a string of the same text.
func K(parts ...any) Key {
	cp := make([]any, len(parts))
	copy(cp, parts)
	return Key{parts: cp, id: encode(cp)}
}

// String returns the canonical, collision-free form of the key.
func (k Key) String() string { return k.id }

// Parts returns a copy of the key's parts.
func (k Key) Parts() []any {
	cp := make([]any, len(k.parts))
	copy(cp, k.parts)
	return cp
}

// IsZero reports whether the key has no parts.
func (k Key) IsZero() bool { return len(k.parts) == 0 }

// Equal compares keys structurally.
func (k Key) Equal(o Key) bool { return k.id == o.id }

// HasPrefix reports whether the first parts of k match prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix.parts) > len(k.parts) {
		return false
	}
	return encode(k.parts[:len(prefix.parts)]) == prefix.id
}

func encode(parts []any) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(',')
		}
		tag, text := tagged(p)
		b.WriteString(tag)
		b.WriteByte(':')
		b.WriteString(strconv.Quote(text))
	}
	return b.String()
}

func tagged(p any) (string, string) {
	switch v := p.(type) {
	case string:
		return "s", v
	case bool:
		return "b", strconv.FormatBool(v)
	case int:
		return "i", strconv.FormatInt(int64(v), 10)
	case int8:
		return "i", strconv.FormatInt(int64(v), 10)
	case int16:
		return "i", strconv.FormatInt(int64(v), 10)
	case int32:
		return "i", strconv.FormatInt(int64(v), 10)
	case int64:
		return "i", strconv.FormatInt(v, 10)
	case uint:
		return "u", strconv.FormatUint(uint64(v), 10)
	case uint8:
		return "u", strconv.FormatUint(uint64(v), 10)
	case uint16:
		return "u", strconv.FormatUint(uint64(v), 10)
	case uint32:
		return "u", strconv.FormatUint(uint64(v), 10)
	case uint64:
		return "u", strconv.FormatUint(v, 10)
	case float32:
		return "f", strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return "f", strconv.FormatFloat(v, 'g', -1, 64)
	case nil:
		return "n", ""
	case fmt.Stringer:
		return "v", v.String()
	default:
		return "v", fmt.Sprintf("%v", v)
	}
}
