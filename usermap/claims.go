package usermap

import (
	"strconv"
)

// Claims is the unordered claim set returned by the identity provider,
// from the userinfo endpoint or a decoded id_token payload. Lookups
// report a missing key explicitly rather than silently yielding a zero
// value, so a misconfigured claim name surfaces instead of minting users
// with empty keys.
type Claims map[string]interface{}

// Has reports whether key is present.
func (c Claims) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// String returns the claim as a string. Numeric and boolean claims are
// formatted, since providers disagree about the JSON type of business
// identifiers. The second return is false when the key is absent or the
// value has no string form.
func (c Claims) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// StringSlice returns the claim as a list of strings. A scalar string
// claim is returned as a single-element list; JSON arrays keep their
// order with non-string elements skipped. The second return is false when
// the key is absent or has no list form.
func (c Claims) StringSlice(key string) ([]string, bool) {
	v, ok := c[key]
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case string:
		return []string{t}, true
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out, true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}
