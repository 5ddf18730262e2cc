package dns

import (
	"strings"
)

const (
	escapeChar = '`'
	delimiter  = '='
)

// Record is an attribute=value pair encoded in a TXT record per RFC 1464.
type Record struct {
	Attribute string
	Value     string
}

// ParseRecord splits raw into its attribute and value. One layer of
// surrounding double quotes is stripped first. A backtick escapes the
// following character, and the first unescaped '=' is the delimiter. The
// returned attribute has its escapes removed.
//
// ok is false when raw has no unescaped '=' or the attribute is empty; such
// strings are simply not RFC 1464 records.
func ParseRecord(raw string) (rec Record, ok bool) {
	s := unquote(raw)

	var attr strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			attr.WriteByte(c)
			continue
		}
		switch c {
		case escapeChar:
			escaped = true
		case delimiter:
			if i == 0 {
				return Record{}, false
			}
			return Record{Attribute: attr.String(), Value: s[i+1:]}, true
		default:
			attr.WriteByte(c)
		}
	}
	return Record{}, false
}

// Normalize returns the comparable form of r. Attribute names are
// case-insensitive, so the attribute is trimmed and lowercased. Values are
// case-sensitive and only trimmed.
func (r Record) Normalize() Record {
	return Record{
		Attribute: strings.ToLower(strings.TrimSpace(r.Attribute)),
		Value:     strings.TrimSpace(r.Value),
	}
}

// String formats r as plain attribute=value text, without escapes.
func (r Record) String() string {
	return r.Attribute + string(delimiter) + r.Value
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
