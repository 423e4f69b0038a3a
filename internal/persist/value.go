package persist

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/l1jgo/worldcore/internal/core/ecs"
)

// Quote encodes s as a double-quoted string with \" \\ \n \r \t escapes.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Unquote reverses Quote. A value without quotes is returned as is.
func Unquote(v string) (string, error) {
	if !strings.HasPrefix(v, `"`) {
		return v, nil
	}
	if len(v) < 2 || !strings.HasSuffix(v, `"`) {
		return "", fmt.Errorf("unterminated string %s", v)
	}
	body := v[1 : len(v)-1]
	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			if c == '"' {
				return "", fmt.Errorf("unescaped quote in %s", v)
			}
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(body) {
			return "", fmt.Errorf("dangling escape in %s", v)
		}
		switch body[i] {
		case '"', '\\':
			b.WriteByte(body[i])
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		default:
			return "", fmt.Errorf("unknown escape \\%c in %s", body[i], v)
		}
	}
	return b.String(), nil
}

// ParseInt accepts decimal and 0x hex.
func ParseInt(v string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

// IsRef reports whether v is an entity reference token.
func IsRef(v string) bool { return strings.HasPrefix(v, "#") }

// IsNamed reports whether v is a named singleton reference token.
func IsNamed(v string) bool { return strings.HasPrefix(v, "$") }

// NamedToken formats a $name reference.
func NamedToken(name string) string { return "$" + name }

// ParseNamed strips the $ of a named reference.
func ParseNamed(v string) (string, error) {
	name := strings.TrimPrefix(v, "$")
	if name == v || name == "" {
		return "", fmt.Errorf("invalid named reference %q", v)
	}
	return name, nil
}

// EncodeValue renders a tag value.
func EncodeValue(v ecs.Value) string {
	switch v.Kind {
	case ecs.ValueString:
		return Quote(v.Str)
	case ecs.ValueRef:
		return v.Ref.String()
	case ecs.ValueNamed:
		return NamedToken(v.Str)
	}
	return strconv.FormatInt(v.Int, 10)
}

// DecodeValue parses an immediate tag value. References are reported with
// ok=false so the caller can defer them.
func DecodeValue(raw string) (v ecs.Value, ok bool, err error) {
	switch {
	case IsRef(raw), IsNamed(raw):
		return ecs.Value{}, false, nil
	case strings.HasPrefix(raw, `"`):
		s, err := Unquote(raw)
		if err != nil {
			return ecs.Value{}, false, err
		}
		return ecs.StringValue(s), true, nil
	}
	n, err := ParseInt(raw)
	if err != nil {
		return ecs.Value{}, false, err
	}
	return ecs.IntValue(n), true, nil
}
