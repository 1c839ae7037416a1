package driver

import (
	"fmt"
	"strings"
)

// ParseConnString parses an ODBC style connection string into its attributes keyed by lower case name.
// Attributes are separated by semicolons. A value enclosed in braces may contain semicolons and writes
// a closing brace as "}}". A later attribute overrides an earlier one with the same name.
func ParseConnString(s string) (map[string]string, error) {
	attrs := make(map[string]string)

	for i := 0; i < len(s); {
		// skip separators and whitespace between attributes
		if s[i] == ';' || s[i] == ' ' || s[i] == '\t' {
			i++
			continue
		}

		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("attribute %q has no value", strings.TrimSpace(s[i:]))
		}
		key := strings.ToLower(strings.TrimSpace(s[i : i+eq]))
		if key == "" || strings.ContainsAny(key, ";{}") {
			return nil, fmt.Errorf("invalid attribute name at offset %d", i)
		}
		i += eq + 1

		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}

		var value string
		if i < len(s) && s[i] == '{' {
			sb := &strings.Builder{}
			i++
			closed := false
			for i < len(s) {
				if s[i] == '}' {
					if i+1 < len(s) && s[i+1] == '}' {
						sb.WriteByte('}')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteByte(s[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated braced value for %q", key)
			}
			value = sb.String()
			for i < len(s) && s[i] != ';' {
				if s[i] != ' ' && s[i] != '\t' {
					return nil, fmt.Errorf("unexpected characters after braced value for %q", key)
				}
				i++
			}
		} else {
			end := strings.IndexByte(s[i:], ';')
			if end < 0 {
				end = len(s) - i
			}
			value = strings.TrimSpace(s[i : i+end])
			i += end
		}

		attrs[key] = value
	}

	return attrs, nil
}
