package launcher

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandEnv replaces %VAR% references, then $VAR and ${VAR} references, with
// environment values. Unset variables are left as written. A leading ~ is
// replaced with the home directory.
func ExpandEnv(s string) string {
	if s == "" {
		return s
	}
	s = expandPercent(s)
	s = expandDollar(s)
	if s == "~" || strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = filepath.Join(home, s[1:])
		}
	}
	return s
}

// expandDollar replaces $NAME and ${NAME} with set environment values and
// copies every other $ sequence through unchanged.
func expandDollar(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '$' || i+1 == len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}
		var name string
		end := i + 1
		if s[i+1] == '{' {
			closing := strings.IndexByte(s[i+2:], '}')
			if closing < 0 {
				b.WriteString(s[i:])
				break
			}
			name = s[i+2 : i+2+closing]
			end = i + 3 + closing
		} else {
			for end < len(s) && isNameByte(s[end], end == i+1) {
				end++
			}
			name = s[i+1 : end]
		}
		value, ok := os.LookupEnv(name)
		if name == "" || !ok {
			b.WriteString(s[i:end])
			if end == i+1 {
				b.WriteByte(s[end])
				end++
			}
		} else {
			b.WriteString(value)
		}
		i = end
	}
	return b.String()
}

func isNameByte(c byte, first bool) bool {
	if c == '_' || isLetter(c) {
		return true
	}
	return !first && c >= '0' && c <= '9'
}

func expandPercent(s string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(s, '%')
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start+1:], '%')
		if end < 0 {
			break
		}
		name := s[start+1 : start+1+end]
		value, ok := os.LookupEnv(name)
		if name == "" || !ok {
			b.WriteString(s[:start+1])
			s = s[start+1:]
			continue
		}
		b.WriteString(s[:start])
		b.WriteString(value)
		s = s[start+2+end:]
	}
	b.WriteString(s)
	return b.String()
}

// IsURI reports whether target looks like a protocol URI such as
// "spotify:" or "https://…" rather than a filesystem path.
func IsURI(target string) bool {
	if !strings.Contains(target, ":") {
		return false
	}
	if strings.Contains(target, `:\`) || strings.HasPrefix(target, `\\`) {
		return false
	}
	// C:/Program Files style drive path.
	if len(target) >= 3 && target[1] == ':' && target[2] == '/' && isLetter(target[0]) {
		return false
	}
	return !strings.HasPrefix(target, "/")
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
