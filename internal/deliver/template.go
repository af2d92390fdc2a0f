package deliver

import "strings"

// Render substitutes every {{var}} occurrence with its bound value.
// Declared variables without a binding render as empty string, never an
// error: a half-filled CSV row still produces a sendable message.
func Render(template string, vars map[string]string) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	// Unbound variables.
	for {
		start := strings.Index(out, "{{")
		if start < 0 {
			return out
		}
		end := strings.Index(out[start:], "}}")
		if end < 0 {
			return out
		}
		out = out[:start] + out[start+end+2:]
	}
}
