package filter

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

var glyphs = runes.Remove(runes.Predicate(func(r rune) bool {
	return unicode.IsControl(r) || unicode.Is(unicode.Co, r) || r == unicode.ReplacementChar
}))

// Normalize returns the nickname the way it's matched: without color
// markup, control characters or private use glyphs, and trimmed.
func Normalize(name string) string {
	stripped, _, err := transform.String(glyphs, StripColors(name))
	if err != nil {
		stripped = StripColors(name)
	}
	return strings.TrimSpace(stripped)
}

// StripColors removes color tags like [red], [#ff0000aa] and [].
// A doubled [[ is an escaped literal bracket.
func StripColors(s string) string {
	if !strings.Contains(s, "[") {
		return s
	}
	b := &strings.Builder{}
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '[' {
			b.WriteByte('[')
			i++
			continue
		}
		end := strings.IndexByte(s[i+1:], ']')
		if end == -1 || !isColorTag(s[i+1:i+1+end]) {
			b.WriteByte('[')
			continue
		}
		i += end + 1
	}
	return b.String()
}

func isColorTag(tag string) bool {
	if tag == "" {
		return true
	}
	if tag[0] == '#' {
		hex := tag[1:]
		if len(hex) != 3 && len(hex) != 4 && len(hex) != 6 && len(hex) != 8 {
			return false
		}
		for _, r := range hex {
			if !isHexDigit(r) {
				return false
			}
		}
		return true
	}
	_, found := colorNames[strings.ToLower(tag)]
	return found
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

var colorNames = map[string]struct{}{}

func init() {
	for _, name := range []string{
		"clear", "black", "white", "lightgray", "lightgrey", "gray", "grey", "darkgray", "darkgrey",
		"blue", "navy", "royal", "slate", "sky", "cyan", "teal", "green", "acid", "lime", "forest",
		"olive", "yellow", "gold", "goldenrod", "orange", "brown", "tan", "brick", "red", "scarlet",
		"crimson", "coral", "salmon", "pink", "magenta", "purple", "violet", "maroon", "accent",
		"unlaunched", "highlight", "stat", "negstat", "lightorange",
	} {
		colorNames[name] = struct{}{}
	}
}
