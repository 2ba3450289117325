package htmlutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/css/scanner"
	"github.com/lucasb-eyer/go-colorful"
)

// ParseStyle parses an inline style attribute into lowercase property names mapped to their
// trimmed values, later declarations win like they do in the browser. Strings, url() and
// function arguments are kept whole, so a ';' or ':' inside them does not split a declaration.
func ParseStyle(style string) map[string]string {
	out := map[string]string{}

	var name, value strings.Builder
	inValue := false
	depth := 0
	flush := func() {
		property := strings.ToLower(strings.TrimSpace(name.String()))
		v := strings.TrimSpace(value.String())
		v = strings.TrimSpace(strings.TrimSuffix(v, "!important"))
		if inValue && property != "" && v != "" {
			out[property] = v
		}
		name.Reset()
		value.Reset()
		inValue = false
		depth = 0
	}

	s := scanner.New(style)
	for {
		token := s.Next()
		switch token.Type {
		case scanner.TokenEOF, scanner.TokenError:
			flush()
			return out
		case scanner.TokenComment:
			continue
		case scanner.TokenFunction:
			depth++
		case scanner.TokenChar:
			switch {
			case token.Value == ";" && depth == 0:
				flush()
				continue
			case token.Value == ":" && depth == 0 && !inValue:
				inValue = true
				continue
			case token.Value == "(":
				depth++
			case token.Value == ")" && depth > 0:
				depth--
			}
		}

		if inValue {
			value.WriteString(token.Value)
		} else {
			name.WriteString(token.Value)
		}
	}
}

var rgbRegex = regexp.MustCompile(`^rgba?\((\d{1,3}),(\d{1,3}),(\d{1,3})(?:,[\d.]+)?\)$`)

// NormalizeColor turns the different spellings of a css color into a single comparable
// form: hex and rgb() colors become lowercase 6 digit hex, anything else (named colors)
// is lowercased with whitespace removed.
func NormalizeColor(color string) string {
	color = strings.ToLower(strings.Join(strings.Fields(color), ""))
	if color == "" {
		return ""
	}

	if strings.HasPrefix(color, "#") {
		parsed, err := colorful.Hex(color)
		if err != nil {
			return color
		}
		return parsed.Hex()
	}

	groups := rgbRegex.FindStringSubmatch(color)
	if len(groups) == 4 {
		var channels [3]float64
		for i := range channels {
			n, err := strconv.Atoi(groups[i+1])
			if err != nil || n > 255 {
				return color
			}
			channels[i] = float64(n) / 255
		}
		return colorful.Color{R: channels[0], G: channels[1], B: channels[2]}.Hex()
	}

	return color
}

// ToHex is NormalizeColor for colors that are expected to be hex, it errors otherwise.
func ToHex(color string) (string, error) {
	normalized := NormalizeColor(color)
	if _, err := colorful.Hex(normalized); err != nil {
		return "", fmt.Errorf("not a hex color: %q", color)
	}
	return normalized, nil
}
