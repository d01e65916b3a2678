package preview

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"jsdebugcore/internal/rp"
)

// Formatter renders one substitution argument for a given specifier
// (s,i,d,f,c,o,O), returning the text to splice in and whether the
// specifier is one this formatter handles at all — unknown specifiers
// are emitted literally, per spec.md §8 property 5.
type Formatter func(spec byte, arg rp.RemoteObject) (string, bool)

var specPattern = regexp.MustCompile(`%(?:(\d+)\$)?(?:\.(\d+))?([%sidfcoO])`)

// FormatMessage implements the printf-like tokenizer spec.md §4.10 and
// §8 property 5 describe: %% -> literal %, positional %N$, precision .N,
// caller-supplied type specifiers, with every argument appearing exactly
// once — substituted in place, or appended space-separated at the end if
// unused.
func FormatMessage(format string, args []rp.RemoteObject, fmtr Formatter) string {
	used := make([]bool, len(args))
	nextPositional := 0

	var out strings.Builder
	last := 0
	for _, m := range specPattern.FindAllStringSubmatchIndex(format, -1) {
		out.WriteString(format[last:m[0]])
		last = m[1]

		posStr := submatch(format, m, 1)
		precStr := submatch(format, m, 2)
		spec := format[m[4]:m[5]][0]

		if spec == '%' {
			out.WriteByte('%')
			continue
		}

		idx := nextPositional
		if posStr != "" {
			if n, err := strconv.Atoi(posStr); err == nil && n >= 1 {
				idx = n - 1
			}
		}

		if idx < 0 || idx >= len(args) {
			// No argument available: emit the specifier literally,
			// including its precision, per spec.md §8 property 5.
			out.WriteString(format[m[0]:m[1]])
			continue
		}

		text, handled := fmtr(byte(spec), args[idx])
		if !handled {
			out.WriteString(format[m[0]:m[1]])
			continue
		}
		if precStr != "" {
			if n, err := strconv.Atoi(precStr); err == nil && n >= 0 && n < len(text) {
				text = text[:n]
			}
		}
		out.WriteString(text)
		used[idx] = true
		if posStr == "" {
			nextPositional = idx + 1
		}
	}
	out.WriteString(format[last:])

	var leftover []string
	anySubstituted := false
	for _, u := range used {
		if u {
			anySubstituted = true
		}
	}
	for i, u := range used {
		if !u {
			leftover = append(leftover, describeScalar(args[i]))
		}
	}

	result := out.String()
	if len(leftover) == 0 {
		return result
	}
	if result == "" && !anySubstituted && format == "" {
		return strings.Join(leftover, " ")
	}
	return strings.Join(append([]string{result}, leftover...), " ")
}

func submatch(s string, m []int, group int) string {
	lo, hi := m[2*group], m[2*group+1]
	if lo < 0 {
		return ""
	}
	return s[lo:hi]
}

// DefaultFormatter renders %s/%i/%d/%f from a RemoteObject's scalar
// description, %o/%O as an object preview, and %c by consuming one CSS
// declaration block and turning it into ANSI escapes — the console
// styling idiom spec.md §4.10 calls for, done the same way the teacher's
// CLI front-end drives terminal color: raw `\033[...m` sequences built
// from `fatih/color` attribute values rather than a higher-level styling
// library.
func DefaultFormatter(spec byte, arg rp.RemoteObject) (string, bool) {
	switch spec {
	case 's':
		return describeScalar(arg), true
	case 'i', 'd':
		return truncateToInt(describeScalar(arg)), true
	case 'f':
		return describeScalar(arg), true
	case 'o', 'O':
		return Preview(arg, BudgetREPL), true
	case 'c':
		return cssToANSI(describeScalar(arg)), true
	default:
		return "", false
	}
}

func truncateToInt(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.Itoa(int(n))
	}
	return s
}

// cssToANSI maps a small, practical subset of CSS declarations
// (color, background-color, font-weight: bold) to ANSI escape sequences.
// Declarations it does not recognise are dropped rather than surfaced as
// an error, matching spec.md §4.10's silence on unsupported CSS.
func cssToANSI(css string) string {
	var codes []string
	for _, decl := range strings.Split(css, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		parts := strings.SplitN(decl, ":", 2)
		if len(parts) != 2 {
			continue
		}
		prop := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch prop {
		case "color":
			if attr, ok := namedFgColor(val); ok {
				codes = append(codes, strconv.Itoa(int(attr)))
			}
		case "background-color", "background":
			if attr, ok := namedBgColor(val); ok {
				codes = append(codes, strconv.Itoa(int(attr)))
			}
		case "font-weight":
			if val == "bold" {
				codes = append(codes, strconv.Itoa(int(color.Bold)))
			}
		}
	}
	if len(codes) == 0 {
		return "\033[0m"
	}
	return fmt.Sprintf("\033[%sm", strings.Join(codes, ";"))
}

var fgColors = map[string]color.Attribute{
	"red": color.FgRed, "green": color.FgGreen, "yellow": color.FgYellow,
	"blue": color.FgBlue, "magenta": color.FgMagenta, "cyan": color.FgCyan,
	"white": color.FgWhite, "black": color.FgBlack,
}

var bgColors = map[string]color.Attribute{
	"red": color.BgRed, "green": color.BgGreen, "yellow": color.BgYellow,
	"blue": color.BgBlue, "magenta": color.BgMagenta, "cyan": color.BgCyan,
	"white": color.BgWhite, "black": color.BgBlack,
}

func namedFgColor(v string) (color.Attribute, bool) {
	a, ok := fgColors[strings.ToLower(v)]
	return a, ok
}

func namedBgColor(v string) (color.Attribute, bool) {
	a, ok := bgColors[strings.ToLower(v)]
	return a, ok
}
