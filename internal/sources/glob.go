package sources

import "github.com/dlclark/regexp2"

// compileGlob turns a shell-style glob (as used by the `skipFiles` and
// `outFiles` launch options, spec.md §6) into a regexp2 pattern. regexp2
// is used rather than the standard library's regexp package because a
// glob's "**" segment needs a non-greedy ".*" that can still be anchored
// against the surrounding path separators, which is easiest to express
// with regexp2's fuller PCRE-like syntax; it is also already a teacher
// dependency (pulled in indirectly for goja's own regex engine).
func compileGlob(pattern string) (*regexp2.Regexp, error) {
	var out []byte
	out = append(out, '^')
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				out = append(out, []byte(".*")...)
				i++
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
				}
			} else {
				out = append(out, []byte("[^/]*")...)
			}
		case '?':
			out = append(out, []byte("[^/]")...)
		case '.', '+', '(', ')', '^', '$', '|', '\\':
			out = append(out, '\\', byte(c))
		case '{':
			out = append(out, '(')
		case '}':
			out = append(out, ')')
		case ',':
			out = append(out, '|')
		default:
			out = append(out, string(c)...)
		}
	}
	out = append(out, '$')
	return regexp2.Compile(string(out), regexp2.None)
}

// matcher holds the compiled patterns for one skipFiles/outFiles list.
type matcher struct {
	patterns []*regexp2.Regexp
	sources  []string
}

func newMatcher(globs []string) *matcher {
	m := &matcher{sources: globs}
	for _, g := range globs {
		if re, err := compileGlob(g); err == nil {
			m.patterns = append(m.patterns, re)
		}
	}
	return m
}

func (m *matcher) match(path string) bool {
	for _, re := range m.patterns {
		if ok, _ := re.MatchString(path); ok {
			return true
		}
	}
	return false
}
