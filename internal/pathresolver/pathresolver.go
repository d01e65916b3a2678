// Package pathresolver implements C3: bidirectional URL<->absolute-path
// translation, driven by configuration (webRoot, pathMapping) rather than
// filesystem checks — per spec.md §4.3, results are not filesystem-checked
// in the hot path; callers decide.
package pathresolver

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"jsdebugcore/internal/config"
)

// Resolver translates between RuntimeProtocol script URLs and on-disk
// absolute paths.
type Resolver struct {
	webRoot string
	rules   []config.PathMappingRule
}

// New builds a Resolver from the launch configuration's webRoot and
// pathMapping options.
func New(cfg config.Launch) *Resolver {
	return &Resolver{webRoot: cfg.WebRoot, rules: cfg.PathMapping}
}

// URLToAbsolutePath implements spec.md §4.3: strip file:// schemes
// verbatim, else try configured prefix rules in order, else fall back to
// webRoot with the URL's pathname ("" or "/" treated as "index.html").
func (r *Resolver) URLToAbsolutePath(rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}
	if strings.HasPrefix(rawURL, "file://") {
		p := strings.TrimPrefix(rawURL, "file://")
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
		return filepath.FromSlash(p), true
	}

	for _, rule := range r.rules {
		if strings.HasPrefix(rawURL, rule.URLPrefix) {
			rest := strings.TrimPrefix(rawURL, rule.URLPrefix)
			return filepath.Join(rule.PathPrefix, filepath.FromSlash(rest)), true
		}
	}

	if r.webRoot == "" {
		return "", false
	}

	pathname := rawURL
	if u, err := url.Parse(rawURL); err == nil && (u.Path != "" || u.Host != "") {
		pathname = u.Path
	}
	pathname = strings.TrimPrefix(pathname, "/")
	if pathname == "" {
		pathname = "index.html"
	}
	return filepath.Join(r.webRoot, filepath.FromSlash(pathname)), true
}

// AbsolutePathToURL inverts URLToAbsolutePath: tries each configured rule,
// then webRoot, and otherwise falls back to a file:// URL so every path
// has *some* URL representation.
func (r *Resolver) AbsolutePathToURL(absPath string) string {
	slashPath := filepath.ToSlash(absPath)

	for _, rule := range r.rules {
		prefix := filepath.ToSlash(rule.PathPrefix)
		if strings.HasPrefix(slashPath, prefix) {
			rest := strings.TrimPrefix(slashPath, prefix)
			return rule.URLPrefix + strings.TrimPrefix(rest, "/")
		}
	}

	if r.webRoot != "" {
		root := filepath.ToSlash(r.webRoot)
		if strings.HasPrefix(slashPath, root) {
			rest := strings.TrimPrefix(strings.TrimPrefix(slashPath, root), "/")
			if rest == "index.html" {
				rest = ""
			}
			return "/" + rest
		}
	}

	return "file://" + path.Clean(slashPath)
}
