// Package sourcemap implements C1: a parsed, queryable source map value
// object. Parsing itself leans on github.com/go-sourcemap/sourcemap (a
// teacher dependency, promoted here from indirect to direct use) for the
// forward generated->original query and inlined source content; this
// package adds the bidirectional index findGeneratedPosition needs, which
// that library does not expose, by decoding the same "mappings" VLQ string
// itself (vlq.go).
package sourcemap

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	gosourcemap "github.com/go-sourcemap/sourcemap"
)

var errInvalidVLQ = errors.New("sourcemap: invalid VLQ segment")

// Bias controls which side of a gap findGeneratedPosition resolves to
// when no exact mapping row exists at the requested original position.
type Bias int

const (
	// LeastUpper resolves to the first mapping at or after the position,
	// or, when the source has none at or after it, to the last one before.
	LeastUpper Bias = iota
	// GreatestLower resolves to the last mapping at or before the position.
	GreatestLower
)

// Position is a zero-based (line, column) pair, matching the internal
// Location convention in spec.md §3.
type Position struct {
	Line   int
	Column int
}

// Metadata identifies a parsed map: the URL it was fetched from, the
// compiled script it decorates, and a cache key for internal/predictor's
// persisted index.
type Metadata struct {
	SourceMapURL string
	CompiledPath string
	CacheKey     string
}

// ParseError is returned when the map JSON is malformed. Callers
// (internal/sources) must wrap dependent operations so a late parse
// failure surfaces once per map as a user-visible warning, never a crash,
// per spec.md §4.1 and §7.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sourcemap: failed to parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type mappingRow struct {
	genLine, genCol   int
	origURL           string
	origLine, origCol int
	name              string
	hasOrig           bool
}

// Map is the immutable, queryable value object. Zero value is not usable;
// construct with Parse or ParseIndexed.
type Map struct {
	metadata Metadata
	sources  []string
	hasNames bool
	content  map[string]string

	consumer *gosourcemap.Consumer // forward queries + SourceContent fallback

	// rows sorted by (genLine, genCol) and by (origURL, origLine, origCol)
	// for the two query directions.
	byGenerated []mappingRow
	byOriginal  []mappingRow

	// Warnings collected while resolving section URLs of an indexed map;
	// non-nil only for maps built with ParseIndexed. The map still exposes
	// whatever sections resolved, per spec.md §4.1.
	Warnings []error
}

type rawSourceMap struct {
	Version        int               `json:"version"`
	File           string            `json:"file,omitempty"`
	SourceRoot     string            `json:"sourceRoot,omitempty"`
	Sources        []string          `json:"sources"`
	SourcesContent []*string         `json:"sourcesContent,omitempty"`
	Names          []string          `json:"names,omitempty"`
	Mappings       string            `json:"mappings"`
	Sections       []rawSection      `json:"sections,omitempty"`
}

type rawSection struct {
	Offset struct {
		Line   int `json:"line"`
		Column int `json:"column"`
	} `json:"offset"`
	URL string          `json:"url,omitempty"`
	Map json.RawMessage `json:"map,omitempty"`
}

// Parse parses a single (non-indexed) or indexed source map payload. For
// an indexed map whose sections reference external URLs, fetch is used to
// retrieve them; it may be nil if every section embeds its map inline.
// A fetch failure for one section is recorded in the returned Map's
// Warnings and that section is skipped, per spec.md §4.1's "best-effort
// warning on partial failure" rule.
func Parse(metadata Metadata, raw []byte, fetch func(url string) ([]byte, error)) (*Map, error) {
	var header struct {
		Sections []rawSection `json:"sections,omitempty"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, &ParseError{URL: metadata.SourceMapURL, Err: err}
	}
	if len(header.Sections) > 0 {
		return parseIndexed(metadata, raw, fetch)
	}
	return parseFlat(metadata, raw)
}

func parseFlat(metadata Metadata, raw []byte) (*Map, error) {
	var rsm rawSourceMap
	if err := json.Unmarshal(raw, &rsm); err != nil {
		return nil, &ParseError{URL: metadata.SourceMapURL, Err: err}
	}

	consumer, err := gosourcemap.Parse(metadata.SourceMapURL, raw)
	if err != nil {
		return nil, &ParseError{URL: metadata.SourceMapURL, Err: err}
	}

	m := &Map{
		metadata: metadata,
		sources:  absoluteSources(rsm),
		hasNames: len(rsm.Names) > 0,
		content:  map[string]string{},
		consumer: consumer,
	}
	for i, src := range m.sources {
		if i < len(rsm.SourcesContent) && rsm.SourcesContent[i] != nil {
			m.content[src] = *rsm.SourcesContent[i]
		}
	}

	if err := m.indexMappings(rsm, 0, 0); err != nil {
		return nil, &ParseError{URL: metadata.SourceMapURL, Err: err}
	}
	m.finalize()
	return m, nil
}

func parseIndexed(metadata Metadata, raw []byte, fetch func(url string) ([]byte, error)) (*Map, error) {
	var rsm rawSourceMap
	if err := json.Unmarshal(raw, &rsm); err != nil {
		return nil, &ParseError{URL: metadata.SourceMapURL, Err: err}
	}

	m := &Map{
		metadata: metadata,
		content:  map[string]string{},
	}

	for _, section := range rsm.Sections {
		payload := section.Map
		if len(payload) == 0 && section.URL != "" {
			if fetch == nil {
				m.Warnings = append(m.Warnings, fmt.Errorf("sourcemap: section %q has no fetcher", section.URL))
				continue
			}
			data, err := fetch(section.URL)
			if err != nil {
				m.Warnings = append(m.Warnings, fmt.Errorf("sourcemap: fetching section %q: %w", section.URL, err))
				continue
			}
			payload = data
		}
		if len(payload) == 0 {
			continue
		}

		var inner rawSourceMap
		if err := json.Unmarshal(payload, &inner); err != nil {
			m.Warnings = append(m.Warnings, &ParseError{URL: section.URL, Err: err})
			continue
		}

		base := len(m.sources)
		sources := absoluteSources(inner)
		m.sources = append(m.sources, sources...)
		m.hasNames = m.hasNames || len(inner.Names) > 0
		for i, src := range sources {
			if i < len(inner.SourcesContent) && inner.SourcesContent[i] != nil {
				m.content[src] = *inner.SourcesContent[i]
			}
		}

		if err := m.indexMappingsWithSourceBase(inner, section.Offset.Line, section.Offset.Column, base); err != nil {
			m.Warnings = append(m.Warnings, err)
			continue
		}

		if m.consumer == nil {
			if c, err := gosourcemap.Parse(section.URL, payload); err == nil {
				m.consumer = c
			}
		}
	}

	m.finalize()
	return m, nil
}

func absoluteSources(rsm rawSourceMap) []string {
	out := make([]string, len(rsm.Sources))
	for i, s := range rsm.Sources {
		if rsm.SourceRoot != "" && !isAbsoluteURL(s) {
			out[i] = joinURL(rsm.SourceRoot, s)
		} else {
			out[i] = s
		}
	}
	return out
}

func isAbsoluteURL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return true
		}
		if s[i] == '/' {
			return i == 0
		}
	}
	return false
}

func joinURL(root, rel string) string {
	if root == "" {
		return rel
	}
	if root[len(root)-1] == '/' {
		return root + rel
	}
	return root + "/" + rel
}

func (m *Map) indexMappings(rsm rawSourceMap, lineOffset, colOffset int) error {
	return m.indexMappingsWithSourceBase(rsm, lineOffset, colOffset, 0)
}

func (m *Map) indexMappingsWithSourceBase(rsm rawSourceMap, lineOffset, colOffset, sourceBase int) error {
	segs, err := decodeVLQSegments(rsm.Mappings)
	if err != nil {
		return err
	}
	for li, line := range segs {
		genLine := li + lineOffset
		for _, seg := range line {
			genCol := seg[0]
			if li == 0 {
				genCol += colOffset
			}
			row := mappingRow{genLine: genLine, genCol: genCol}
			if len(seg) >= 4 {
				idx := seg[1] + sourceBase
				if idx >= 0 && idx < len(m.sources) {
					row.origURL = m.sources[idx]
					row.hasOrig = true
				}
				row.origLine = seg[2]
				row.origCol = seg[3]
			}
			if len(seg) >= 5 && m.hasNames {
				// names are looked up lazily via the consumer; storing the
				// raw index would require an extra slice this value type
				// doesn't otherwise need.
				row.name = ""
			}
			m.byGenerated = append(m.byGenerated, row)
			if row.hasOrig {
				m.byOriginal = append(m.byOriginal, row)
			}
		}
	}
	return nil
}

func (m *Map) finalize() {
	sort.Slice(m.byGenerated, func(i, j int) bool {
		a, b := m.byGenerated[i], m.byGenerated[j]
		if a.genLine != b.genLine {
			return a.genLine < b.genLine
		}
		return a.genCol < b.genCol
	})
	sort.Slice(m.byOriginal, func(i, j int) bool {
		a, b := m.byOriginal[i], m.byOriginal[j]
		if a.origURL != b.origURL {
			return a.origURL < b.origURL
		}
		if a.origLine != b.origLine {
			return a.origLine < b.origLine
		}
		return a.origCol < b.origCol
	})
}

// Metadata returns the map's identifying metadata.
func (m *Map) Metadata() Metadata { return m.metadata }

// SourceURLs returns every original URL this map lists, in declaration
// order (sections concatenated).
func (m *Map) SourceURLs() []string {
	out := make([]string, len(m.sources))
	copy(out, m.sources)
	return out
}

// HasNames reports whether the map carries a non-empty `names` table,
// consulted by internal/variables to decide whether a RenameProvider
// lookup can possibly succeed.
func (m *Map) HasNames() bool { return m.hasNames }

// SourceContent returns the inlined content for an original URL, if the
// map embedded sourcesContent for it.
func (m *Map) SourceContent(url string) (string, bool) {
	c, ok := m.content[url]
	return c, ok
}

// FindOriginalPosition maps a generated position to its original one, the
// direction go-sourcemap's Consumer natively supports. Our own index
// decides whether the position is mapped at all; the returned position
// then comes from the Consumer when there is one and it finds the
// position, else from our own index. For an indexed map the Consumer is
// the one parsed from its first inline section.
func (m *Map) FindOriginalPosition(genLine, genCol int) (origURL string, pos Position, name string, ok bool) {
	rows := m.byGenerated
	i := sort.Search(len(rows), func(i int) bool {
		r := rows[i]
		return r.genLine > genLine || (r.genLine == genLine && r.genCol > genCol)
	})
	if i == 0 {
		return "", Position{}, "", false
	}
	row := rows[i-1]
	if !row.hasOrig {
		return "", Position{}, "", false
	}
	if m.consumer != nil {
		if src, nm, line, col, found := m.consumer.Source(genLine, genCol); found {
			return src, Position{Line: line, Column: col}, nm, true
		}
	}
	return row.origURL, Position{Line: row.origLine, Column: row.origCol}, row.name, true
}

// FindGeneratedPosition maps an original position back to a generated
// one. go-sourcemap's Consumer does not support this direction at all;
// this is purely served from the reverse index built from the mappings
// vlq.go decodes.
func (m *Map) FindGeneratedPosition(origURL string, line, col int, bias Bias) (Position, bool) {
	rows := m.byOriginal
	lo, hi := 0, len(rows)
	for lo < hi {
		mid := (lo + hi) / 2
		r := rows[mid]
		if r.origURL < origURL || (r.origURL == origURL && (r.origLine < line || (r.origLine == line && r.origCol < col))) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	match := func(i int) bool { return i >= 0 && i < len(rows) && rows[i].origURL == origURL }

	switch bias {
	case GreatestLower:
		i := lo - 1
		if !match(i) {
			return Position{}, false
		}
		return Position{Line: rows[i].genLine, Column: rows[i].genCol}, true
	default: // LeastUpper
		i := lo
		if !match(i) {
			i--
			if !match(i) {
				return Position{}, false
			}
		}
		return Position{Line: rows[i].genLine, Column: rows[i].genCol}, true
	}
}
