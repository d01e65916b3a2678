// Package sources implements C2 (SourceContainer) and the Source entity
// from spec.md §3: the registry of all live sources, owner of the
// compiled<->original graph derived from source maps, and the UI<->raw
// location translator every other component consults.
package sources

import (
	"context"
	"fmt"
	"sync"

	"jsdebugcore/internal/config"
	"jsdebugcore/internal/location"
	"jsdebugcore/internal/pathresolver"
	"jsdebugcore/internal/sourcemap"
)

// InlineRange is the {startLine, startColumn, endLine, endColumn} offset
// for a <script> tag embedded in an HTML document, spec.md §3.
type InlineRange struct {
	StartLine, StartColumn, EndLine, EndColumn int
}

// ResolvedPath is a Source's on-disk identity, if any.
type ResolvedPath struct {
	AbsolutePath string
	Name         string
}

// ContentGetter lazily fetches a Source's original text. Reading content
// is a suspension point per spec.md §5.
type ContentGetter func(ctx context.Context) (string, error)

// MapLoader fetches the raw bytes of a source map URL, and is also handed
// to sourcemap.Parse as the section fetcher for indexed maps.
type MapLoader func(ctx context.Context, url string) ([]byte, error)

// origin holds the back-links from an original Source to every compiled
// Source whose map currently produces it. spec.md §3: "A weak 'origin'
// index tracks compiled owners of an original so it is dropped when the
// last compiled goes away."
type origin struct {
	compiled   map[*Source]struct{}
	inlined    bool
	blackboxed bool
}

// Source is the value described in spec.md §3. Exactly one of
// sourceMapChildren (compiled) or origin (original) is set; which one is
// tracked by the smap/isOriginal fields rather than a tagged union, since
// Go has no sum types — see SPEC_FULL.md §3.
type Source struct {
	mu sync.Mutex

	ref           int
	url           string
	contentGetter ContentGetter
	sourceMapURL  string
	inlineRange   *InlineRange
	resolvedPath  *ResolvedPath

	// Set when this is a compiled source with a loaded map.
	smap     *sourcemap.Map
	children map[string]*Source // originalURL -> Source

	// Set when this is an original source produced by some compiled
	// source's map.
	isOriginal bool
	origin     *origin
}

// Ref returns the stable sourceReference DAP identifies this source by.
// Per spec.md §3, 0 would mean "use ResolvedPath.AbsolutePath" but this
// container never mints 0 — callers translate at the DP boundary.
func (s *Source) Ref() int { return s.ref }

func (s *Source) URL() string { return s.url }

func (s *Source) ResolvedPath() *ResolvedPath {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolvedPath
}

func (s *Source) InlineRange() *InlineRange { return s.inlineRange }

// Content fetches the source's original text.
func (s *Source) Content(ctx context.Context) (string, error) {
	if s.contentGetter == nil {
		return "", fmt.Errorf("sources: no content getter for %s", s.url)
	}
	return s.contentGetter(ctx)
}

// IsCompiled reports whether this is a compiled (runtime script) source
// rather than an original produced by a map; a compiled source need not
// have a source map.
func (s *Source) IsCompiled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.isOriginal
}

// Map returns the loaded source map for a compiled Source, or nil if it
// has none (no sourceMapURL) or the map failed to parse.
func (s *Source) Map() *sourcemap.Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.smap
}

// Blackboxed reports whether an original source has been blackboxed,
// either directly (ToggleBlackbox on it) or because its url matched a
// configured skipFiles pattern. It is always false for a compiled source.
func (s *Source) Blackboxed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOriginal && s.origin != nil && s.origin.blackboxed
}

// NewCompiled constructs a compiled Source (a runtime script). If
// sourceMapURL is non-empty, call Container.AddSource to load its map and
// populate children.
func NewCompiled(ref int, url string, content ContentGetter, sourceMapURL string, inline *InlineRange) *Source {
	return &Source{
		ref:           ref,
		url:           url,
		contentGetter: content,
		sourceMapURL:  sourceMapURL,
		inlineRange:   inline,
	}
}

func newOriginal(ref int, url string, content ContentGetter, compiled *Source) *Source {
	return &Source{
		ref:           ref,
		url:           url,
		contentGetter: content,
		isOriginal:    true,
		origin: &origin{
			compiled: map[*Source]struct{}{compiled: {}},
		},
	}
}

// Reason distinguishes why a loadedSource event fired, per spec.md §4.2.
type Reason int

const (
	ReasonNew Reason = iota
	ReasonRemoved
)

func (r Reason) String() string {
	if r == ReasonRemoved {
		return "removed"
	}
	return "new"
}

// LoadedSourceEvent mirrors the DP `loadedSource` event body.
type LoadedSourceEvent struct {
	Reason Reason
	Source *Source
}

// BlackboxChangedEvent is emitted whenever ToggleBlackbox flips a flag
// that could change per-compiled blackboxed ranges (spec.md §4.2).
type BlackboxChangedEvent struct {
	Compiled *Source
}

// Container is C2: the registry of every live Source, keyed by
// sourceReference, plus the compiled<->original graph.
type Container struct {
	mu sync.Mutex

	resolver *pathresolver.Resolver
	mapLoad  MapLoader

	nextRef int
	byRef   map[int]*Source
	byURL   map[string]*Source // compiled and original sources, by URL

	skip *matcher

	loadedListeners   []func(LoadedSourceEvent)
	blackboxListeners []func(BlackboxChangedEvent)
}

// NewContainer builds an empty Container bound to a path resolver and a
// map-loading collaborator (reading *.map files, or following an inline
// data: URL, is outside this core — spec.md §1).
func NewContainer(cfg config.Launch, resolver *pathresolver.Resolver, mapLoad MapLoader) *Container {
	return &Container{
		resolver: resolver,
		mapLoad:  mapLoad,
		nextRef:  1,
		byRef:    map[int]*Source{},
		byURL:    map[string]*Source{},
		skip:     newMatcher(cfg.SkipFiles),
	}
}

// OnLoadedSource registers a listener for loadedSource events.
func (c *Container) OnLoadedSource(fn func(LoadedSourceEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedListeners = append(c.loadedListeners, fn)
}

// OnBlackboxChanged registers a listener for BlackboxedPositionsChanged.
func (c *Container) OnBlackboxChanged(fn func(BlackboxChangedEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blackboxListeners = append(c.blackboxListeners, fn)
}

// NextRef mints the next sourceReference. Exported so Thread can request
// one when announcing an anonymous script before the Source itself is
// fully built.
func (c *Container) NextRef() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref := c.nextRef
	c.nextRef++
	return ref
}

// AddSource registers a new compiled source, resolves its path, loads its
// source map if any, and emits loadedSource{new} for it and for every
// original source the map produces. Per spec.md §4.2, a load failure
// leaves the compiled source registered, map-less, with no children; the
// load error is still returned to the caller.
func (c *Container) AddSource(ctx context.Context, s *Source) error {
	c.mu.Lock()
	if path, ok := c.resolver.URLToAbsolutePath(s.url); ok {
		s.resolvedPath = &ResolvedPath{AbsolutePath: path, Name: baseName(path)}
	}
	c.byRef[s.ref] = s
	if s.url != "" {
		c.byURL[s.url] = s
	}
	mapURL := s.sourceMapURL
	skip := c.skip
	c.mu.Unlock()

	c.emitLoaded(LoadedSourceEvent{Reason: ReasonNew, Source: s})

	if mapURL == "" {
		return nil
	}
	return c.loadMap(ctx, s, mapURL, skip)
}

func (c *Container) loadMap(ctx context.Context, s *Source, mapURL string, skip *matcher) error {
	raw, err := c.mapLoad(ctx, mapURL)
	if err != nil {
		return fmt.Errorf("sources: loading map %s: %w", mapURL, err)
	}

	fetch := func(u string) ([]byte, error) { return c.mapLoad(ctx, u) }
	smap, err := sourcemap.Parse(sourcemap.Metadata{SourceMapURL: mapURL, CompiledPath: s.url}, raw, fetch)
	if err != nil {
		// spec.md §4.1/§7: a late parse failure is a logged, one-time
		// warning, not a crash; the compiled source stays map-less.
		return err
	}

	s.mu.Lock()
	s.smap = smap
	s.children = map[string]*Source{}
	s.mu.Unlock()

	for _, origURL := range smap.SourceURLs() {
		child := c.attachOriginal(s, origURL, smap, skip)
		s.mu.Lock()
		s.children[origURL] = child
		s.mu.Unlock()
	}
	return nil
}

// attachOriginal returns the Source for origURL, creating it (and
// registering it) the first time, or adding `compiled` to its existing
// origin set if another compiled source already produced it — spec.md
// §4.2: "Multiple compiled sources may reference the same external
// original; they share one Source instance."
func (c *Container) attachOriginal(compiled *Source, origURL string, smap *sourcemap.Map, skip *matcher) *Source {
	c.mu.Lock()
	existing, ok := c.byURL[origURL]
	c.mu.Unlock()
	if ok && existing.isOriginal {
		existing.mu.Lock()
		existing.origin.compiled[compiled] = struct{}{}
		existing.mu.Unlock()
		return existing
	}

	ref := c.NextRef()
	inlined := false
	getter := func(ctx context.Context) (string, error) {
		if content, ok := smap.SourceContent(origURL); ok {
			return content, nil
		}
		if path, ok := c.resolver.URLToAbsolutePath(origURL); ok {
			return "", fmt.Errorf("sources: %s has no inlined content; read from %s", origURL, path)
		}
		return "", fmt.Errorf("sources: no content available for %s", origURL)
	}
	if _, ok := smap.SourceContent(origURL); ok {
		inlined = true
	}

	child := newOriginal(ref, origURL, getter, compiled)
	child.origin.inlined = inlined
	if skip != nil && skip.match(origURL) {
		child.origin.blackboxed = true
	}
	if path, ok := c.resolver.URLToAbsolutePath(origURL); ok {
		child.resolvedPath = &ResolvedPath{AbsolutePath: path, Name: baseName(path)}
	}

	c.mu.Lock()
	c.byRef[ref] = child
	c.byURL[origURL] = child
	c.mu.Unlock()

	c.emitLoaded(LoadedSourceEvent{Reason: ReasonNew, Source: child})
	return child
}

// RemoveSource is the symmetric teardown of AddSource: emits
// loadedSource{removed} and drops originals whose origin.compiled becomes
// empty.
func (c *Container) RemoveSource(s *Source) {
	c.mu.Lock()
	delete(c.byRef, s.ref)
	if s.url != "" {
		delete(c.byURL, s.url)
	}
	var children []*Source
	if !s.isOriginal {
		s.mu.Lock()
		for _, child := range s.children {
			children = append(children, child)
		}
		s.mu.Unlock()
	}
	c.mu.Unlock()

	c.emitLoaded(LoadedSourceEvent{Reason: ReasonRemoved, Source: s})

	for _, child := range children {
		child.mu.Lock()
		delete(child.origin.compiled, s)
		orphaned := len(child.origin.compiled) == 0
		child.mu.Unlock()
		if orphaned {
			c.RemoveSource(child)
		}
	}
}

// BySourceReference looks up a live Source by its sourceReference.
func (c *Container) BySourceReference(ref int) (*Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byRef[ref]
	return s, ok
}

// ByURL looks up a Source by URL: a compiled source by its runtime URL, or
// an original source by the URL its map lists.
func (c *Container) ByURL(url string) (*Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byURL[url]
	return s, ok
}

// UILocation translates a raw compiled-script location into a UI
// location, per spec.md §4.2: through the map if one is loaded, else
// shifted to one-based. Inline-script offsets are subtracted from the
// first line before map lookup.
func (c *Container) UILocation(s *Source, raw location.Location) location.UiLocation {
	line, col := raw.LineNumber, raw.ColumnNumber
	if ir := s.InlineRange(); ir != nil && line == ir.StartLine {
		col -= ir.StartColumn
	} else if ir != nil {
		line -= ir.StartLine
	}

	if smap := s.Map(); smap != nil {
		if origURL, pos, _, ok := smap.FindOriginalPosition(line, col); ok {
			s.mu.Lock()
			child := s.children[origURL]
			s.mu.Unlock()
			if child != nil {
				return location.UiLocation{SourceRef: child.ref, LineNumber: pos.Line + 1, ColumnNumber: pos.Column + 1}
			}
		}
	}

	return location.UiLocation{SourceRef: s.ref, LineNumber: line + 1, ColumnNumber: col + 1}
}

// RawLocations is the inverse of UILocation for an *original* UI
// location: every candidate compiled position across every compiled
// source that maps it, per spec.md §4.2 ("used by BreakpointManager").
func (c *Container) RawLocations(ui location.UiLocation) []location.Location {
	src, ok := c.BySourceReference(ui.SourceRef)
	if !ok {
		return nil
	}
	if src.IsCompiled() {
		return []location.Location{{URL: src.url, LineNumber: ui.LineNumber - 1, ColumnNumber: ui.ColumnNumber - 1}}
	}

	src.mu.Lock()
	var compiledSrcs []*Source
	for compiled := range src.origin.compiled {
		compiledSrcs = append(compiledSrcs, compiled)
	}
	src.mu.Unlock()

	var out []location.Location
	for _, compiled := range compiledSrcs {
		smap := compiled.Map()
		if smap == nil {
			continue
		}
		pos, ok := smap.FindGeneratedPosition(src.url, ui.LineNumber-1, ui.ColumnNumber-1, sourcemap.LeastUpper)
		if !ok {
			continue
		}
		out = append(out, location.Location{URL: compiled.url, LineNumber: pos.Line, ColumnNumber: pos.Column})
	}
	return out
}

// ToggleBlackbox flips an original source's blackbox flag, or (for
// sources with no map, i.e. plain on-disk sources reached directly) adds
// it to the url-pattern skip set, then notifies listeners so per-compiled
// blackboxed ranges are recomputed.
func (c *Container) ToggleBlackbox(s *Source) {
	s.mu.Lock()
	if s.isOriginal && s.origin != nil {
		s.origin.blackboxed = !s.origin.blackboxed
		var compiledSrcs []*Source
		for comp := range s.origin.compiled {
			compiledSrcs = append(compiledSrcs, comp)
		}
		s.mu.Unlock()
		for _, comp := range compiledSrcs {
			c.emitBlackbox(BlackboxChangedEvent{Compiled: comp})
		}
		return
	}
	s.mu.Unlock()

	c.mu.Lock()
	c.skip.sources = append(c.skip.sources, s.url)
	if re, err := compileGlob(s.url); err == nil {
		c.skip.patterns = append(c.skip.patterns, re)
	}
	c.mu.Unlock()
	c.emitBlackbox(BlackboxChangedEvent{Compiled: s})
}

func (c *Container) emitLoaded(evt LoadedSourceEvent) {
	c.mu.Lock()
	listeners := append([]func(LoadedSourceEvent){}, c.loadedListeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(evt)
	}
}

func (c *Container) emitBlackbox(evt BlackboxChangedEvent) {
	c.mu.Lock()
	listeners := append([]func(BlackboxChangedEvent){}, c.blackboxListeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(evt)
	}
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
