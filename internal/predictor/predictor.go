// Package predictor implements C4: the BreakpointPredictor that scans a
// project's build output ahead of the debuggee connecting, so a
// breakpoint set on an authored source can resolve before any script has
// actually parsed, per spec.md §4.4.
package predictor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"jsdebugcore/internal/config"
	"jsdebugcore/internal/location"
	"jsdebugcore/internal/pathresolver"
	"jsdebugcore/internal/sourcemap"
)

// FileMetadata is one entry a Repository streams during a scan: a
// compiled file, the source map URL embedded in (or beside) it, and its
// on-disk modification time, used as the cache invalidation key.
type FileMetadata struct {
	CompiledPath string
	SourceMapURL string
	ModTime      time.Time
}

// Repository is the external collaborator spec.md §4.4 names: it streams
// FileMetadata for every file matching the configured OutFiles globs.
// The real implementation walks the filesystem; this package only needs
// the stream.
type Repository interface {
	Scan(ctx context.Context, globs []string) (<-chan FileMetadata, error)
}

// MapLoader fetches the raw bytes of a source map, keyed by the compiled
// file that references it.
type MapLoader func(ctx context.Context, compiledPath, sourceMapURL string) ([]byte, error)

// DiscoveredMetadata is one authored source this predictor found while
// scanning a compiled file's source map.
type DiscoveredMetadata struct {
	ResolvedPath string
	SourceURL    string
	CompiledPath string
	SourceMapURL string
	ModTime      time.Time
}

// PredictedBreakpoint is one requested breakpoint's resolved compiled
// counterparts, queryable back out via PredictedResolvedLocations.
type PredictedBreakpoint struct {
	AuthoredPath string
	Line, Column int
	Compiled     []location.Location
}

// Predictor runs one scan per root directory at launch, in parallel with
// connection setup, per spec.md §4.4.
type Predictor struct {
	repo     Repository
	loader   MapLoader
	resolver *pathresolver.Resolver
	cache    *fileCache

	longThreshold    time.Duration
	onLongPrediction func()

	ready     chan struct{}
	readyOnce sync.Once

	mu          sync.Mutex
	bySource    map[string][]DiscoveredMetadata
	mapsByFile  map[string]*sourcemap.Map
	predictions map[predictionKey][]location.Location
}

type predictionKey struct {
	authoredPath string
	line, column int
}

// New builds a Predictor bound to its scan collaborators. onLongPrediction
// is invoked at most once, after longThreshold elapses without the
// initial scan completing; it may be nil.
func New(repo Repository, loader MapLoader, resolver *pathresolver.Resolver, longThreshold time.Duration, onLongPrediction func()) *Predictor {
	if longThreshold <= 0 {
		longThreshold = 10 * time.Second
	}
	return &Predictor{
		repo:             repo,
		loader:           loader,
		resolver:         resolver,
		longThreshold:    longThreshold,
		onLongPrediction: onLongPrediction,
		ready:            make(chan struct{}),
		bySource:         map[string][]DiscoveredMetadata{},
		mapsByFile:       map[string]*sourcemap.Map{},
		predictions:      map[predictionKey][]location.Location{},
	}
}

// WithCache attaches an on-disk mtime-correlated cache at cachePath, per
// spec.md §6's persisted state layout. Reads and writes are best-effort:
// a corrupt or unwritable cache never fails the scan, it's just not used.
func (p *Predictor) WithCache(cachePath string) *Predictor {
	p.cache = newFileCache(cachePath)
	return p
}

// PrepareToPredict starts the scan and returns a channel closed once it
// completes, per spec.md §4.4's `prepareToPredict() -> future`. Safe to
// call once; later calls return the same channel.
func (p *Predictor) PrepareToPredict(ctx context.Context, cfg config.Launch) <-chan struct{} {
	p.readyOnce.Do(func() {
		go p.run(ctx, cfg)
	})
	return p.ready
}

func (p *Predictor) run(ctx context.Context, cfg config.Launch) {
	defer close(p.ready)

	timer := time.AfterFunc(p.longThreshold, func() {
		if p.onLongPrediction != nil {
			p.onLongPrediction()
		}
	})
	defer timer.Stop()

	files, err := p.repo.Scan(ctx, cfg.OutFiles)
	if err != nil {
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, 8)
	for f := range files {
		f := f
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.scanOne(ctx, f)
		}()
	}
	wg.Wait()

	if p.cache != nil {
		p.cache.flush()
	}
}

func (p *Predictor) scanOne(ctx context.Context, f FileMetadata) {
	if p.cache != nil {
		if entries, ok := p.cache.read(f.CompiledPath, f.ModTime); ok {
			p.store(entries)
			return
		}
	}

	smap, entries := p.loadAndIndex(ctx, f)
	if smap == nil {
		return
	}

	p.store(entries)
	if p.cache != nil {
		p.cache.write(f.CompiledPath, f.ModTime, entries)
	}
}

// loadAndIndex fetches and parses a compiled file's source map, caching
// the parsed Map in memory (predictBreakpoints needs it for generated-
// position lookups, which a plain on-disk cache entry can't answer).
func (p *Predictor) loadAndIndex(ctx context.Context, f FileMetadata) (*sourcemap.Map, []DiscoveredMetadata) {
	if f.SourceMapURL == "" || p.loader == nil {
		return nil, nil
	}
	raw, err := p.loader(ctx, f.CompiledPath, f.SourceMapURL)
	if err != nil {
		return nil, nil
	}
	smap, err := sourcemap.Parse(sourcemap.Metadata{SourceMapURL: f.SourceMapURL, CompiledPath: f.CompiledPath}, raw, nil)
	if err != nil {
		return nil, nil
	}

	p.mu.Lock()
	p.mapsByFile[f.CompiledPath] = smap
	p.mu.Unlock()

	var entries []DiscoveredMetadata
	for _, url := range smap.SourceURLs() {
		abs, ok := p.resolver.URLToAbsolutePath(url)
		if !ok {
			continue
		}
		entries = append(entries, DiscoveredMetadata{
			ResolvedPath: abs,
			SourceURL:    url,
			CompiledPath: f.CompiledPath,
			SourceMapURL: f.SourceMapURL,
			ModTime:      f.ModTime,
		})
	}
	return smap, entries
}

// mapFor returns the in-memory parsed Map for a compiled file, reloading
// it via the loader if this entry was only ever seen as a cache hit.
func (p *Predictor) mapFor(ctx context.Context, e DiscoveredMetadata) *sourcemap.Map {
	p.mu.Lock()
	smap, ok := p.mapsByFile[e.CompiledPath]
	p.mu.Unlock()
	if ok {
		return smap
	}
	smap, _ = p.loadAndIndex(ctx, FileMetadata{CompiledPath: e.CompiledPath, SourceMapURL: e.SourceMapURL, ModTime: e.ModTime})
	return smap
}

func (p *Predictor) store(entries []DiscoveredMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		p.bySource[e.ResolvedPath] = append(p.bySource[e.ResolvedPath], e)
	}
}

// GetPredictionForSource returns every compiled file discovered to
// produce absPath via a source map, if the scan has found any.
func (p *Predictor) GetPredictionForSource(absPath string) ([]DiscoveredMetadata, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries, ok := p.bySource[absPath]
	return entries, ok
}

// PredictBreakpoints implements spec.md §4.4's `predictBreakpoints`: for
// each requested breakpoint on an authored source, look up its compiled
// counterparts and compute a generated position with LeastUpper bias.
func (p *Predictor) PredictBreakpoints(ctx context.Context, authoredPath string, lines []struct{ Line, Column int }) []PredictedBreakpoint {
	entries, ok := p.GetPredictionForSource(authoredPath)
	if !ok {
		return nil
	}

	out := make([]PredictedBreakpoint, 0, len(lines))
	for _, rc := range lines {
		pb := PredictedBreakpoint{AuthoredPath: authoredPath, Line: rc.Line, Column: rc.Column}
		for _, e := range entries {
			smap := p.mapFor(ctx, e)
			if smap == nil {
				continue
			}
			pos, found := smap.FindGeneratedPosition(e.SourceURL, rc.Line, rc.Column, sourcemap.LeastUpper)
			if !found {
				continue
			}
			pb.Compiled = append(pb.Compiled, location.Location{URL: e.CompiledPath, LineNumber: pos.Line, ColumnNumber: pos.Column})
		}
		p.mu.Lock()
		p.predictions[predictionKey{authoredPath, rc.Line, rc.Column}] = pb.Compiled
		p.mu.Unlock()
		out = append(out, pb)
	}
	return out
}

// PredictedResolvedLocations answers spec.md §4.4's
// `predictedResolvedLocations(authoredLoc) -> [compiledLoc]`.
func (p *Predictor) PredictedResolvedLocations(authoredPath string, line, column int) []location.Location {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.predictions[predictionKey{authoredPath, line, column}]
}

// fileCache is the best-effort, mtime-correlated on-disk cache spec.md
// §4.4 and §6 describe. It is loaded once and flushed once at the end of
// a scan rather than written per-file, since scans run once per launch.
type fileCache struct {
	path string

	mu      sync.Mutex
	entries map[string]cacheEntry
	dirty   bool
}

type cacheEntry struct {
	ModTime time.Time
	Found   []DiscoveredMetadata
}

func newFileCache(path string) *fileCache {
	c := &fileCache{path: path, entries: map[string]cacheEntry{}}
	c.load()
	return c
}

func (c *fileCache) load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var entries map[string]cacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

func (c *fileCache) read(compiledPath string, modTime time.Time) ([]DiscoveredMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[compiledPath]
	if !ok || !e.ModTime.Equal(modTime) {
		return nil, false
	}
	return e.Found, true
}

func (c *fileCache) write(compiledPath string, modTime time.Time, entries []DiscoveredMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[compiledPath] = cacheEntry{ModTime: modTime, Found: entries}
	c.dirty = true
}

func (c *fileCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" || !c.dirty {
		return
	}
	data, err := json.Marshal(c.entries)
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(c.path), 0o755)
	_ = os.WriteFile(c.path, data, 0o644)
}
