// Package config holds the launch-time configuration table from spec.md §6.
package config

// PathMappingRule is one entry of the `pathMapping` launch option: an
// additional URL-prefix -> path-prefix rule consulted by
// internal/pathresolver before falling back to webRoot.
type PathMappingRule struct {
	URLPrefix  string
	PathPrefix string
}

// Launch is the parsed form of the DP `launch` request's arguments this
// core understands. Everything else in the request (browser binary,
// command-line flags, process launching) is the external collaborator
// spec.md §1 names; this core never sees it.
type Launch struct {
	// URL to navigate the target to after launch.
	URL string

	// WebRoot is the root directory used both for URL->path resolution
	// (internal/pathresolver) and for source-map sourceRoot rebasing.
	WebRoot string

	// PathMapping holds additional URL-prefix -> path-prefix rules,
	// consulted before WebRoot.
	PathMapping []PathMappingRule

	// SkipFiles holds glob patterns; sources matching one are blackboxed
	// at load time (internal/sources).
	SkipFiles []string

	// SmartStep enables internal/smartstep.
	SmartStep bool

	// SourceMapRenames enables scope-tree rename lookups in
	// internal/variables (consuming an external RenameProvider).
	SourceMapRenames bool

	// CustomDescriptionGenerator is JS source for a function rendering an
	// object to a string, used by internal/variables.
	CustomDescriptionGenerator string

	// CustomPropertiesGenerator is JS source for a function returning a
	// replacement object for an object's children, used by
	// internal/variables.
	CustomPropertiesGenerator string

	// OutFiles holds glob patterns fed to internal/predictor.
	OutFiles []string

	// WorkspaceCachePath is the directory for the predictor's persisted
	// cache file (spec.md §6, "Persisted state layout").
	WorkspaceCachePath string
}

// HasCustomGenerators reports whether either custom generator option was
// supplied, letting internal/variables skip building call-arg function
// declarations when neither is configured.
func (l Launch) HasCustomGenerators() bool {
	return l.CustomDescriptionGenerator != "" || l.CustomPropertiesGenerator != ""
}
