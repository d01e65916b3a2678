package pathresolver

import (
	"testing"

	"jsdebugcore/internal/config"
)

func TestFileSchemeStripped(t *testing.T) {
	r := New(config.Launch{})
	got, ok := r.URLToAbsolutePath("file:///w/app/a.js")
	if !ok || got != "/w/app/a.js" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
}

func TestPathMappingRuleWins(t *testing.T) {
	r := New(config.Launch{
		WebRoot: "/w",
		PathMapping: []config.PathMappingRule{
			{URLPrefix: "webpack:///", PathPrefix: "/w/src"},
		},
	})
	got, ok := r.URLToAbsolutePath("webpack:///a.ts")
	if !ok || got != "/w/src/a.ts" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
}

func TestWebRootFallbackWithIndexRewrite(t *testing.T) {
	r := New(config.Launch{WebRoot: "/w"})
	for _, in := range []string{"http://localhost:8080/", "http://localhost:8080"} {
		got, ok := r.URLToAbsolutePath(in)
		if !ok || got != "/w/index.html" {
			t.Fatalf("%q => got %q ok=%v", in, got, ok)
		}
	}
	got, ok := r.URLToAbsolutePath("http://localhost:8080/js/a.js")
	if !ok || got != "/w/js/a.js" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
}

func TestNoRuleNoWebRootFails(t *testing.T) {
	r := New(config.Launch{})
	if _, ok := r.URLToAbsolutePath("http://localhost/a.js"); ok {
		t.Fatal("expected no resolution without webRoot or matching rule")
	}
}

func TestAbsolutePathToURLRoundTrip(t *testing.T) {
	r := New(config.Launch{WebRoot: "/w"})
	u := r.AbsolutePathToURL("/w/js/a.js")
	if u != "/js/a.js" {
		t.Fatalf("got %q", u)
	}
	back, ok := r.URLToAbsolutePath("http://localhost" + u)
	if !ok || back != "/w/js/a.js" {
		t.Fatalf("round trip failed: %q ok=%v", back, ok)
	}
}
