// Package logging centralizes the teacher's log-file-with-stderr-fallback
// convention (see goja's Debugger.NewDebugger, which opens "goja.debug.log"
// and falls back to os.Stderr) so every session-wide singleton gets a
// consistently-formatted *log.Logger instead of hardcoding a filename.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	file    *os.File
	dir     = "."
)

// SetDir points subsequent New calls at a session directory for the shared
// log file. Call once before any component logger is created.
func SetDir(path string) {
	mu.Lock()
	defer mu.Unlock()
	dir = path
}

// New returns a *log.Logger prefixed with component, writing to the
// session's shared "jsdebugcore.log" file. If the file can't be opened
// (read-only filesystem, sandboxed environment, ...) it falls back to
// os.Stderr exactly as the teacher's NewDebugger does, and never returns
// an error: a failure to log must never fail a launch.
func New(component string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer = os.Stderr
	if file == nil {
		f, err := os.OpenFile(dir+"/jsdebugcore.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			file = f
		}
	}
	if file != nil {
		w = file
	}

	prefix := fmt.Sprintf("[%s] ", component)
	return log.New(w, prefix, log.Ldate|log.Ltime|log.Lmicroseconds)
}

// Discard returns a logger that drops everything, for tests that don't
// want log-file noise.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
