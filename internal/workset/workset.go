// Package workset models the set of source files the developer is actively
// editing, and persists the batching engine's classification of that set so
// the next invocation can invalidate cached batch plans cleanly.
package workset

import (
	"sort"
	"strings"
	"time"
)

// Membership answers whether a file is currently considered actively edited.
type Membership interface {
	Contains(path string) bool
}

// StatFunc reports the last modification time for a path. A returned error
// means the file is treated as not in the working set.
type StatFunc func(path string) (time.Time, error)

// MTimeWindow considers a file actively edited when it was modified within
// Window before Now.
//
// Now is fixed at construction so every membership query in one invocation
// sees the same instant; membership must not drift while a module is being
// batched.
type MTimeWindow struct {
	Stat   StatFunc
	Now    time.Time
	Window time.Duration
}

// Contains reports whether path was modified within the window.
func (m *MTimeWindow) Contains(path string) bool {
	if m == nil || m.Stat == nil || m.Window <= 0 {
		return false
	}
	mod, err := m.Stat(path)
	if err != nil {
		return false
	}
	if mod.After(m.Now) {
		// Clock skew: a file from the future counts as just edited.
		return true
	}
	return m.Now.Sub(mod) < m.Window
}

// Fixed is an explicit membership set keyed case-insensitively. Used for
// tests and for configurations that pin the working set.
type Fixed map[string]bool

// NewFixed builds a Fixed set from paths.
func NewFixed(paths ...string) Fixed {
	f := make(Fixed, len(paths))
	for _, p := range paths {
		f[strings.ToLower(p)] = true
	}
	return f
}

// Contains reports membership, ignoring path case.
func (f Fixed) Contains(path string) bool {
	return f[strings.ToLower(path)]
}

// Recorder accumulates one module's classification results during a batching
// run: which files the engine carved out as working-set members and which
// batched files are candidates for future tracking.
//
// Paths are deduplicated; Snapshot returns them sorted so persistence is
// deterministic.
type Recorder struct {
	module     string
	files      map[string]struct{}
	candidates map[string]struct{}
}

// NewRecorder creates a Recorder for the named module.
func NewRecorder(module string) *Recorder {
	return &Recorder{
		module:     module,
		files:      make(map[string]struct{}),
		candidates: make(map[string]struct{}),
	}
}

// AddFileToWorkingSet records a file the engine classified into the working set.
func (r *Recorder) AddFileToWorkingSet(path string) {
	r.files[path] = struct{}{}
}

// AddCandidateForWorkingSet records a batched file that should invalidate the
// plan if the developer starts editing it.
func (r *Recorder) AddCandidateForWorkingSet(path string) {
	r.candidates[path] = struct{}{}
}

// Snapshot returns the recorded classification as a sorted, persistable record.
func (r *Recorder) Snapshot() Record {
	return Record{
		Module:     r.module,
		Files:      sortedKeys(r.files),
		Candidates: sortedKeys(r.candidates),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
