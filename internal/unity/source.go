// Package unity implements deterministic unity-build batching: repacking a
// module's translation units into larger generated compilation units so the
// compiler front-end runs fewer times, while keeping actively-edited files out
// of the aggregates so iterative compiles stay fast.
//
// Determinism constraints:
//   - Batching depends only on (path, size) pairs and configuration.
//   - All orderings are explicit; no map iteration order reaches any output.
//   - Identical inputs produce identical unit membership, unit names, and
//     generated bytes across runs and machines.
package unity

import (
	"sort"
	"strings"
)

// SourceFile is one translation unit as seen by the batching engine.
//
// The engine consumes these, it does not own them: sizes are advisory for
// splitting decisions only and are never re-read during batching.
type SourceFile struct {
	// Path is the absolute path to the file. Forward slashes are expected;
	// callers normalize before handing files to the engine.
	Path string

	// Size is the file length in bytes at enumeration time.
	Size int64
}

// PathKey returns the canonical comparison key for a source file path.
//
// Batching identity is case-insensitive: two paths differing only in case are
// the same file for grouping, mapping, and working-set purposes. This keeps
// grouping stable across filesystems with differing case sensitivity.
func PathKey(path string) string {
	return strings.ToLower(path)
}

// SortSourceFiles orders files by case-insensitive path comparison, with the
// raw path as a tie-breaker so the order is total.
//
// This is the determinism pass: OS directory enumeration order must never
// influence group membership or generated file names.
func SortSourceFiles(files []SourceFile) {
	sort.SliceStable(files, func(i, j int) bool {
		a := PathKey(files[i].Path)
		b := PathKey(files[j].Path)
		if a != b {
			return a < b
		}
		return files[i].Path < files[j].Path
	})
}
