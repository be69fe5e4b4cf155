// Package scan enumerates a module's candidate translation units.
//
// Enumeration is the only place the filesystem is consulted for sizes and
// modification times; everything downstream treats the returned snapshot as
// immutable. The returned list is strictly sorted so OS directory ordering
// never reaches the batching engine.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FileInfo is one enumerated source file.
type FileInfo struct {
	// Path is the absolute path, forward-slash normalized.
	Path string
	// Size is the file length in bytes at enumeration time.
	Size int64
	// ModTime is the last modification time at enumeration time.
	ModTime time.Time
}

// sourceExtensions are the translation-unit extensions eligible for batching.
var sourceExtensions = map[string]bool{
	".c":   true,
	".cc":  true,
	".cpp": true,
	".cxx": true,
}

// skippedDirs are never descended into during enumeration.
var skippedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
}

// Scanner enumerates module directories and memoizes stat results for the
// lifetime of one invocation.
//
// The same files are consulted once during enumeration and again by the
// working-set layer; the bounded LRU keeps that to one stat per file without
// growing without limit on very large trees.
type Scanner struct {
	stats *lru.Cache[string, FileInfo]
}

// NewScanner creates a Scanner with a bounded stat cache.
func NewScanner() (*Scanner, error) {
	cache, err := lru.New[string, FileInfo](16384)
	if err != nil {
		return nil, err
	}
	return &Scanner{stats: cache}, nil
}

// ScanModule walks dir and returns every candidate translation unit beneath
// it, sorted case-insensitively by path.
//
// dir must be absolute: enumeration must not depend on the process working
// directory.
func (s *Scanner) ScanModule(dir string) ([]FileInfo, error) {
	if !filepath.IsAbs(dir) {
		return nil, &NotAbsoluteError{Dir: dir}
	}

	var files []FileInfo
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !sourceExtensions[ext] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fi := FileInfo{
			Path:    filepath.ToSlash(path),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		s.stats.Add(fi.Path, fi)
		files = append(files, fi)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(files, func(i, j int) bool {
		a := strings.ToLower(files[i].Path)
		b := strings.ToLower(files[j].Path)
		if a != b {
			return a < b
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// Stat returns the file info for path, reusing the enumeration snapshot when
// available. Paths are cached forward-slash normalized.
func (s *Scanner) Stat(path string) (FileInfo, error) {
	key := filepath.ToSlash(path)
	if fi, ok := s.stats.Get(key); ok {
		return fi, nil
	}
	info, err := os.Stat(filepath.FromSlash(key))
	if err != nil {
		return FileInfo{}, err
	}
	fi := FileInfo{Path: key, Size: info.Size(), ModTime: info.ModTime()}
	s.stats.Add(key, fi)
	return fi, nil
}

// NotAbsoluteError reports a module directory that was not absolute.
type NotAbsoluteError struct {
	Dir string
}

func (e *NotAbsoluteError) Error() string {
	return "scan: module dir must be absolute: " + e.Dir
}
