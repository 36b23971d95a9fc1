// Package project holds the immutable file-set value types that every
// engine stage passes between attempts.
package project

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File is a single source file. Path is relative, slash-separated and unique
// within a FileSet.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileSet is an immutable snapshot of the files for one deployment attempt.
// Mutating operations return a new FileSet; the receiver is never changed.
type FileSet struct {
	files []File
	index map[string]int
}

// New builds a FileSet from the given files. Paths are normalized to
// slash-separated relative form; a later duplicate path replaces an earlier
// one in place, preserving first-seen order for reproducibility.
func New(files ...File) FileSet {
	fs := FileSet{index: make(map[string]int, len(files))}
	for _, f := range files {
		path := NormalizePath(f.Path)
		if path == "" {
			continue
		}
		if i, ok := fs.index[path]; ok {
			fs.files[i].Content = f.Content
			continue
		}
		fs.index[path] = len(fs.files)
		fs.files = append(fs.files, File{Path: path, Content: f.Content})
	}
	return fs
}

// NormalizePath cleans a file path into the canonical in-set form. Returns ""
// for paths that are empty or escape the project root.
func NormalizePath(path string) string {
	path = strings.TrimSpace(strings.ReplaceAll(path, "\\", "/"))
	if path == "" {
		return ""
	}
	path = filepath.ToSlash(filepath.Clean(path))
	if path == "." || path == ".." || strings.HasPrefix(path, "../") || strings.HasPrefix(path, "/") {
		return ""
	}
	return path
}

// Len reports the number of files.
func (s FileSet) Len() int { return len(s.files) }

// Files returns a copy of the file list in insertion order.
func (s FileSet) Files() []File {
	out := make([]File, len(s.files))
	copy(out, s.files)
	return out
}

// Paths returns all paths in insertion order.
func (s FileSet) Paths() []string {
	out := make([]string, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f.Path)
	}
	return out
}

// Get returns the content for path.
func (s FileSet) Get(path string) (string, bool) {
	i, ok := s.index[NormalizePath(path)]
	if !ok {
		return "", false
	}
	return s.files[i].Content, true
}

// Has reports whether path exists in the set.
func (s FileSet) Has(path string) bool {
	_, ok := s.index[NormalizePath(path)]
	return ok
}

// With returns a new FileSet with f added, or replaced if the path exists.
func (s FileSet) With(f File) FileSet {
	return New(append(s.Files(), f)...)
}

// Equal reports whether both sets hold the same paths with the same content.
// Order is ignored; it is a reproducibility detail, not a semantic one.
func (s FileSet) Equal(other FileSet) bool {
	if len(s.files) != len(other.files) {
		return false
	}
	for _, f := range s.files {
		c, ok := other.Get(f.Path)
		if !ok || c != f.Content {
			return false
		}
	}
	return true
}

// CountByExtension counts files per lowercase extension (without the dot).
func (s FileSet) CountByExtension() map[string]int {
	counts := make(map[string]int)
	for _, f := range s.files {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Path), "."))
		if ext == "" {
			continue
		}
		counts[ext]++
	}
	return counts
}

// skipDirs are directories never loaded from disk; they are build artifacts
// or VCS metadata, not generated source.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"__pycache__":  true,
	".venv":        true,
}

// LoadDir reads every regular file under root into a FileSet.
func LoadDir(root string) (FileSet, error) {
	info, err := os.Stat(root)
	if err != nil {
		return FileSet{}, fmt.Errorf("failed to read project directory: %w", err)
	}
	if !info.IsDir() {
		return FileSet{}, fmt.Errorf("%s is not a directory", root)
	}

	var files []File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		files = append(files, File{Path: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return FileSet{}, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return New(files...), nil
}
