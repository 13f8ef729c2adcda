// Package fsutil provides file system utility functions.
package fsutil

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// FindSourceFiles recursively collects regular files under rootPath,
// skipping .meta sidecars and any path matched by the ignore globs.
// Globs are matched against both the base name and the slash-separated
// path relative to rootPath.
func FindSourceFiles(rootPath string, ignore []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(rootPath, path)
		if relErr != nil {
			rel = path
		}
		if Ignored(filepath.ToSlash(rel), d.Name(), ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".meta") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Ignored reports whether a path should be excluded by the given globs.
func Ignored(relPath, baseName string, ignore []string) bool {
	for _, pattern := range ignore {
		if ok, _ := filepath.Match(pattern, baseName); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}
