package workflows

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/utils"
	"github.com/bmatcuk/doublestar/v4"
)

// SealedExt is appended to a file's name when it is encrypted.
const SealedExt = ".whanau"

// resolveFiles expands user-provided paths, directories and globs into files.
// For encryption it selects plain files; for decryption only .whanau files.
// Anything inside the shared .whanau folder is skipped.
func resolveFiles(patterns []string, baseDir string, forEncryption bool) ([]string, error) {
	var files []string
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		resolved, err := resolvePattern(pattern, baseDir, forEncryption)
		if err != nil {
			return nil, err
		}
		for _, f := range resolved {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}

	if len(files) == 0 {
		return nil, kerrors.ErrNoFilesFound
	}
	return files, nil
}

func resolvePattern(pattern string, baseDir string, forEncryption bool) ([]string, error) {
	absPattern := pattern
	if !filepath.IsAbs(pattern) {
		absPattern = filepath.Join(baseDir, pattern)
	}

	info, err := os.Stat(absPattern)
	if err == nil && info.IsDir() {
		return findFilesInDir(absPattern, forEncryption)
	}

	if strings.ContainsAny(pattern, "*?[{") {
		return expandGlob(absPattern, pattern, forEncryption)
	}

	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", pattern, kerrors.ErrFileNotFound)
	}
	if err != nil {
		return nil, err
	}

	if !wanted(absPattern, forEncryption) {
		if forEncryption {
			return nil, fmt.Errorf("%s is already encrypted: %w", pattern, kerrors.ErrNoFilesFound)
		}
		return nil, fmt.Errorf("%s is not a %s file: %w", pattern, SealedExt, kerrors.ErrNoFilesFound)
	}
	return []string{absPattern}, nil
}

func expandGlob(absPattern, pattern string, forEncryption bool) ([]string, error) {
	matches, err := doublestar.FilepathGlob(absPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}

	var filtered []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if inSharedDir(m) || !wanted(m, forEncryption) {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered, nil
}

func findFilesInDir(dir string, forEncryption bool) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == utils.SharedDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if wanted(path, forEncryption) {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

func wanted(path string, forEncryption bool) bool {
	return strings.HasSuffix(filepath.Base(path), SealedExt) != forEncryption
}

func inSharedDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == utils.SharedDirName {
			return true
		}
	}
	return false
}
