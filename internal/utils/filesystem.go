package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SharedDirName is the folder a family shares public keys and invites through.
const SharedDirName = ".whanau"

// FindSharedRoot looks for a .whanau folder in the working directory and its
// parents, stopping at the home directory. It returns the folder's parent, or
// "" if there is none.
func FindSharedRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return findSharedRootFrom(wd, home)
}

// findSharedRootFrom searches dir and its parents. stop is the last directory
// checked; the filesystem root ends the search otherwise.
func findSharedRootFrom(dir, stop string) (string, error) {
	for {
		info, err := os.Stat(filepath.Join(dir, SharedDirName))
		switch {
		case err == nil && info.IsDir():
			return dir, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("checking %s for %s: %w", dir, SharedDirName, err)
		}

		parent := filepath.Dir(dir)
		if dir == stop || parent == dir {
			return "", nil
		}
		dir = parent
	}
}
