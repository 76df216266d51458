// Package fshash computes deterministic hashes of directory trees for
// state snapshots.
package fshash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultIgnorePatterns skips VCS metadata, caches, and build output.
// A leading "*" matches by suffix, anything else by exact name.
var DefaultIgnorePatterns = []string{
	".git",
	"__pycache__",
	".pytest_cache",
	"*.pyc",
	".DS_Store",
	"node_modules",
	".venv",
	"venv",
	"vendor",
}

func ignored(name string, patterns []string) bool {
	for _, p := range patterns {
		if strings.HasPrefix(p, "*") {
			if strings.HasSuffix(name, p[1:]) {
				return true
			}
		} else if name == p {
			return true
		}
	}
	return false
}

// HashFile returns the SHA-256 hex digest of one file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TreeHash walks root in sorted order and hashes the sequence of
// (relative path, file hash) pairs, so two trees with identical content
// hash identically on any platform.
func TreeHash(root string, ignorePatterns []string) (string, error) {
	if ignorePatterns == nil {
		ignorePatterns = DefaultIgnorePatterns
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	type entry struct {
		rel  string
		hash string
	}
	var entries []entry

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if ignored(d.Name(), ignorePatterns) && path != abs {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fileHash, herr := HashFile(path)
		if herr != nil {
			return herr
		}
		rel, rerr := filepath.Rel(abs, path)
		if rerr != nil {
			return rerr
		}
		entries = append(entries, entry{filepath.ToSlash(rel), fileHash})
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	tree := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(tree, "%s:%s\n", e.rel, e.hash)
	}
	return hex.EncodeToString(tree.Sum(nil)), nil
}
