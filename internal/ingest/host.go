package ingest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"lukechampine.com/blake3"
)

// Host is the document store the engine reads from.
type Host interface {
	// ListDocuments returns the workspace-relative paths of every document,
	// sorted.
	ListDocuments() ([]string, error)
	// ReadDocument returns the text and modification time of one document.
	ReadDocument(path string) (string, time.Time, error)
}

// FSHost serves documents from a billy filesystem, filtered by doublestar
// include and exclude globs over workspace-relative paths.
type FSHost struct {
	fs      billy.Filesystem
	include []string
	exclude []string
}

// NewFSHost wraps fsys. An empty include list admits every file.
func NewFSHost(fsys billy.Filesystem, include, exclude []string) *FSHost {
	return &FSHost{fs: fsys, include: include, exclude: exclude}
}

// OpenFSHost serves the directory root of the local filesystem.
func OpenFSHost(root string, include, exclude []string) (*FSHost, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return NewFSHost(osfs.New(root), include, exclude), nil
}

// Filesystem returns the underlying filesystem.
func (h *FSHost) Filesystem() billy.Filesystem { return h.fs }

// Matches reports whether the workspace-relative path p is a document.
func (h *FSHost) Matches(p string) bool {
	p = strings.TrimPrefix(filepath.ToSlash(p), "/")
	if p == "" {
		return false
	}
	for _, g := range h.exclude {
		if ok, _ := doublestar.Match(g, p); ok {
			return false
		}
	}
	if len(h.include) == 0 {
		return true
	}
	for _, g := range h.include {
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
	}
	return false
}

func (h *FSHost) ListDocuments() ([]string, error) {
	var out []string
	err := util.Walk(h.fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			// An empty in-memory filesystem has no root yet.
			if p == "/" && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		rel := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if info.IsDir() {
			if rel != "" && h.excludedDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() && h.Matches(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	slices.Sort(out)
	return out, nil
}

// excludedDir reports whether an exclude glob covers everything under dir.
func (h *FSHost) excludedDir(dir string) bool {
	for _, g := range h.exclude {
		if prefix, ok := strings.CutSuffix(g, "/**"); ok {
			if m, _ := doublestar.Match(prefix, dir); m {
				return true
			}
		}
	}
	return false
}

func (h *FSHost) ReadDocument(p string) (string, time.Time, error) {
	name := "/" + strings.TrimPrefix(filepath.ToSlash(p), "/")
	data, err := util.ReadFile(h.fs, name)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read %s: %w", p, err)
	}
	var mod time.Time
	if info, err := h.fs.Stat(name); err == nil {
		mod = info.ModTime()
	}
	return string(data), mod, nil
}

// ContentHash returns the hex blake3 digest used to suppress writes that
// leave a document unchanged.
func ContentHash(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}
