// Package store provides content-addressed access to a project's file tree
// in a hosted Git repository, with optimistic-concurrency writes.
package store

import (
	"context"
	"errors"
	"strings"
)

// Namespace is the reserved directory for pipeline-owned files. Nothing
// under it is part of the user's project.
const Namespace = ".launchforge"

var (
	// ErrNotFound indicates the path does not exist in the store.
	ErrNotFound = errors.New("store: file not found")

	// ErrConflict indicates a write carried a stale version token. The
	// caller's read-modify-write must restart from a fresh read.
	ErrConflict = errors.New("store: concurrency conflict")
)

// Entry describes one item in a directory listing.
type Entry struct {
	Path string `json:"path"`
	Type string `json:"type"` // file, dir
}

// File is a path plus full content, as used by deploy snapshots.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileStore is the unified contract over the versioned store.
//
// Read returns the content and an opaque version token identifying the
// stored revision. Write creates the path when expectedVersion is empty and
// replaces it otherwise; a stale token fails with ErrConflict. An update of
// a path that no longer exists is retried transparently as a create.
type FileStore interface {
	Read(ctx context.Context, path string) (content string, version string, err error)
	Write(ctx context.Context, path, content, message, expectedVersion string) (newVersion string, err error)
	List(ctx context.Context, path string) ([]Entry, error)
}

// Snapshot reads the full project file set at one point in time, excluding
// the reserved namespace.
func Snapshot(ctx context.Context, fs FileStore) ([]File, error) {
	var files []File
	if err := walk(ctx, fs, "", &files); err != nil {
		return nil, err
	}
	return files, nil
}

func walk(ctx context.Context, fs FileStore, dir string, out *[]File) error {
	entries, err := fs.List(ctx, dir)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.Path == Namespace || strings.HasPrefix(e.Path, Namespace+"/") {
			continue
		}
		switch e.Type {
		case "dir":
			if err := walk(ctx, fs, e.Path, out); err != nil {
				return err
			}
		case "file":
			content, _, err := fs.Read(ctx, e.Path)
			if err != nil {
				return err
			}
			*out = append(*out, File{Path: e.Path, Content: content})
		}
	}
	return nil
}
