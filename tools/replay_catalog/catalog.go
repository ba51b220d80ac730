package replaycatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rigidsync/broker/internal/replay"
)

// Entry captures an archive header alongside the directory it describes.
type Entry struct {
	HeaderPath string        `json:"header_path"`
	ArchiveDir string        `json:"archive_dir"`
	Header     replay.Header `json:"header"`
}

// Query narrows List results. Zero values match everything.
type Query struct {
	Scene   string
	Backend string
	Mode    replay.Mode
}

func (q Query) matches(h replay.Header) bool {
	if q.Scene != "" && h.Scene != q.Scene {
		return false
	}
	if q.Backend != "" && h.Backend != q.Backend {
		return false
	}
	return q.Mode == "" || h.Mode == q.Mode
}

// List walks root and returns every archive header, oldest recording first.
func List(root string) ([]Entry, error) {
	return Search(root, Query{})
}

// Search walks root and returns the archive headers matching q, oldest recording first.
func Search(root string, q Query) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- Archives are directories holding a header.json written when the bundle was sealed.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != replay.HeaderFile {
			return nil
		}
		header, err := replay.ReadHeader(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if !q.matches(header) {
			return nil
		}
		entries = append(entries, Entry{HeaderPath: path, ArchiveDir: filepath.Dir(path), Header: header})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Header, entries[j].Header
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return entries[i].ArchiveDir < entries[j].ArchiveDir
	})
	return entries, nil
}

// FindDigest returns the archive whose packet hashes to sha, comparing prefixes of at least eight
// characters.
func FindDigest(entries []Entry, sha string) (Entry, bool) {
	sha = strings.ToLower(strings.TrimSpace(sha))
	if len(sha) < 8 {
		return Entry{}, false
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Header.PacketSHA256, sha) {
			return entry, true
		}
	}
	return Entry{}, false
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}
