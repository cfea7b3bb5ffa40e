// Package agent implements the peer agent: it scans a local directory and
// announces the file list to the server.
package agent

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/meshdrive/meshdrive/internal/protocol"
)

// Scanner walks a shared directory and produces announce records.
type Scanner struct {
	root string
}

// NewScanner creates a scanner rooted at dir.
func NewScanner(dir string) *Scanner {
	return &Scanner{root: filepath.Clean(dir)}
}

// Root returns the scan root.
func (s *Scanner) Root() string {
	return s.root
}

// Scan walks the root and returns one entry per regular file. Paths are
// slash-separated and relative to the root. Hidden files and directories
// (dot-prefixed) are skipped.
func (s *Scanner) Scan(ctx context.Context) ([]protocol.AnnouncedFile, error) {
	var files []protocol.AnnouncedFile

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if strings.HasPrefix(d.Name(), ".") && path != s.root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		files = append(files, protocol.AnnouncedFile{
			Path:        filepath.ToSlash(rel),
			Size:        info.Size(),
			LastChanged: info.ModTime().UTC().Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}

	return files, nil
}
