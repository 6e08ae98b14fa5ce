package auditexport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrExportExists is returned by FSSink.Put when an export with the same key is already in place.
var ErrExportExists = errors.New("export already exists")

// FSSink writes exports below a root directory. Keys map to relative file paths.
type FSSink struct {
	root string
}

// NewFSSink returns a sink rooted at root, creating the directory if needed.
func NewFSSink(root string) (*FSSink, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("export directory must not be empty")
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	return &FSSink{root: root}, nil
}

// Put writes body to a temporary file and links it into place, so readers never see a partial export.
// An existing export with the same key is never overwritten, even when two Puts race for it.
func (s *FSSink) Put(ctx context.Context, key, _ string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(path); statErr == nil {
		return fmt.Errorf("%w: %s", ErrExportExists, key)
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err = tmp.Write(body); err != nil {
		_ = tmp.Close()
		return err
	}

	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}

	if err = tmp.Close(); err != nil {
		return err
	}

	// link fails instead of replacing an existing file
	if err = os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExportExists, key)
		}

		return err
	}

	return nil
}

// pathFor maps key below root and refuses keys that would escape it.
func (s *FSSink) pathFor(key string) (string, error) {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid export key %q", key)
	}

	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid export key %q", key)
	}

	return filepath.Join(s.root, clean), nil
}
