// Package status records whether the last engine start built a usable
// world. The host reads it to decide between a normal start and a rebuild.
package status

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
)

// WorldStatus is the outcome of the last start.
type WorldStatus int

const (
	Unknown WorldStatus = iota
	Bad
	Built
)

func (s WorldStatus) String() string {
	switch s {
	case Bad:
		return "bad"
	case Built:
		return "built"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s WorldStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unrecognised values
// read as Unknown.
func (s *WorldStatus) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "bad":
		*s = Bad
	case "built":
		*s = Built
	default:
		*s = Unknown
	}
	return nil
}

// File is the status file's content.
type File struct {
	Status  WorldStatus `toml:"status"`
	Updated time.Time   `toml:"updated"`
	Version string      `toml:"version"`
}

// Load reads the status file. A missing file is Unknown.
func Load(fs afero.Fs, path string) (File, error) {
	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return File{Status: Unknown}, nil
	}
	if err != nil {
		return File{}, fmt.Errorf("failed to read status: %w", err)
	}
	var f File
	if _, err := toml.Decode(string(data), &f); err != nil {
		return File{}, fmt.Errorf("failed to parse status %s: %w", path, err)
	}
	return f, nil
}

// Save writes f to a temporary file beside path and renames it into place.
func Save(fs afero.Fs, path string, f File) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("failed to replace status: %w", err)
	}
	return nil
}

// Set saves st with the current time and version.
func Set(fs afero.Fs, path string, st WorldStatus, version string) error {
	return Save(fs, path, File{Status: st, Updated: time.Now().UTC(), Version: version})
}

// Remove deletes the status file. A missing file is not an error.
func Remove(fs afero.Fs, path string) error {
	if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
