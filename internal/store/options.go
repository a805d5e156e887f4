package store

import (
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Options configures a Store.
type Options struct {
	// Path is the local bare repository directory
	Path string

	// Name and Email identify the author of every commit
	Name  string
	Email string

	// URL is the remote peer; empty means local-only
	URL string

	// Remote is the remote name (default "origin")
	Remote string

	// Branch is the only branch the store uses (default "main")
	Branch string

	// ItemDir is the subdirectory holding item blobs (default "items")
	ItemDir string

	// WriteToServer allows pushes; when false the store never reports
	// that it needs pushing
	WriteToServer bool

	// SSHPath is the private key file, relative paths resolve against ~/.ssh
	// (default "id_rsa")
	SSHPath string

	// KeyMaterial is private key content read into memory ahead of time
	KeyMaterial []byte

	// Logger receives structured logs; nil disables logging
	Logger *zap.Logger
}

// Default option values.
const (
	DefaultRemote  = "origin"
	DefaultBranch  = "main"
	DefaultItemDir = "items"
	DefaultSSHPath = "id_rsa"
)

func (o Options) withDefaults() Options {
	if o.Remote == "" {
		o.Remote = DefaultRemote
	}
	if o.Branch == "" {
		o.Branch = DefaultBranch
	}
	if o.ItemDir == "" {
		o.ItemDir = DefaultItemDir
	}
	if o.SSHPath == "" {
		o.SSHPath = DefaultSSHPath
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (o Options) validate() error {
	if o.Path == "" {
		return errors.New("store: repository path is required")
	}
	if o.Name == "" || o.Email == "" {
		return errors.New("store: user name and email are required")
	}
	return nil
}

// keyPath resolves SSHPath to an absolute file name.
func (o Options) keyPath() string {
	if filepath.IsAbs(o.SSHPath) {
		return o.SSHPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return o.SSHPath
	}
	return filepath.Join(home, ".ssh", o.SSHPath)
}
