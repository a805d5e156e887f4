// Package config reads fanling's settings through viper: a config file,
// FANLING_ environment variables, and bound command-line flags, in
// increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/daemon"
	"github.com/fanling-notes/fanling/internal/engine"
	"github.com/fanling-notes/fanling/internal/item"
	"github.com/fanling-notes/fanling/internal/logging"
	"github.com/fanling-notes/fanling/internal/server"
	"github.com/fanling-notes/fanling/internal/store"
	"github.com/fanling-notes/fanling/internal/world"
)

// Config errors.
var (
	// ErrNoIdentity is returned when user.name or user.email is unset.
	ErrNoIdentity = errors.New("user.name and user.email must be set")

	// ErrBadPrefix is returned for an ident prefix that is not alphanumeric.
	ErrBadPrefix = errors.New("ident.prefix must be letters and digits, starting with a letter")
)

// EnvPrefix is the prefix of environment variables read as settings.
const EnvPrefix = "FANLING"

// FileName is the config file name without extension.
const FileName = "fanling"

// Repo configures the content store.
type Repo struct {
	Path          string `mapstructure:"path"`
	URL           string `mapstructure:"url"`
	Remote        string `mapstructure:"remote"`
	Branch        string `mapstructure:"branch"`
	ItemDir       string `mapstructure:"item_dir"`
	WriteToServer bool   `mapstructure:"write_to_server"`
	SSHPath       string `mapstructure:"ssh_path"`
	SlurpSSH      bool   `mapstructure:"slurp_ssh"`
}

// User is the commit identity.
type User struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

// AutoLink configures placeholder creation for dangling links.
type AutoLink struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
}

// Daemon configures the background sync loop.
type Daemon struct {
	PullInterval time.Duration `mapstructure:"pull_interval"`
	PushInterval time.Duration `mapstructure:"push_interval"`
	Debounce     time.Duration `mapstructure:"debounce"`
	WatchRemote  bool          `mapstructure:"watch_remote"`
}

// Server configures the websocket endpoint.
type Server struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Config is the typed configuration.
type Config struct {
	Root  string `mapstructure:"root"`
	Repo  Repo   `mapstructure:"repo"`
	User  User   `mapstructure:"user"`
	Index struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"index"`
	Ident struct {
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"ident"`
	AutoLink AutoLink `mapstructure:"auto_link"`
	Status   struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"status"`
	Log    logging.Config `mapstructure:"log"`
	Daemon Daemon         `mapstructure:"daemon"`
	Server Server         `mapstructure:"server"`
}

// DefaultRoot returns the data root used when none is configured.
func DefaultRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "fanling")
	}
	return ".fanling"
}

// New returns a viper instance with fanling's defaults, environment
// binding, and search paths. file, when set, is the only config file read.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		return v
	}
	v.SetConfigName(FileName)
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		v.AddConfigPath(home)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "fanling"))
	}
	return v
}

// SetDefaults registers every key's default.
func SetDefaults(v *viper.Viper) {
	lc := logging.DefaultConfig()
	dc := daemon.DefaultConfig()

	v.SetDefault("root", DefaultRoot())
	v.SetDefault("repo.path", "")
	v.SetDefault("repo.url", "")
	v.SetDefault("repo.remote", store.DefaultRemote)
	v.SetDefault("repo.branch", store.DefaultBranch)
	v.SetDefault("repo.item_dir", store.DefaultItemDir)
	v.SetDefault("repo.write_to_server", true)
	v.SetDefault("repo.ssh_path", store.DefaultSSHPath)
	v.SetDefault("repo.slurp_ssh", false)
	v.SetDefault("user.name", "")
	v.SetDefault("user.email", "")
	v.SetDefault("index.path", "")
	v.SetDefault("ident.prefix", "")
	v.SetDefault("auto_link.enabled", false)
	v.SetDefault("auto_link.type", item.KindSimple.String())
	v.SetDefault("status.path", "")
	v.SetDefault("log.level", lc.Level)
	v.SetDefault("log.format", lc.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", lc.MaxSizeMB)
	v.SetDefault("log.max_backups", lc.MaxBackups)
	v.SetDefault("log.max_age_days", lc.MaxAgeDays)
	v.SetDefault("daemon.pull_interval", dc.PullInterval)
	v.SetDefault("daemon.push_interval", dc.PushInterval)
	v.SetDefault("daemon.debounce", dc.Debounce)
	v.SetDefault("daemon.watch_remote", true)
	v.SetDefault("server.addr", server.DefaultAddr)
	v.SetDefault("server.allowed_origins", []string{})
}

// Read loads the config file, if there is one. A missing file in the
// search paths is not an error; a missing explicit file is.
func Read(v *viper.Viper) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load validates the settings in v and fills in paths derived from root.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if c.Root == "" {
		c.Root = DefaultRoot()
	}
	if c.Repo.Path == "" {
		c.Repo.Path = filepath.Join(c.Root, "repo")
	}
	if c.Index.Path == "" {
		c.Index.Path = filepath.Join(c.Root, "index.db")
	}
	if c.Status.Path == "" {
		c.Status.Path = filepath.Join(c.Root, "status.toml")
	}
	if c.Ident.Prefix != "" && !validPrefix(c.Ident.Prefix) {
		return Config{}, fmt.Errorf("%q: %w", c.Ident.Prefix, ErrBadPrefix)
	}
	if _, err := item.ParseKind(c.AutoLink.Type); err != nil {
		return Config{}, fmt.Errorf("auto_link.type: %w", err)
	}
	return c, nil
}

// Validate checks what opening an engine needs.
func (c Config) Validate() error {
	if c.User.Name == "" || c.User.Email == "" {
		return ErrNoIdentity
	}
	return nil
}

func validPrefix(p string) bool {
	for i, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return p != ""
}

// NewPrefix derives a per-device ident prefix from a random UUID: each of
// the first four hex digits becomes a letter from a to p.
func NewPrefix() string {
	id := uuid.New()
	hex := strings.ReplaceAll(id.String(), "-", "")[:4]
	var sb strings.Builder
	for _, r := range hex {
		n := strings.IndexRune("0123456789abcdef", r)
		sb.WriteByte(byte('a' + n))
	}
	return sb.String()
}

// EnsurePrefix sets and writes a derived prefix when none is configured.
// The config file is written to path, or the file viper read.
func EnsurePrefix(v *viper.Viper, path string) (string, error) {
	if p := v.GetString("ident.prefix"); p != "" {
		return p, nil
	}
	p := NewPrefix()
	v.Set("ident.prefix", p)
	if path == "" {
		path = v.ConfigFileUsed()
	}
	if path == "" {
		return "", errors.New("no config file to record the ident prefix in")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return p, nil
}

// KeyMaterial reads the SSH key into memory when slurp_ssh is set.
func (c Config) KeyMaterial() ([]byte, error) {
	if !c.Repo.SlurpSSH {
		return nil, nil
	}
	p := c.Repo.SSHPath
	if !filepath.IsAbs(p) {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		p = filepath.Join(home, ".ssh", p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	return data, nil
}

// StoreOptions returns the content store settings.
func (c Config) StoreOptions(logger *zap.Logger) (store.Options, error) {
	key, err := c.KeyMaterial()
	if err != nil {
		return store.Options{}, err
	}
	return store.Options{
		Path:          c.Repo.Path,
		Name:          c.User.Name,
		Email:         c.User.Email,
		URL:           c.Repo.URL,
		Remote:        c.Repo.Remote,
		Branch:        c.Repo.Branch,
		ItemDir:       c.Repo.ItemDir,
		WriteToServer: c.Repo.WriteToServer,
		SSHPath:       c.Repo.SSHPath,
		KeyMaterial:   key,
		Logger:        logger,
	}, nil
}

// EngineOptions returns the settings for engine.New.
func (c Config) EngineOptions(logger *zap.Logger) (engine.Options, error) {
	if err := c.Validate(); err != nil {
		return engine.Options{}, err
	}
	so, err := c.StoreOptions(logger)
	if err != nil {
		return engine.Options{}, err
	}
	kind, err := item.ParseKind(c.AutoLink.Type)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		World: world.Options{
			Store:        so,
			IndexPath:    c.Index.Path,
			UniqPrefix:   c.Ident.Prefix,
			AutoLink:     c.AutoLink.Enabled,
			AutoLinkKind: kind,
			Logger:       logger,
		},
		Root:       c.Root,
		StatusPath: c.Status.Path,
		Logger:     logger,
	}, nil
}

// DaemonConfig returns the sync loop settings. The remote is watched only
// when it is a local directory.
func (c Config) DaemonConfig(logger *zap.Logger) daemon.Config {
	dc := daemon.DefaultConfig()
	dc.PullInterval = c.Daemon.PullInterval
	dc.PushInterval = c.Daemon.PushInterval
	dc.Debounce = c.Daemon.Debounce
	dc.Logger = logger
	if c.Daemon.WatchRemote && c.Repo.URL != "" {
		if fi, err := os.Stat(c.Repo.URL); err == nil && fi.IsDir() {
			dc.WatchPath = c.Repo.URL
		}
	}
	return dc
}

// ServerConfig returns the websocket endpoint settings.
func (c Config) ServerConfig(logger *zap.Logger) server.Config {
	return server.Config{
		Addr:           c.Server.Addr,
		AllowedOrigins: c.Server.AllowedOrigins,
		Logger:         logger,
	}
}
