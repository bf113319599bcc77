package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// environment variables that override backup credentials, so that
// secrets don't have to be stored in the config file
const (
	EnvBackupAccess = "INVOICING_BACKUP_ACCESS"
	EnvBackupSecret = "INVOICING_BACKUP_SECRET"
)

type Config struct {
	Store   StoreConfig   `toml:"store"`
	Log     LogConfig     `toml:"log"`
	Journal JournalConfig `toml:"journal"`
	HTTP    HTTPConfig    `toml:"http"`
	Backup  BackupConfig  `toml:"backup"`
}

type StoreConfig struct {
	Dir         string `toml:"dir"`
	RecordsFile string `toml:"records_file"`
	IDsFile     string `toml:"ids_file"`
}

type LogConfig struct {
	// empty means log to stdout only
	Dir     string `toml:"dir"`
	Verbose bool   `toml:"verbose"`
}

type JournalConfig struct {
	// empty disables the journal
	Dir string `toml:"dir"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

type BackupConfig struct {
	Endpoint string `toml:"endpoint"`
	Bucket   string `toml:"bucket"`
	Access   string `toml:"access"`
	Secret   string `toml:"secret"`
	Region   string `toml:"region"`
	// prefix of remote paths, e.g. "backups/invoices"
	Prefix string `toml:"prefix"`
	Secure bool   `toml:"secure"`
}

// Enabled returns true if backup is configured
func (c *BackupConfig) Enabled() bool {
	return c.Endpoint != "" || c.Bucket != ""
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Dir:         "~/.invoicing/data",
			RecordsFile: "invoices.txt",
			IDsFile:     "id.txt",
		},
		Journal: JournalConfig{
			Dir: "~/.invoicing/journal",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8080",
		},
		Backup: BackupConfig{
			Prefix: "invoicing",
			Secure: true,
		},
	}
}

// DefaultPath is where Load looks for config file if no path is given
func DefaultPath() string {
	return ExpandHome("~/.invoicing/config.toml")
}

// Load reads a TOML config file and returns the parsed Config.
// If path is empty and there's no file at DefaultPath, only defaults
// are returned. Paths are expanded and backup credentials from the
// environment are applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg.finish()
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config: unknown key '%s'", undecoded[0])
	}
	cfg.finish()
	return cfg, nil
}

func (c *Config) finish() {
	c.Store.Dir = ExpandHome(c.Store.Dir)
	c.Log.Dir = ExpandHome(c.Log.Dir)
	c.Journal.Dir = ExpandHome(c.Journal.Dir)
	if v := os.Getenv(EnvBackupAccess); v != "" {
		c.Backup.Access = v
	}
	if v := os.Getenv(EnvBackupSecret); v != "" {
		c.Backup.Secret = v
	}
}

// isPlainFileName returns true if name is a file name without directory
func isPlainFileName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// Validate checks the config and returns all problems found
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Dir == "" {
		errs = append(errs, errors.New("store.dir: must be set"))
	}
	if !isPlainFileName(c.Store.RecordsFile) {
		errs = append(errs, fmt.Errorf("store.records_file: '%s' is not a file name", c.Store.RecordsFile))
	}
	if !isPlainFileName(c.Store.IDsFile) {
		errs = append(errs, fmt.Errorf("store.ids_file: '%s' is not a file name", c.Store.IDsFile))
	}
	if c.Store.RecordsFile != "" && c.Store.RecordsFile == c.Store.IDsFile {
		errs = append(errs, errors.New("store.ids_file: must be different from store.records_file"))
	}
	if c.HTTP.Addr != "" {
		if err := validateListenAddr(c.HTTP.Addr); err != nil {
			errs = append(errs, fmt.Errorf("http.addr: %w", err))
		}
	}
	if c.Backup.Enabled() {
		b := &c.Backup
		if b.Endpoint == "" {
			errs = append(errs, errors.New("backup.endpoint: must be set"))
		}
		if b.Bucket == "" {
			errs = append(errs, errors.New("backup.bucket: must be set"))
		}
		if b.Access == "" || b.Secret == "" {
			errs = append(errs, fmt.Errorf("backup: access and secret must be set in config or with %s and %s", EnvBackupAccess, EnvBackupSecret))
		}
	}
	return errors.Join(errs...)
}

func validateListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port == "" {
		return fmt.Errorf("missing port in '%s'", addr)
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
