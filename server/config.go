package server

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	blacklist "github.com/xpdustry/simple-blacklist"
)

const (
	settingsFile   = "config.json"
	playersFile    = "players.db"
	auditFile      = "audit.log"
	controlFile    = "control.sock"
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
)

// Config is the server configuration. The zero value is not usable, start
// from DefaultConfig.
type Config struct {
	// SSHAddr is where the lobby listens.
	SSHAddr string `yaml:"ssh_addr"`
	// Dir holds the settings document, the player database, keys, logs and the control socket.
	Dir string `yaml:"dir"`
	// AdminKeys are authorized_keys formatted public keys of admins.
	AdminKeys []string `yaml:"admin_keys"`
	// AutosaveInterval is how often modified settings are written.
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
	// LogFile, when set, receives the server log in addition to stderr.
	LogFile        string `yaml:"log_file"`
	LogMaxSizeMB   int    `yaml:"log_max_size_mb"`
	AuditMaxSizeMB int    `yaml:"audit_max_size_mb"`
}

func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		SSHAddr:          "127.0.0.1:15000",
		Dir:              filepath.Join(home, ".simple-blacklist"),
		AutosaveInterval: time.Minute,
		LogMaxSizeMB:     10,
		AuditMaxSizeMB:   10,
	}
}

// LoadFile overlays the YAML file at path on c. Keys missing from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return blacklist.WithStack(err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}
	return nil
}

func (c Config) path(name string) string {
	return filepath.Join(c.Dir, name)
}

func (c Config) SettingsPath() string {
	return c.path(settingsFile)
}

func (c Config) ControlSocketPath() string {
	return c.path(controlFile)
}

// SetupLogging sends the standard logger to stderr and, when configured, to
// a rotated log file. The returned closer closes the file.
func SetupLogging(c Config) io.Closer {
	if c.LogFile == "" {
		return io.NopCloser(nil)
	}
	file := &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    c.LogMaxSizeMB,
		MaxBackups: 3,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, file))
	return file
}
