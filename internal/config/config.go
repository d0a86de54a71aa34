// Package config manages the jsondb.json command line configuration.
//
// The file is created with defaults on first use. JSONDB_* environment
// variables override its values without being written back.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the default configuration file name.
const FileName = "jsondb.json"

// Backend selects where the document is stored.
type Backend string

const (
	// BackendFile stores the document in a JSON file.
	BackendFile Backend = "file"
	// BackendSQLite stores the document in a SQLite database.
	BackendSQLite Backend = "sqlite"
	// BackendGit stores the document in a JSON file and commits every change.
	BackendGit Backend = "git"
)

// Valid reports whether b is a known backend.
func (b Backend) Valid() bool {
	switch b {
	case BackendFile, BackendSQLite, BackendGit:
		return true
	}
	return false
}

// Git holds the commit identity of the git backend.
type Git struct {
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
}

// Config is the command line configuration.
type Config struct {
	// File is the document path, or the SQLite database path with the
	// sqlite backend. Relative paths are relative to the configuration file.
	File string `json:"file"`

	Backend Backend `json:"backend"`

	// SQLiteDocument names the document row in the SQLite database.
	SQLiteDocument string `json:"sqlite_document"`

	Git Git `json:"git"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `json:"log_level"`

	// dir is the directory File is relative to.
	dir string
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		File:           "db.json",
		Backend:        BackendFile,
		SQLiteDocument: "main",
		Git:            Git{AuthorName: "jsondb", AuthorEmail: "jsondb@localhost"},
		LogLevel:       "info",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.File == "" {
		return errors.New("file is required")
	}
	if !c.Backend.Valid() {
		return fmt.Errorf("backend must be one of file, sqlite or git, got %q", c.Backend)
	}
	if c.Backend == BackendSQLite && c.SQLiteDocument == "" {
		return errors.New("sqlite_document is required with the sqlite backend")
	}
	if c.Backend == BackendGit && (c.Git.AuthorName == "" || c.Git.AuthorEmail == "") {
		return errors.New("git.author_name and git.author_email are required with the git backend")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// FilePath returns File resolved against the configuration file directory.
func (c *Config) FilePath() string {
	if c.dir == "" || filepath.IsAbs(c.File) {
		return c.File
	}
	return filepath.Join(c.dir, c.File)
}

// ApplyEnv overrides values with the JSONDB_* variables returned by getenv.
// A file set this way is relative to the working directory.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("JSONDB_FILE"); v != "" {
		c.File = v
		c.dir = ""
	}
	if v := getenv("JSONDB_BACKEND"); v != "" {
		c.Backend = Backend(v)
	}
	if v := getenv("JSONDB_SQLITE_DOCUMENT"); v != "" {
		c.SQLiteDocument = v
	}
	if v := getenv("JSONDB_GIT_AUTHOR_NAME"); v != "" {
		c.Git.AuthorName = v
	}
	if v := getenv("JSONDB_GIT_AUTHOR_EMAIL"); v != "" {
		c.Git.AuthorEmail = v
	}
	if v := getenv("JSONDB_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Load loads the configuration from path, creating the file with defaults if
// it doesn't exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the user
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		slog.Info("Created configuration", "path", path)
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
