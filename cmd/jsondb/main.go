// Command jsondb manipulates a schema-validated JSON document database.
//
// The document lives in a JSON file, a SQLite database or a JSON file
// versioned in git. Configuration is read from jsondb.json (created with
// defaults), JSONDB_* environment variables and CLI flags, in increasing
// order of precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/jsondb/internal/config"
	"github.com/maruel/jsondb/internal/jsondb"
	"github.com/maruel/jsondb/internal/storage"
	"github.com/maruel/jsondb/internal/storage/git"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "jsondb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", config.FileName, "Configuration file, created with defaults if missing")
	file := flag.String("file", "", "Document path (SQLite database path with -backend sqlite)")
	backend := flag.String("backend", "", "Storage backend (file, sqlite, git)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	format := flag.String("format", "json", "Output format (json, yaml)")
	flag.Usage = usage
	flag.Parse()

	if *version || flag.Arg(0) == "version" {
		printVersion(os.Stdout)
		return nil
	}
	if flag.NArg() == 0 {
		usage()
		return errors.New("a command is required")
	}
	if *format != "json" && *format != "yaml" {
		return fmt.Errorf("unknown -format %q", *format)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:       ll,
		TimeFormat:  "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:     !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: dropZero,
	})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// Flags set explicitly override the configuration.
	path := cfg.FilePath()
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "file":
			path = *file
		case "backend":
			cfg.Backend = config.Backend(*backend)
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	ll.Set(level)

	b, closeBackend, err := openBackend(cfg, path)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			slog.Warn("Failed to close backend", "err", err)
		}
	}()
	db, err := jsondb.Open(b)
	if err != nil {
		return err
	}
	slog.Debug("Opened database", "backend", cfg.Backend, "path", path)
	a := &app{db: db, backend: b, path: path, format: *format, w: os.Stdout, watchInterval: 250 * time.Millisecond}
	return a.run(ctx, flag.Args())
}

// openBackend returns the backend selected by cfg storing at path, and a
// function releasing it.
func openBackend(cfg *config.Config, path string) (jsondb.Backend, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case config.BackendFile:
		b, err := storage.NewFileBackend(path)
		return b, noop, err
	case config.BackendSQLite:
		b, err := storage.OpenSQLite(path, cfg.SQLiteDocument)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case config.BackendGit:
		b, err := storage.NewVersionedBackend(path, git.Author{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail})
		return b, noop, err
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// dropZero removes zero-valued attributes from log lines.
func dropZero(_ []string, a slog.Attr) slog.Attr {
	skip := false
	switch t := a.Value.Any().(type) {
	case string:
		skip = t == ""
	case bool:
		skip = !t
	case int64:
		skip = t == 0
	case float64:
		skip = t == 0
	case time.Time:
		skip = t.IsZero()
	case time.Duration:
		skip = t == 0
	case nil:
		skip = true
	}
	if skip {
		return slog.Attr{}
	}
	return a
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: jsondb [flags] <command> [args]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-38s %s\n", c.name+" "+c.args, c.help)
	}
	fmt.Fprintf(out, "\nFlags:\n")
	flag.PrintDefaults()
}

func printVersion(w io.Writer) {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Fprintf(w, "jsondb %s\n", version)
	fmt.Fprintf(w, "  Go version: %s\n", goVersion)
	fmt.Fprintf(w, "  Revision:   %s\n", revision)
	if dirty {
		fmt.Fprintf(w, "  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
