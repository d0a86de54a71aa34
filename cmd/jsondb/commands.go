// Subcommands.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/jsondb/internal/jsondb"
	"github.com/maruel/jsondb/internal/query"
	"github.com/maruel/jsondb/internal/storage"
)

// app runs commands against an open database.
type app struct {
	db            *jsondb.Database
	backend       jsondb.Backend
	path          string
	format        string
	w             io.Writer
	watchInterval time.Duration
}

type command struct {
	name string
	args string
	help string
	run  func(a *app, ctx context.Context, args []string) error
}

var commands = []command{
	{"tables", "", "List tables", (*app).tables},
	{"create", "<table> <attributes-json>", "Create a table", (*app).create},
	{"insert", "<table> <record-json>", "Insert a record and print its _id", (*app).insert},
	{"select", "<table> [-where f]... [-sort p[:desc]]...", "Print matching records", (*app).selectRecords},
	{"count", "<table> [-where f]...", "Count matching records", (*app).count},
	{"update", "<table> <patch-json> [-where f]...", "Apply a patch to matching records", (*app).update},
	{"delete", "<table> [-where f]...", "Delete matching records", (*app).deleteRecords},
	{"drop", "<table>", "Delete a table", (*app).drop},
	{"schema", "<table>", "Print the JSON Schema of a table's records", (*app).schema},
	{"history", "[-n N]", "List revisions (git backend)", (*app).history},
	{"revision", "<hash>", "Print the document at a revision (git backend)", (*app).revision},
	{"watch", "", "Reload and report table sizes when the file changes", (*app).watch},
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("a command is required")
	}
	for i := range commands {
		if commands[i].name == args[0] {
			return commands[i].run(a, ctx, args[1:])
		}
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// filterList collects repeated -where flags.
type filterList []query.Filter

func (f *filterList) String() string {
	return fmt.Sprint(*f)
}

func (f *filterList) Set(s string) error {
	filter, err := query.ParseFilter(s)
	if err != nil {
		return err
	}
	*f = append(*f, filter)
	return nil
}

// sortList collects repeated -sort flags.
type sortList []query.Sort

func (s *sortList) String() string {
	return fmt.Sprint(*s)
}

func (s *sortList) Set(v string) error {
	sort, err := query.ParseSort(v)
	if err != nil {
		return err
	}
	*s = append(*s, sort)
	return nil
}

// parseArgs parses args as npos positional arguments followed by flags.
func parseArgs(fs *flag.FlagSet, args []string, npos int) ([]string, error) {
	fs.SetOutput(io.Discard)
	if len(args) < npos || (npos > 0 && strings.HasPrefix(args[npos-1], "-")) {
		return nil, fmt.Errorf("%s: expected %d argument(s)", fs.Name(), npos)
	}
	if err := fs.Parse(args[npos:]); err != nil {
		return nil, fmt.Errorf("%s: %w", fs.Name(), err)
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf("%s: unexpected arguments %v", fs.Name(), fs.Args())
	}
	return args[:npos], nil
}

func decodeObject(s string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	if m == nil {
		return nil, errors.New("invalid JSON object: null")
	}
	return m, nil
}

func (a *app) tables(_ context.Context, args []string) error {
	if _, err := parseArgs(flag.NewFlagSet("tables", flag.ContinueOnError), args, 0); err != nil {
		return err
	}
	return a.print(a.db.Tables())
}

func (a *app) create(_ context.Context, args []string) error {
	pos, err := parseArgs(flag.NewFlagSet("create", flag.ContinueOnError), args, 2)
	if err != nil {
		return err
	}
	attrs, err := jsondb.DecodeAttributes([]byte(pos[1]))
	if err != nil {
		return err
	}
	if err := a.db.CreateTable(pos[0], attrs); err != nil {
		return err
	}
	slog.Info("Created table", "table", pos[0], "columns", len(attrs))
	return nil
}

func (a *app) insert(_ context.Context, args []string) error {
	pos, err := parseArgs(flag.NewFlagSet("insert", flag.ContinueOnError), args, 2)
	if err != nil {
		return err
	}
	record, err := decodeObject(pos[1])
	if err != nil {
		return err
	}
	id, err := a.db.Insert(pos[0], record)
	if id != 0 {
		// A failed save still added the record in memory; report its id.
		if perr := a.print(map[string]int64{jsondb.IDKey: id}); perr != nil {
			return errors.Join(err, perr)
		}
	}
	return err
}

func (a *app) selectRecords(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("select", flag.ContinueOnError)
	var where filterList
	var sorts sortList
	fs.Var(&where, "where", "Filter, e.g. age>=20 (repeatable)")
	fs.Var(&sorts, "sort", "Sort property, e.g. age:desc (repeatable)")
	pos, err := parseArgs(fs, args, 1)
	if err != nil {
		return err
	}
	records, err := a.db.Select(pos[0], query.Predicate(where...))
	if err != nil {
		return err
	}
	query.SortRecords(records, sorts...)
	return a.print(records)
}

func (a *app) count(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("count", flag.ContinueOnError)
	var where filterList
	fs.Var(&where, "where", "Filter, e.g. age>=20 (repeatable)")
	pos, err := parseArgs(fs, args, 1)
	if err != nil {
		return err
	}
	n, err := a.db.Count(pos[0], query.Predicate(where...))
	if err != nil {
		return err
	}
	return a.print(n)
}

func (a *app) update(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	var where filterList
	fs.Var(&where, "where", "Filter, e.g. age>=20 (repeatable)")
	pos, err := parseArgs(fs, args, 2)
	if err != nil {
		return err
	}
	patch, err := decodeObject(pos[1])
	if err != nil {
		return err
	}
	n, err := a.db.Update(pos[0], patch, query.Predicate(where...))
	if perr := a.print(map[string]int{"updated": n}); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

func (a *app) deleteRecords(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	var where filterList
	fs.Var(&where, "where", "Filter, e.g. age>=20 (repeatable)")
	pos, err := parseArgs(fs, args, 1)
	if err != nil {
		return err
	}
	n, err := a.db.Delete(pos[0], query.Predicate(where...))
	if perr := a.print(map[string]int{"deleted": n}); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

func (a *app) drop(_ context.Context, args []string) error {
	pos, err := parseArgs(flag.NewFlagSet("drop", flag.ContinueOnError), args, 1)
	if err != nil {
		return err
	}
	if err := a.db.Drop(pos[0]); err != nil {
		return err
	}
	slog.Info("Dropped table", "table", pos[0])
	return nil
}

func (a *app) schema(_ context.Context, args []string) error {
	pos, err := parseArgs(flag.NewFlagSet("schema", flag.ContinueOnError), args, 1)
	if err != nil {
		return err
	}
	s, err := a.db.JSONSchema(pos[0])
	if err != nil {
		return err
	}
	return a.print(s)
}

func (a *app) versioned() (*storage.VersionedBackend, error) {
	v, ok := a.backend.(*storage.VersionedBackend)
	if !ok {
		return nil, errors.New("revisions require the git backend")
	}
	return v, nil
}

func (a *app) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	n := fs.Int("n", 20, "Maximum number of revisions")
	if _, err := parseArgs(fs, args, 0); err != nil {
		return err
	}
	v, err := a.versioned()
	if err != nil {
		return err
	}
	commits, err := v.History(ctx, *n)
	if err != nil {
		return err
	}
	return a.print(commits)
}

func (a *app) revision(ctx context.Context, args []string) error {
	pos, err := parseArgs(flag.NewFlagSet("revision", flag.ContinueOnError), args, 1)
	if err != nil {
		return err
	}
	v, err := a.versioned()
	if err != nil {
		return err
	}
	doc, err := v.Revision(ctx, pos[0])
	if err != nil {
		return err
	}
	return a.print(doc)
}

func (a *app) watch(ctx context.Context, args []string) error {
	if _, err := parseArgs(flag.NewFlagSet("watch", flag.ContinueOnError), args, 0); err != nil {
		return err
	}
	if _, ok := a.backend.(*storage.SQLiteBackend); ok {
		return errors.New("watch requires a file backed document")
	}
	w, err := storage.NewWatcher(a.path, a.watchInterval)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Watching", "path", a.path)
	return w.Run(ctx, func() {
		if err := a.db.Reload(); err != nil {
			slog.WarnContext(ctx, "Failed to reload", "err", err)
			return
		}
		attrs := []any{}
		for _, name := range a.db.Tables() {
			n, err := a.db.Count(name, jsondb.All)
			if err != nil {
				continue
			}
			attrs = append(attrs, name, strconv.Itoa(n))
		}
		slog.InfoContext(ctx, "Reloaded", attrs...)
	})
}
