// mcgr is a CLI for inspecting and seeding group-membership cache files.
//
// Usage:
//
//	mcgr [opts] <cache-file>        Attach to an existing cache file
//	mcgr new [opts] <cache-file>    Create and seed a new cache file
//
// Options:
//
//	-c, --config     Config file path (default: .mcgr.json if present)
//	-l, --limit      Default lookup limit in entries (0 = unbounded)
//	-v, --verbose    Enable debug logging
//
// Options for 'new':
//
//	-u, --users      Number of synthetic users to seed (default: 100)
//	-g, --groups     Groups per user (default: 8)
//	-t, --table      Hash table slot count (default: 1024)
//
// Commands (in REPL):
//
//	lookup <name> [limit]   Resolve a principal's group IDs
//	scan [limit]            List cached records
//	info                    Show cache geometry and state
//	readers                 Show in-flight lookup count
//	refresh                 Remap if the writer published a new file
//	seed <count> [groups]   Publish a fresh synthetic cache and remap
//	invalidate              Mark the cache unusable
//	dump <file> [format]    Export all records (json or cbor)
//	help                    Show this help
//	exit / quit / q         Exit
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterh/liner"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/croftbryce/idcache/pkg/groupmc"
)

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()

		return errors.New("missing command or cache file path")
	}

	if os.Args[1] == "new" {
		return runNew(os.Args[2:])
	}

	return runOpen(os.Args[1:])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  mcgr [opts] <cache-file>        Attach to an existing cache file\n")
	fmt.Fprintf(os.Stderr, "  mcgr new [opts] <cache-file>    Create and seed a new cache file\n")
	fmt.Fprintf(os.Stderr, "\nRun 'mcgr new --help' for seeding options.\n")
}

func runNew(args []string) error {
	fs := pflag.NewFlagSet("new", pflag.ExitOnError)

	users := fs.IntP("users", "u", 100, "number of synthetic users to seed")
	groups := fs.IntP("groups", "g", 8, "groups per user")
	table := fs.Uint64P("table", "t", 1024, "hash table slot count")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mcgr new [options] <cache-file>\n\n")
		fmt.Fprintf(os.Stderr, "Create a new cache file seeded with synthetic users.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()

		return errors.New("missing cache file path")
	}

	path := fs.Arg(0)

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("cache file already exists: %s (use 'mcgr %s' to open it)", path, path)
	}

	if err := seedCacheFile(path, *table, *users, *groups); err != nil {
		return err
	}

	fmt.Printf("Seeded %d users into %s\n\n", *users, path)

	return openREPL(path, DefaultConfig(), zap.NewNop())
}

func runOpen(args []string) error {
	fs := pflag.NewFlagSet("mcgr", pflag.ExitOnError)

	configPath := fs.StringP("config", "c", "", "config file path")
	limit := fs.IntP("limit", "l", 0, "default lookup limit in entries")
	verbose := fs.BoolP("verbose", "v", false, "enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mcgr [options] <cache-file>\n\n")
		fmt.Fprintf(os.Stderr, "Attach to an existing cache file.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	cfg, err := LoadConfig(workDir, *configPath)
	if err != nil {
		return err
	}

	if fs.NArg() >= 1 {
		cfg.CachePath = fs.Arg(0)
	}

	if cfg.CachePath == "" {
		fs.Usage()

		return errors.New("missing cache file path (argument or cache_path in config)")
	}

	if fs.Changed("limit") {
		cfg.Limit = *limit
	}

	logger := zap.NewNop()

	if *verbose {
		devLogger, logErr := zap.NewDevelopment()
		if logErr != nil {
			return fmt.Errorf("creating logger: %w", logErr)
		}

		logger = devLogger
	}

	return openREPL(cfg.CachePath, cfg, logger)
}

func openREPL(path string, cfg Config, logger *zap.Logger) error {
	cache, err := groupmc.Attach(groupmc.Options{Path: path, Logger: logger})
	if err != nil {
		return fmt.Errorf("attaching to %s: %w", path, err)
	}
	defer cache.Close()

	repl := &REPL{
		cache:      cache,
		path:       path,
		limit:      cfg.Limit,
		dumpFormat: cfg.DumpFormat,
	}

	return repl.Run()
}

// seedCacheFile publishes a cache of synthetic users at path.
//
// Deterministic: user names are sequential and group IDs come from a fixed
// seed, so repeated seeds of the same size produce identical lookups.
func seedCacheFile(path string, table uint64, users, groups int) error {
	w, err := groupmc.NewWriter(groupmc.WriterOptions{TableCount: table})
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}

	rng := rand.New(rand.NewSource(1)) //nolint:gosec // synthetic fixture data
	expire := time.Now().Add(24 * time.Hour)

	for i := 1; i <= users; i++ {
		gids := make([]uint32, groups)
		for j := range gids {
			gids[j] = 1000 + uint32(rng.Intn(9000))
		}

		name := fmt.Sprintf("user%04d", i)

		addErr := w.Add(name, gids, expire)
		if addErr != nil {
			return fmt.Errorf("seeding %s: %w", name, addErr)
		}
	}

	if err := w.WriteTo(path); err != nil {
		return fmt.Errorf("publishing cache: %w", err)
	}

	return nil
}

// REPL is the interactive command loop.
type REPL struct {
	cache      *groupmc.Cache
	path       string
	limit      int
	dumpFormat string
	liner      *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".mcgr_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("mcgr - membership cache CLI (%s)\n", r.path)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("mcgr> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "lookup", "get":
			r.cmdLookup(args)

		case "scan", "ls", "list":
			r.cmdScan(args)

		case "info":
			r.cmdInfo()

		case "readers":
			r.cmdReaders()

		case "refresh":
			r.cmdRefresh()

		case "seed":
			r.cmdSeed(args)

		case "invalidate":
			r.cmdInvalidate()

		case "dump":
			r.cmdDump(args)

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

// completer provides tab completion for commands.
func (r *REPL) completer(line string) []string {
	commands := []string{
		"lookup", "get", "scan", "ls", "list",
		"info", "readers", "refresh", "seed",
		"invalidate", "dump", "clear", "cls",
		"help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  lookup <name> [limit]   Resolve a principal's group IDs")
	fmt.Println("  scan [limit]            List cached records")
	fmt.Println("  info                    Show cache geometry and state")
	fmt.Println("  readers                 Show in-flight lookup count")
	fmt.Println("  refresh                 Remap if the writer published a new file")
	fmt.Println("  seed <count> [groups]   Publish a fresh synthetic cache and remap")
	fmt.Println("  invalidate              Mark the cache unusable")
	fmt.Println("  dump <file> [format]    Export all records (json or cbor)")
	fmt.Println("  help                    Show this help")
	fmt.Println("  exit / quit / q         Exit")
}

func (r *REPL) cmdLookup(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: lookup <name> [limit]")

		return
	}

	name := args[0]
	limit := r.limit

	if len(args) >= 2 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil || parsed < 0 {
			fmt.Printf("Invalid limit: %s\n", args[1])

			return
		}

		limit = parsed
	}

	buf := groupmc.NewGIDBuffer(16)
	start := time.Now()

	n, err := r.cache.LookupGroups(name, buf, limit)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		fmt.Printf("%s: %d group(s) in %v\n", name, n, elapsed)

		for _, gid := range buf.GIDs() {
			fmt.Printf("  %d\n", gid)
		}
	case errors.Is(err, groupmc.ErrNotFound):
		fmt.Printf("%s: not found\n", name)
	case errors.Is(err, groupmc.ErrExpired):
		fmt.Printf("%s: expired\n", name)
	default:
		fmt.Printf("lookup failed: %v\n", err)
	}
}

func (r *REPL) cmdScan(args []string) {
	limit := 0

	if len(args) >= 1 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed < 0 {
			fmt.Printf("Invalid limit: %s\n", args[0])

			return
		}

		limit = parsed
	}

	entries, err := r.cache.Entries()
	if err != nil {
		fmt.Printf("scan failed: %v\n", err)

		return
	}

	shown := 0

	for _, entry := range entries {
		if limit > 0 && shown >= limit {
			fmt.Printf("... (%d more)\n", len(entries)-shown)

			break
		}

		fmt.Printf("  %-20s %d group(s), expires %s\n",
			entry.Name, len(entry.GIDs), entry.Expire.Format(time.RFC3339))

		shown++
	}

	fmt.Printf("%d record(s)\n", len(entries))
}

func (r *REPL) cmdInfo() {
	info, err := r.cache.Info()
	if err != nil {
		fmt.Printf("info failed: %v\n", err)

		return
	}

	fmt.Printf("Path:         %s\n", r.path)
	fmt.Printf("Version:      %d\n", info.Version)
	fmt.Printf("Table slots:  %d\n", info.TableCount)
	fmt.Printf("Data extent:  %d bytes\n", info.DataExtent)
	fmt.Printf("Writer ID:    %s\n", info.WriterID)
	fmt.Printf("Invalidated:  %v\n", info.Invalidated)
}

func (r *REPL) cmdReaders() {
	fmt.Printf("In-flight lookups: %d\n", r.cache.Readers())
}

func (r *REPL) cmdRefresh() {
	err := r.cache.Refresh()

	switch {
	case err == nil:
		fmt.Println("OK")
	case errors.Is(err, groupmc.ErrBusy):
		fmt.Println("busy: lookups in flight, retry")
	default:
		fmt.Printf("refresh failed: %v\n", err)
	}
}

func (r *REPL) cmdSeed(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: seed <count> [groups]")

		return
	}

	count, err := strconv.Atoi(args[0])
	if err != nil || count <= 0 {
		fmt.Printf("Invalid count: %s\n", args[0])

		return
	}

	groups := 8

	if len(args) >= 2 {
		groups, err = strconv.Atoi(args[1])
		if err != nil || groups < 0 {
			fmt.Printf("Invalid group count: %s\n", args[1])

			return
		}
	}

	info, err := r.cache.Info()
	if err != nil {
		fmt.Printf("seed failed: %v\n", err)

		return
	}

	if err := seedCacheFile(r.path, info.TableCount, count, groups); err != nil {
		fmt.Printf("seed failed: %v\n", err)

		return
	}

	if err := r.cache.Refresh(); err != nil {
		fmt.Printf("seeded, but refresh failed: %v\n", err)

		return
	}

	fmt.Printf("Seeded %d users\n", count)
}

func (r *REPL) cmdInvalidate() {
	if err := groupmc.MarkInvalidated(r.path); err != nil {
		fmt.Printf("invalidate failed: %v\n", err)

		return
	}

	fmt.Println("Cache invalidated. Lookups now report misses; seed to rebuild.")
}

// dumpEntry is the export shape for one cached record.
type dumpEntry struct {
	Name   string   `json:"name"   cbor:"name"`
	GIDs   []uint32 `json:"gids"   cbor:"gids"`
	Expire int64    `json:"expire" cbor:"expire"` // unix seconds
}

func (r *REPL) cmdDump(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: dump <file> [json|cbor]")

		return
	}

	outPath := args[0]
	format := r.dumpFormat

	if len(args) >= 2 {
		format = strings.ToLower(args[1])
	}

	entries, err := r.cache.Entries()
	if err != nil {
		fmt.Printf("dump failed: %v\n", err)

		return
	}

	out := make([]dumpEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, dumpEntry{
			Name:   entry.Name,
			GIDs:   entry.GIDs,
			Expire: entry.Expire.Unix(),
		})
	}

	var data []byte

	switch format {
	case "json":
		data, err = json.MarshalIndent(out, "", "  ")
	case "cbor":
		data, err = cbor.Marshal(out)
	default:
		fmt.Printf("Unknown format: %s (want json or cbor)\n", format)

		return
	}

	if err != nil {
		fmt.Printf("encoding failed: %v\n", err)

		return
	}

	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		fmt.Printf("writing %s failed: %v\n", outPath, err)

		return
	}

	fmt.Printf("Wrote %d record(s) to %s (%s, %d bytes)\n", len(out), outPath, format, len(data))
}
