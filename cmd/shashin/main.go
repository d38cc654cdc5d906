// Package main is the shashin CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/blob"
	"github.com/hyperjump/shashin/internal/cli"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/ingest"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/server"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/watcher"
	"github.com/hyperjump/shashin/pkg/utils"
)

var version = "dev"

const healthCheckTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "upload":
		runUpload()
	case "search":
		runSearch()
	case "import":
		runImport()
	case "delete":
		runDelete()
	case "retitle":
		runRetitle()
	case "status":
		runStatus()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("shashin version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// loadConfig resolves and loads the config, returning the path actually used.
func loadConfig(path string) (*config.Config, string, error) {
	resolved := config.ResolvePath(path)
	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

// setup loads config, builds a logger and initializes components.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode, cfg.Log.Level)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

// resolveOwner picks the --owner flag, falling back to the configured import owner.
func resolveOwner(flagOwner string, cfg *config.Config) string {
	if o := strings.TrimSpace(flagOwner); o != "" {
		return o
	}
	if cfg != nil {
		return strings.TrimSpace(cfg.Watch.Owner)
	}
	return ""
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()

	var watchSvc server.WatchService
	if len(cfg.Watch.Directories) > 0 {
		if w := startWatcher(watchCtx, cfg, logger, components.Ingester); w != nil {
			defer w.Stop()
			watchSvc = w
		}
	}

	srv := server.NewServer(components.Engine, components.Ingester, cfg, logger, watchSvc)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func startWatcher(ctx context.Context, cfg *config.Config, logger *zap.Logger, in *ingest.Ingester) *watcher.Watcher {
	owner := strings.TrimSpace(cfg.Watch.Owner)
	if owner == "" {
		logger.Warn("watch.owner is not set; directory import disabled",
			zap.Strings("directories", cfg.Watch.Directories))
		return nil
	}
	exts := cfg.Watch.Extensions
	w := watcher.NewWatcher(
		cfg.Watch.Directories,
		exts,
		cfg.Watch.RecursiveOrDefault(),
		func(path string) {
			imported, err := in.ImportFile(ctx, owner, path, exts)
			if err != nil {
				logger.Warn("watch import failed", zap.String("path", path), zap.Error(err))
				return
			}
			if imported {
				logger.Info("imported", zap.String("path", path))
			}
		},
		watcher.WithLogger(logger),
	)
	if err := w.Start(ctx); err != nil {
		logger.Error("Failed to start watcher", zap.Error(err))
		return nil
	}
	go w.SyncExistingFiles()
	return w
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "config file path")
	owner := fs.String("owner", "", "owner id (default: watch.owner from config)")
	title := fs.String("title", "", "display title (default: file name)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(reorderArgs(fs, os.Args[2:]))

	if fs.NArg() < 1 {
		fatalf("Usage: shashin upload [flags] <file>")
	}
	format := parseFormat(*outputFormat)
	path := fs.Arg(0)
	content, err := os.ReadFile(path)
	if err != nil {
		fatalf("Failed to read file: %v", err)
	}

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	asset, err := components.Ingester.Upload(context.Background(), &models.MediaInput{
		OwnerID:  resolveOwner(*owner, cfg),
		Title:    *title,
		Filename: path,
	}, content)
	if err != nil {
		fatalf("Upload failed: %v", err)
	}
	if err := cli.WriteAsset(os.Stdout, asset, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// reorderArgs moves flags (with their values) ahead of positional arguments
// so flag.Parse sees them wherever they were typed. Positional arguments keep
// their relative order. Everything after "--" is positional.
func reorderArgs(fs *flag.FlagSet, args []string) []string {
	flags := make([]string, 0, len(args))
	positional := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if len(a) < 2 || a[0] != '-' {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		name := strings.TrimLeft(a, "-")
		if strings.Contains(name, "=") {
			continue
		}
		if f := fs.Lookup(name); f != nil && !isBoolFlag(f) && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(f *flag.Flag) bool {
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: shashin search [flags] [query]\n\n")
	fmt.Fprintf(fs.Output(), "Without a query the gallery is listed newest first.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  shashin search
  shashin search sunset over the sea
  shashin search --server "" --owner alice "dog on a beach"
  shashin search --output json --limit 5 mountains
`)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = open storage directly)")
	owner := fs.String("owner", "", "owner id (default: watch.owner from config)")
	limit := fs.Int("limit", 20, "number of results")
	offset := fs.Int("offset", 0, "number of results to skip")
	outputFormat := fs.String("output", "text", "output format: text, compact or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(reorderArgs(fs, os.Args[2:]))

	format := parseFormat(*outputFormat)
	query := buildSearchQuery(fs.Args())

	var response *search.Response
	if *serverURL != "" {
		var cfg *config.Config
		if c, _, err := loadConfig(*configPath); err == nil {
			cfg = c
		}
		resp, err := searchViaHTTP(context.Background(), http.DefaultClient, *serverURL, resolveOwner(*owner, cfg), query, *offset, *limit)
		if err != nil {
			fatalf("Search failed: %v", err)
		}
		response = resp
	} else {
		cfg, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		resp, err := components.Engine.Search(context.Background(), resolveOwner(*owner, cfg), query)
		if err != nil {
			fatalf("Search failed: %v", err)
		}
		resp.Page(*offset, *limit)
		response = resp
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// searchURL builds the media listing/search URL.
func searchURL(serverURL, query string, offset, limit int) string {
	v := url.Values{}
	if query != "" {
		v.Set("q", query)
	}
	if offset > 0 {
		v.Set("offset", strconv.Itoa(offset))
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	u := strings.TrimRight(serverURL, "/") + "/api/v1/media"
	if enc := v.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func searchViaHTTP(ctx context.Context, client *http.Client, serverURL, owner, query string, offset, limit int) (*search.Response, error) {
	if owner == "" {
		return nil, models.ErrOwnerRequired
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL(serverURL, query, offset, limit), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(server.OwnerHeader, owner)
	var response search.Response
	if err := doJSON(client, req, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func doJSON(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "config file path")
	owner := fs.String("owner", "", "owner id (default: watch.owner from config)")
	recursive := fs.Bool("recursive", true, "descend into subdirectories")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(reorderArgs(fs, os.Args[2:]))

	if fs.NArg() < 1 {
		fatalf("Usage: shashin import [flags] <directory>")
	}
	format := parseFormat(*outputFormat)

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	stats, err := components.Ingester.ImportDirectory(context.Background(),
		resolveOwner(*owner, cfg), fs.Arg(0), *recursive, cfg.Watch.Extensions)
	if err != nil {
		fatalf("Import failed: %v", err)
	}
	if format == cli.OutputJSON {
		_ = json.NewEncoder(os.Stdout).Encode(stats)
		return
	}
	fmt.Printf("Imported %d, skipped %d, failed %d\n", stats.Imported, stats.Skipped, stats.Failed)
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "config file path")
	owner := fs.String("owner", "", "owner id (default: watch.owner from config)")
	_ = fs.Parse(reorderArgs(fs, os.Args[2:]))

	if fs.NArg() < 1 {
		fatalf("Usage: shashin delete [flags] <asset-id>")
	}
	id := fs.Arg(0)

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	if err := components.Ingester.Delete(context.Background(), resolveOwner(*owner, cfg), id); err != nil {
		fatalf("Deletion failed: %v", err)
	}
	fmt.Printf("Asset deleted: %s\n", id)
}

func runRetitle() {
	fs := flag.NewFlagSet("retitle", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "config file path")
	owner := fs.String("owner", "", "owner id (default: watch.owner from config)")
	_ = fs.Parse(reorderArgs(fs, os.Args[2:]))

	if fs.NArg() < 2 {
		fatalf("Usage: shashin retitle [flags] <asset-id> <title>")
	}
	id := fs.Arg(0)
	title := buildSearchQuery(fs.Args()[1:])

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	asset, err := components.Ingester.Retitle(context.Background(), resolveOwner(*owner, cfg), id, title)
	if err != nil {
		fatalf("Retitle failed: %v", err)
	}
	fmt.Printf("Asset %s is now titled %q\n", asset.ID, asset.Title)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = open storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var st *ingest.Status
	if *serverURL != "" {
		req, err := http.NewRequest(http.MethodGet, strings.TrimRight(*serverURL, "/")+"/api/v1/status", nil)
		if err != nil {
			fatalf("Status failed: %v", err)
		}
		st = &ingest.Status{}
		if err := doJSON(http.DefaultClient, req, st); err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		cfg, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		s, err := components.Ingester.Status(context.Background())
		if err != nil {
			fatalf("Status failed: %v", err)
		}
		s.WatchDirectories = cfg.Watch.Directories
		st = s
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "config file path to create")
	owner := fs.String("owner", "", "owner id for imported files")
	provider := fs.String("provider", "onnx", "embedding provider: onnx, ollama or mock")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	if _, err := os.Stat(*configPath); err == nil && !*force {
		fatalf("Config already exists at %s (use --force to overwrite)", *configPath)
	}
	cfg := defaultConfig(*owner, *provider)
	if err := config.Save(*configPath, cfg); err != nil {
		fatalf("Failed to write config: %v", err)
	}
	fmt.Printf("Wrote %s\n", *configPath)
}

func defaultConfig(owner, provider string) *config.Config {
	cfg := &config.Config{}
	cfg.Embedding.Provider = provider
	cfg.Watch.Owner = owner
	config.ApplyDefaults(cfg)
	return cfg
}

// Components holds initialized services.
type Components struct {
	Storage  storage.Storage
	Blobs    blob.Store
	Provider embedding.Provider
	Engine   *search.Engine
	Ingester *ingest.Ingester
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Provider != nil {
		_ = c.Provider.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	blobs, err := blob.NewFSStore(cfg.Storage.MediaPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize media store: %w", err)
	}
	provider, err := embedding.New(cfg.Embedding)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	healthCtx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	if err := embedding.CheckHealth(healthCtx, provider); err != nil {
		_ = provider.Close()
		_ = store.Close()
		return nil, fmt.Errorf("embedding provider not ready: %w", err)
	}
	logger.Info("embedding provider initialized",
		zap.String("model", provider.Model()),
		zap.Int("dimensions", provider.Dimensions()))

	return &Components{
		Storage:  store,
		Blobs:    blobs,
		Provider: provider,
		Engine:   search.NewEngine(store, provider, search.WithLogger(logger)),
		Ingester: ingest.NewIngester(store, blobs, provider, ingest.WithLogger(logger)),
	}, nil
}

func printUsage() {
	fmt.Println(`shashin - Personal media gallery with semantic search

Usage:
  shashin server [flags]                Start the HTTP server
  shashin upload [flags] <file>         Add an image to the gallery
  shashin search [flags] [query]        Search by description (no query lists everything)
  shashin import [flags] <directory>    Import every image in a directory
  shashin delete [flags] <id>           Delete an asset
  shashin retitle [flags] <id> <title>  Change an asset's title
  shashin status [flags]                Show gallery status
  shashin init [flags]                  Write a default config file
  shashin version                       Show version
  shashin help                          Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/shashin/config.yaml)
  --owner string     Owner id (default: watch.owner from config)

Search/Status Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to open storage directly.
  --output string    Output format: text, compact or json (default: text)
  --limit int        Number of results (default: 20)
  --offset int       Results to skip

Examples:
  shashin init --owner alice
  shashin server
  shashin upload --title "Harbour at night" harbour.jpg
  shashin search boats at night
  shashin search --output json "red flowers"
  shashin import ~/Pictures/2024
  shashin retitle 3f2a... "Harbour, winter"
  shashin status`)
}
