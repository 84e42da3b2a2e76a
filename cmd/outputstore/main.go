// Output Store
//
// Persists job output files and hands back a URL for each:
// - Local directory published over HTTP, FTP, Dropbox/S3/GCS, Google Drive
// - Free-space admission control for the local target
// - Optional PostgreSQL catalog of stored outputs
// - Prometheus metrics & structured logging (zap)
//
// Usage:
//
//	outputstore store [-format mime | -ext .tiff] [-backend kind] file...
//	outputstore serve
//	outputstore space [dir]
//	outputstore kinds
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/outputstore/internal/api"
	"github.com/fruitsalade/outputstore/internal/catalog"
	"github.com/fruitsalade/outputstore/internal/config"
	"github.com/fruitsalade/outputstore/internal/format"
	"github.com/fruitsalade/outputstore/internal/logging"
	"github.com/fruitsalade/outputstore/internal/metrics"
	"github.com/fruitsalade/outputstore/internal/storage"
	_ "github.com/fruitsalade/outputstore/internal/storage/all"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	// Logs go to stderr so store results on stdout stay parseable.
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: "stderr",
		Service:    "outputstore",
	}); err != nil {
		fmt.Fprintln(os.Stderr, "logging init error:", err)
		os.Exit(1)
	}
	defer logging.Sync()

	args := os.Args[2:]
	switch os.Args[1] {
	case "store":
		err = runStore(cfg, args)
	case "serve":
		err = runServe(cfg)
	case "space":
		err = runSpace(cfg, args)
	case "kinds":
		for _, k := range storage.Registered() {
			fmt.Println(k)
		}
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logging.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: outputstore <store|serve|space|kinds> [flags]")
}

// openBackend builds the configured backend, instrumented and, when a
// database is configured, recorded in the catalog.
func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, *catalog.Store, error) {
	kind, raw, err := cfg.BackendConfig()
	if err != nil {
		return nil, nil, err
	}
	b, err := storage.New(ctx, kind, raw)
	if err != nil {
		return nil, nil, err
	}
	backend := storage.Instrument(b)

	if cfg.DatabaseURL == "" {
		return backend, nil, nil
	}
	cat, err := catalog.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := cat.Migrate(ctx); err != nil {
		cat.Close()
		return nil, nil, err
	}
	return catalog.Recording(backend, cat), cat, nil
}

type storeOutput struct {
	File   string          `json:"file"`
	Result *storage.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"error_kind,omitempty"`
}

func runStore(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	mimeType := fs.String("format", "", "declared output MIME type")
	ext := fs.String("ext", "", "declared output extension")
	backendKind := fs.String("backend", cfg.StorageBackend, "storage backend kind")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("no files to store")
	}
	cfg.StorageBackend = *backendKind

	var declared storage.Format
	switch {
	case *mimeType != "":
		if f := format.ForMime(*mimeType); f.Ext != "" {
			declared = f
		}
	case *ext != "":
		declared = format.ForExtension(*ext)
	}

	ctx := context.Background()
	backend, cat, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	if cat != nil {
		defer cat.Close()
	}

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for _, file := range fs.Args() {
		out := storeOutput{File: file}
		res, err := backend.Store(ctx, storage.FileArtifact{Path: file, Format: declared})
		if err != nil {
			failed++
			out.Error = err.Error()
			out.Kind = storage.KindOf(err).String()
		} else {
			out.Result = &res
		}
		enc.Encode(out)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files not stored", failed, fs.NArg())
	}
	return nil
}

func runSpace(cfg *config.Config, args []string) error {
	dir := cfg.OutputPath
	if len(args) > 0 {
		dir = args[0]
	}
	c, err := storage.DiskSpace.Probe(dir)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(map[string]any{
		"dir":        dir,
		"available":  c.Available,
		"block_size": c.BlockSize,
	})
}

func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logging.Info("output store starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("backend", cfg.StorageBackend))

	backend, cat, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	opts := api.Options{}
	if cat != nil {
		defer cat.Close()
		opts.Catalog = cat
	}
	if backend.Kind() == storage.KindLocal {
		prefix, err := cfg.OutputPrefix()
		if err != nil {
			return err
		}
		opts.OutputDir = cfg.OutputPath
		opts.Prefix = prefix
	}
	srv := api.NewServer(backend, opts)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	// Publish free space of the local target periodically
	if opts.OutputDir != "" {
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if c, err := storage.DiskSpace.Probe(opts.OutputDir); err == nil {
						metrics.SetAvailableBytes(opts.OutputDir, c.Available)
					}
				}
			}
		}()
	}

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
