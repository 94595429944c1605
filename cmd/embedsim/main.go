// Package main is the embedsim CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/embedsim/internal/cli"
	"github.com/hyperjump/embedsim/internal/config"
	"github.com/hyperjump/embedsim/internal/pipeline"
	"github.com/hyperjump/embedsim/internal/server"
	"github.com/hyperjump/embedsim/internal/storage"
	"github.com/hyperjump/embedsim/internal/watcher"
	"github.com/hyperjump/embedsim/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "config.yaml"

// loadConfig loads config from path. A missing file at the default path is not an error:
// the built-in defaults are used instead. Returns the config and the path actually loaded
// ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch command := os.Args[1]; command {
	case "analyze":
		code = runAnalyze(ctx, os.Args[2:], os.Stdout)
	case "inspect":
		code = runInspect(ctx, os.Args[2:], os.Stdout)
	case "watch":
		code = runWatch(ctx, os.Args[2:], os.Stdout)
	case "serve":
		code = runServe(ctx, os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("embedsim version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		code = 1
	}
	stop()
	os.Exit(code)
}

// runFlags are the flags shared by every subcommand that runs or reads an analysis.
type runFlags struct {
	configPath string
	input      string
	output     string
	sampleSize int
	seed       string
	workers    int
	bins       int
	mode       string
	singlePass bool
	debug      bool
	format     string
}

func newFlagSet(name string, f *runFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", defaultConfigPath, "config file path")
	fs.StringVar(&f.input, "input", "", "association JSON document (overrides input.path)")
	fs.StringVar(&f.output, "output", "", "output directory (overrides output.directory)")
	fs.IntVar(&f.sampleSize, "k", 0, "number of tracks to sample (overrides sampling.sample_size)")
	fs.StringVar(&f.seed, "seed", "", "sampling seed (overrides sampling.seed; default random)")
	fs.IntVar(&f.workers, "workers", 0, "similarity workers (overrides similarity.workers)")
	fs.IntVar(&f.bins, "bins", 0, "histogram bins (overrides histogram.bins)")
	fs.StringVar(&f.mode, "mode", "", "stream open mode: create or append (overrides output.mode)")
	fs.BoolVar(&f.singlePass, "single-pass", false, "load all tracks in one pass instead of two")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
	fs.StringVar(&f.format, "format", string(cli.OutputText), "output format: text or json")
	return fs
}

// applyFlags overrides cfg with every flag that was set explicitly on fs.
func applyFlags(cfg *config.Config, fs *flag.FlagSet, f *runFlags) error {
	var err error
	fs.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		switch fl.Name {
		case "input":
			cfg.Input.Path = absPath(f.input)
		case "output":
			cfg.Output.Directory = absPath(f.output)
		case "k":
			k := f.sampleSize
			cfg.Sampling.SampleSize = &k
		case "seed":
			seed, perr := strconv.ParseUint(f.seed, 10, 64)
			if perr != nil {
				err = fmt.Errorf("invalid -seed %q: %w", f.seed, perr)
				return
			}
			cfg.Sampling.Seed = &seed
		case "workers":
			cfg.Similarity.Workers = f.workers
		case "bins":
			cfg.Histogram.Bins = f.bins
		case "mode":
			cfg.Output.Mode = f.mode
		case "single-pass":
			twoPass := !f.singlePass
			cfg.Input.TwoPass = &twoPass
		case "debug":
			cfg.Debug = f.debug
		}
	})
	if err != nil {
		return err
	}
	config.ApplyDefaults(cfg)
	return cfg.Validate()
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func parseFormat(s string) (cli.OutputFormat, error) {
	switch f := cli.OutputFormat(strings.ToLower(s)); f {
	case cli.OutputText, cli.OutputJSON:
		return f, nil
	}
	return "", fmt.Errorf("invalid -format %q (want text or json)", s)
}

// setup parses args, loads the config and builds the logger.
func setup(name string, args []string, extra func(*flag.FlagSet)) (*config.Config, *zap.Logger, cli.OutputFormat, error) {
	f := &runFlags{}
	fs := newFlagSet(name, f)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, "", err
	}
	format, err := parseFormat(f.format)
	if err != nil {
		return nil, nil, "", err
	}
	cfg, loaded, err := loadConfig(f.configPath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyFlags(cfg, fs, f); err != nil {
		return nil, nil, "", err
	}
	var logger *zap.Logger
	if cfg.Debug {
		logger, err = utils.NewLogger(true)
	} else {
		logger, err = utils.NewLoggerWithLevel(cfg.LogLevel)
	}
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", loaded), zap.Bool("debug", cfg.Debug))
	return cfg, logger, format, nil
}

func runAnalyze(ctx context.Context, args []string, stdout io.Writer) int {
	cfg, logger, format, err := setup("analyze", args, nil)
	if err != nil {
		return usageError(err)
	}
	defer logger.Sync()

	summary, err := pipeline.NewRunner(cfg, pipeline.WithLogger(logger)).Analyze(ctx)
	if summary != nil {
		if werr := cli.WriteSummary(stdout, summary, format); werr != nil {
			logger.Error("write summary failed", zap.Error(werr))
		}
	}
	if err != nil {
		logger.Error("analysis failed", zap.Error(err))
		return 1
	}
	return 0
}

func runInspect(ctx context.Context, args []string, stdout io.Writer) int {
	var pair string
	cfg, logger, format, err := setup("inspect", args, func(fs *flag.FlagSet) {
		fs.StringVar(&pair, "pair", "", "print one sample: two track keys separated by a comma")
	})
	if err != nil {
		return usageError(err)
	}
	defer logger.Sync()
	r := pipeline.NewRunner(cfg, pipeline.WithLogger(logger))

	if pair != "" {
		a, b, ok := parsePair(pair)
		if !ok {
			fmt.Fprintf(os.Stderr, "invalid -pair %q (want trackA,trackB)\n", pair)
			return 2
		}
		ref, values, err := r.Pair(ctx, a, b)
		if err != nil {
			logger.Error("pair lookup failed", zap.Error(err))
			return 1
		}
		if err := cli.WritePair(stdout, ref, values, format); err != nil {
			logger.Error("write pair failed", zap.Error(err))
			return 1
		}
		return 0
	}

	ins, err := r.Inspect(ctx)
	if err != nil {
		logger.Error("inspection failed", zap.Error(err))
		return 1
	}
	if err := cli.WriteInspection(stdout, ins, format); err != nil {
		logger.Error("write inspection failed", zap.Error(err))
		return 1
	}
	if ins.Recorded != nil && !ins.Consistent {
		return 1
	}
	return 0
}

// usageError reports a setup failure. Asking for -h is not a failure.
func usageError(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	fmt.Fprintln(os.Stderr, err)
	return 2
}

func parsePair(s string) (string, string, bool) {
	a, b, ok := strings.Cut(s, ",")
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// runWatch analyzes once, then again every time the input document changes, until interrupted.
func runWatch(ctx context.Context, args []string, stdout io.Writer) int {
	cfg, logger, format, err := setup("watch", args, nil)
	if err != nil {
		return usageError(err)
	}
	defer logger.Sync()

	analyze := func(ctx context.Context, path string) {
		logger.Info("input changed, analyzing", zap.String("path", path))
		summary, err := pipeline.NewRunner(cfg, pipeline.WithLogger(logger)).Analyze(ctx)
		if summary != nil {
			_ = cli.WriteSummary(stdout, summary, format)
		}
		if err != nil {
			logger.Error("analysis failed", zap.Error(err))
		}
	}
	w := watcher.NewWatcher(cfg.Input.Path, analyze,
		watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMS)*time.Millisecond),
		watcher.WithLogger(logger),
	)
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start watcher", zap.String("path", cfg.Input.Path), zap.Error(err))
		return 1
	}
	logger.Info("watching input", zap.String("path", w.Path()))
	w.Trigger()

	<-ctx.Done()
	logger.Info("Shutting down...")
	w.Stop()
	w.Wait()
	return 0
}

// runServe serves the catalog and histograms of the configured output directory until interrupted.
func runServe(ctx context.Context, args []string) int {
	var host string
	var port int
	cfg, logger, _, err := setup("serve", args, func(fs *flag.FlagSet) {
		fs.StringVar(&host, "host", "", "listen host (overrides server.host)")
		fs.IntVar(&port, "port", 0, "listen port (overrides server.port)")
	})
	if err != nil {
		return usageError(err)
	}
	defer logger.Sync()
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	path := cfg.Output.Path(cfg.Output.Catalog)
	if path == "" {
		logger.Error("catalog is disabled; nothing to serve")
		return 1
	}
	cat, err := storage.NewSQLiteCatalog(path)
	if err != nil {
		logger.Error("failed to open catalog", zap.String("path", path), zap.Error(err))
		return 1
	}
	defer cat.Close()

	srv := server.NewServer(cat, cfg, logger)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return 1
		}
		return 0
	case <-ctx.Done():
	}
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown failed", zap.Error(err))
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `embedsim - Embedding similarity analysis for tracked objects

Usage:
  embedsim analyze [flags]        Sample tracks, compute similarities, write streams and histograms
  embedsim inspect [flags]        Re-read the streams and check them against the recorded histograms
  embedsim watch [flags]          Analyze, then re-analyze whenever the input document changes
  embedsim serve [flags]          Serve recorded runs, samples and histograms over HTTP (read-only)
  embedsim version                Show version
  embedsim help                   Show this help

Flags (all subcommands):
  --config string    Config file path (default: ./config.yaml, built-in defaults when absent)
  --input string     Association JSON document
  --output string    Output directory
  --k int            Number of tracks to sample
  --seed uint        Sampling seed (random when unset; the seed used is reported)
  --workers int      Similarity workers (results are identical for any value)
  --bins int         Histogram bins over [0, 1]
  --mode string      Stream open mode: create or append
  --single-pass      Keep every track's vectors while reading instead of reading twice
  --debug            Enable debug logging
  --format string    Output format: text or json (default: text)

Inspect Flags:
  --pair string      Print the sample for two track keys, e.g. MOT17-02_track1,MOT17-02_track4

Serve Flags:
  --host string      Listen host (default: 127.0.0.1)
  --port int         Listen port (default: 8080)

Examples:
  embedsim analyze --input demos/association.json --k 50 --seed 42
  embedsim analyze --format json > summary.json
  embedsim inspect
  embedsim inspect --pair MOT17-02_track1,MOT17-04_track7
  embedsim watch --config config.yaml
  embedsim serve --port 9090`)
}
