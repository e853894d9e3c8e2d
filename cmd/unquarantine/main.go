package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"unquarantine/internal/compression"
	"unquarantine/internal/config"
	"unquarantine/internal/healthz"
	"unquarantine/internal/logx"
	"unquarantine/internal/metrics"
	"unquarantine/internal/report"
	"unquarantine/internal/scanner"
	"unquarantine/internal/sink"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func handleSignals(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
}

// overrides holds the flags given on the command line. They win over the
// config file, including after a reload.
type overrides struct {
	set       map[string]bool
	outDir    string
	compress  string
	level     string
	meta      bool
	format    string
	workers   int
	watch     bool
	overwrite bool
	recursive bool
	metrics   string
	paths     []string
}

func (o *overrides) apply(cfg *config.Config) {
	if o.set["out"] {
		cfg.Output.Dir = o.outDir
	}
	if o.set["compress"] {
		cfg.Output.Compress = o.compress
	}
	if o.set["compress-level"] {
		cfg.Output.CompressLevel = o.level
	}
	if o.set["meta"] {
		cfg.Output.KeepMeta = o.meta
	}
	if o.set["format"] {
		cfg.Report.Format = o.format
	}
	if o.set["workers"] {
		cfg.Scan.Workers = o.workers
	}
	if o.set["watch"] {
		cfg.Watch.Enabled = o.watch
	}
	if o.set["overwrite"] {
		cfg.Output.Overwrite = o.overwrite
	}
	if o.set["recursive"] {
		cfg.Input.Recursive = o.recursive
	}
	if o.set["metrics"] {
		cfg.Metrics.Listen = o.metrics
	}
	if len(o.paths) > 0 {
		cfg.Input.Paths = o.paths
	}
	cfg.ApplyDefaults()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("unquarantine", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: unquarantine [flags] [path ...]\n\nDecodes Windows Defender quarantine containers.\n\n")
		fs.PrintDefaults()
	}

	var o overrides
	configPath := fs.String("config", "", "Path to config file")
	fs.StringVar(&o.outDir, "out", ".", "Directory for recovered payloads")
	fs.StringVar(&o.compress, "compress", "none", "Artifact compression: none, lz4 or zlib")
	fs.StringVar(&o.level, "compress-level", "default", "Compression level: fastest, fast, default, slow or slowest")
	fs.BoolVar(&o.meta, "meta", false, "Also write the whole decrypted buffer")
	fs.StringVar(&o.format, "format", "json", "Report format: json or yaml")
	fs.IntVar(&o.workers, "workers", config.DefaultWorkers, "Files decoded in parallel")
	fs.BoolVar(&o.watch, "watch", false, "Keep running and decode files as they appear")
	fs.BoolVar(&o.overwrite, "overwrite", false, "Replace existing artifacts")
	fs.BoolVar(&o.recursive, "recursive", false, "Descend into subdirectories")
	fs.StringVar(&o.metrics, "metrics", "", "Serve metrics on this address")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	o.paths = fs.Args()

	var (
		cfg      *config.Config
		reloader *config.ReloadableConfig
	)
	if *configPath != "" {
		var err error
		reloader, err = config.NewReloadable(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "config load failed: %v\n", err)
			return exitError
		}
		defer reloader.Close()
		cfg = effective(reloader.Get(), &o)
	} else {
		cfg = effective(config.Default(), &o)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return exitUsage
	}
	if len(cfg.Input.Paths) == 0 {
		fs.Usage()
		return exitUsage
	}

	logger := logx.New(stderr, logx.ParseLevel(cfg.Logging.Level))

	health := healthz.New()
	health.Register(healthz.DirWritable("output_dir", cfg.Output.Dir))
	for i, p := range cfg.Input.Paths {
		health.Register(healthz.DirReadable(fmt.Sprintf("input_%d", i), p))
	}
	if srv := metrics.Start(cfg.Metrics.Listen, cfg.Metrics.AuthToken, health.HTTPHandler()); srv != nil {
		defer srv.Close()
		logger.Infof("metrics listening on %s", cfg.Metrics.Listen)
	}

	if !cfg.Watch.Enabled {
		return scanOnce(ctx, cfg, logger, stdout)
	}
	return watch(ctx, cfg, reloader, &o, logger, stdout)
}

// effective copies base so overrides never leak into the reloader's config.
func effective(base *config.Config, o *overrides) *config.Config {
	cfg := *base
	cfg.Input.Paths = append([]string(nil), base.Input.Paths...)
	o.apply(&cfg)
	return &cfg
}

func newScanner(cfg *config.Config, logger *logx.Logger) (*scanner.Scanner, error) {
	level, err := compression.ParseLevel(cfg.Output.CompressLevel)
	if err != nil {
		return nil, err
	}
	codec, err := compression.New(cfg.Output.Compress, level)
	if err != nil {
		return nil, err
	}
	s, err := sink.NewDir(sink.Options{
		Dir:       cfg.Output.Dir,
		Codec:     codec,
		KeepMeta:  cfg.Output.KeepMeta,
		Overwrite: cfg.Output.Overwrite,
	})
	if err != nil {
		return nil, err
	}
	return scanner.New(scanner.Options{
		MaxSize:   cfg.Input.MaxSize,
		Recursive: cfg.Input.Recursive,
		Workers:   cfg.Scan.Workers,
	}, s, logger), nil
}

// scanOnce decodes every input and writes one report for the batch. Files
// that are not containers are not failures.
func scanOnce(ctx context.Context, cfg *config.Config, logger *logx.Logger, stdout io.Writer) int {
	sc, err := newScanner(cfg, logger)
	if err != nil {
		logger.Errorf("%v", err)
		return exitError
	}

	reports, scanErr := sc.ScanPaths(ctx, cfg.Input.Paths)
	if err := report.Encode(stdout, cfg.Report.Format, reports); err != nil {
		logger.Errorf("write report: %v", err)
		return exitError
	}
	if scanErr != nil {
		logger.Errorf("scan finished with errors: %v", scanErr)
		return exitError
	}
	return exitOK
}

// watch runs the scanner until ctx is done, restarting it on config reload.
func watch(ctx context.Context, cfg *config.Config, reloader *config.ReloadableConfig, o *overrides, logger *logx.Logger, stdout io.Writer) int {
	stream, err := report.NewStream(stdout, cfg.Report.Format)
	if err != nil {
		logger.Errorf("%v", err)
		return exitError
	}
	defer stream.Close()

	restartCh := make(chan *config.Config, 1)
	if reloader != nil {
		reloader.Watch(func(old, next *config.Config) {
			eff := effective(next, o)
			if err := eff.Validate(); err != nil {
				logger.Warnf("ignoring config reload: %v", err)
				return
			}
			// Drop a stale pending config in favour of the newest one.
			select {
			case <-restartCh:
			default:
			}
			select {
			case restartCh <- eff:
			default:
			}
		})
	}

	runCtx, runCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go runWatch(runCtx, cfg, logger, stream, false, errCh)

	for {
		select {
		case <-ctx.Done():
			runCancel()
			<-errCh
			return exitOK
		case next := <-restartCh:
			logger.SetLevel(logx.ParseLevel(next.Logging.Level))
			logger.Infof("config reloaded: restarting watcher")
			runCancel()
			<-errCh
			cfg = next
			runCtx, runCancel = context.WithCancel(ctx)
			errCh = make(chan error, 1)
			go runWatch(runCtx, cfg, logger, stream, true, errCh)
		case err := <-errCh:
			runCancel()
			if ctx.Err() != nil {
				return exitOK
			}
			logger.Errorf("watch failed: %v", err)
			return exitError
		}
	}
}

// runWatch decodes what is already in the watched directories and then
// follows new files. After a restart the catch-up scan mostly meets inputs
// whose artifacts exist already; those are not reported again.
func runWatch(ctx context.Context, cfg *config.Config, logger *logx.Logger, stream *report.Stream, restarted bool, errCh chan<- error) {
	sc, err := newScanner(cfg, logger)
	if err != nil {
		errCh <- err
		return
	}
	emit := func(r *report.Report, _ error) {
		if r == nil {
			return
		}
		if err := stream.Write(r); err != nil {
			logger.Errorf("write report: %v", err)
		}
	}
	existing := func(r *report.Report, err error) {
		switch {
		case ctx.Err() != nil && errors.Is(err, context.Canceled):
			return
		case restarted && errors.Is(err, sink.ErrExists):
			logger.Debugf("catch-up: %s already decoded", r.Path)
			return
		}
		emit(r, err)
	}

	errCh <- sc.WatchExisting(ctx, cfg.Input.Paths, cfg.DebounceDuration(), existing, emit)
}
