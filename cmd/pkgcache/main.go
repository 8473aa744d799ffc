// Command pkgcache builds and inspects cached package artifacts.
//
// Usage:
//
//	pkgcache [-config file] build -fingerprint FP -repo SPEC [-repo SPEC...]
//	pkgcache [-config file] fetch FP
//	pkgcache [-config file] error FP
//	pkgcache [-config file] status FP
//	pkgcache [-config file] invalidate FP
//
// SPEC is url[@commit][#src:dest,src:dest]. Without folders the whole
// checkout is packed at the archive root.
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmgilman/go/pkgcache"
	"github.com/jmgilman/go/pkgcache/config"
	"github.com/jmgilman/go/pkgcache/metrics"
	"github.com/jmgilman/go/pkgcache/repository"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitTempFail = 75 // EX_TEMPFAIL: another build holds the package
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries what every command needs.
type app struct {
	cfg      config.Config
	cache    *pkgcache.Cache
	logger   *pkgcache.Logger
	registry *prometheus.Registry
	stdout   io.Writer
	stderr   io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("pkgcache", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to a YAML config file")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: pkgcache [-config file] <build|fetch|error|status|invalidate> [args]")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitFailure
	}

	a, err := newApp(cfg, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing cache: %v\n", err)
		return exitFailure
	}

	code := a.dispatch(ctx, flags.Arg(0), flags.Args()[1:])

	if cfg.Metrics.Textfile != "" {
		if err := prometheus.WriteToTextfile(cfg.Metrics.Textfile, a.registry); err != nil {
			a.logger.Warn(ctx, "failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}
	return code
}

func newApp(cfg config.Config, stdout, stderr io.Writer) (*app, error) {
	logger := cfg.Logger(stderr)

	registry := prometheus.NewRegistry()
	sink := metrics.NewPrometheus(registry, cfg.Metrics.Namespace)

	repos, err := repository.New(cfg.CheckoutRoot, repository.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	cache, err := pkgcache.New(cfg.CacheRoot,
		pkgcache.WithRepositorySource(repos),
		pkgcache.WithLockTimeout(cfg.LockTimeout),
		pkgcache.WithMetrics(sink),
		pkgcache.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		cache:    cache,
		logger:   logger,
		registry: registry,
		stdout:   stdout,
		stderr:   stderr,
	}, nil
}

func (a *app) dispatch(ctx context.Context, command string, args []string) int {
	var err error
	switch command {
	case "build":
		err = a.build(ctx, args)
	case "fetch":
		err = a.fetch(ctx, args)
	case "error":
		err = a.showError(ctx, args)
	case "status":
		err = a.status(args)
	case "invalidate":
		err = a.invalidate(ctx, args)
	default:
		fmt.Fprintf(a.stderr, "unknown command %q\n", command)
		return exitUsage
	}
	return a.exitCode(err)
}

func (a *app) exitCode(err error) int {
	var failed *buildFailedError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		if err != errUsage {
			fmt.Fprintln(a.stderr, err)
		}
		return exitUsage
	case pkgcache.IsPackingInProgress(err):
		fmt.Fprintln(a.stderr, "package is being built by another process, retry later")
		return exitTempFail
	case errors.As(err, &failed):
		fmt.Fprintln(a.stderr, failed.record)
		return exitFailure
	default:
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitFailure
	}
}
