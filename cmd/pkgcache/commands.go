package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/jmgilman/go/pkgcache"
)

// buildFailedError reports a build whose failure was recorded in the slot.
type buildFailedError struct {
	record string
}

func (e *buildFailedError) Error() string {
	return "package build failed: " + e.record
}

// repoFlags collects repeated -repo values.
type repoFlags []pkgcache.RepositoryRequest

func (r *repoFlags) String() string {
	specs := make([]string, 0, len(*r))
	for _, req := range *r {
		specs = append(specs, req.String())
	}
	return strings.Join(specs, " ")
}

func (r *repoFlags) Set(value string) error {
	req, err := parseRepoSpec(value)
	if err != nil {
		return err
	}
	*r = append(*r, req)
	return nil
}

func (a *app) build(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("build", flag.ContinueOnError)
	flags.SetOutput(a.stderr)
	fingerprint := flags.String("fingerprint", "", "package fingerprint")
	var repos repoFlags
	flags.Var(&repos, "repo", "repository as url[@commit][#src:dest,...] (repeatable)")
	if err := flags.Parse(args); err != nil {
		// flag has already printed the problem and usage.
		return errUsage
	}
	if *fingerprint == "" || len(repos) == 0 {
		fmt.Fprintln(a.stderr, "build requires -fingerprint and at least one -repo")
		return errUsage
	}

	req := &pkgcache.PackageRequest{
		ID:           pkgcache.Fingerprint(*fingerprint),
		Repositories: repos,
	}
	if err := a.cache.CachePackage(ctx, req); err != nil {
		return err
	}

	if path, ok := a.cache.Fetch(ctx, req); ok {
		fmt.Fprintln(a.stdout, path)
		return nil
	}
	record, ok := a.cache.ReadError(ctx, req)
	if !ok {
		record = "no error recorded"
	}
	return &buildFailedError{record: strings.TrimSpace(record)}
}

func (a *app) fetch(ctx context.Context, args []string) error {
	fp, err := fingerprintArg("fetch", args)
	if err != nil {
		return err
	}
	path, ok := a.cache.Fetch(ctx, fp)
	if !ok {
		return fmt.Errorf("package %s is %s", fp, a.cache.Status(fp))
	}
	fmt.Fprintln(a.stdout, path)
	return nil
}

func (a *app) showError(ctx context.Context, args []string) error {
	fp, err := fingerprintArg("error", args)
	if err != nil {
		return err
	}
	record, ok := a.cache.ReadError(ctx, fp)
	if !ok {
		return fmt.Errorf("no error recorded for %s", fp)
	}
	fmt.Fprint(a.stdout, record)
	return nil
}

func (a *app) status(args []string) error {
	fp, err := fingerprintArg("status", args)
	if err != nil {
		return err
	}
	if err := pkgcache.ValidateFingerprint(fp); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, a.cache.Status(fp))
	return nil
}

func (a *app) invalidate(ctx context.Context, args []string) error {
	fp, err := fingerprintArg("invalidate", args)
	if err != nil {
		return err
	}
	return a.cache.Invalidate(ctx, fp)
}

func fingerprintArg(command string, args []string) (pkgcache.Fingerprint, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s takes exactly one fingerprint: %w", command, errUsage)
	}
	return pkgcache.Fingerprint(args[0]), nil
}
