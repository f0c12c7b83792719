// Package fetch retrieves competitor controllers into the controllers directory.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/okian/benchrec/internal/domain/model"
	"github.com/okian/benchrec/pkg/logger"
	"github.com/okian/benchrec/pkg/metrics"
)

const (
	svnUsername        = "Benchmark_Evaluator"
	competitorDirGlob  = "competitor*"
	defaultURLTemplate = "https://github.com/{owner}/{repo}/trunk/controllers/{controller}"
)

// ErrFetch wraps every fetch failure. It is local to one competitor.
var ErrFetch = errors.New("controller fetch failed")

// Fetcher places a competitor's controller at its ControllerPath.
type Fetcher interface {
	Fetch(ctx context.Context, c model.Competitor) error
	Cleanup(ctx context.Context) error
}

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Option applies a configuration option to the SVNFetcher.
type Option func(*SVNFetcher)

// WithFs sets the filesystem controllers are renamed and cleaned on.
func WithFs(fsys afero.Fs) Option {
	return func(f *SVNFetcher) {
		if fsys != nil {
			f.fs = fsys
		}
	}
}

// WithRunner replaces the command runner.
func WithRunner(r CommandRunner) Option {
	return func(f *SVNFetcher) {
		if r != nil {
			f.run = r
		}
	}
}

// WithURLTemplate sets the export URL; {owner}, {repo} and {controller} are substituted.
func WithURLTemplate(tmpl string) Option {
	return func(f *SVNFetcher) {
		if tmpl != "" {
			f.urlTemplate = tmpl
		}
	}
}

// SVNFetcher exports the default controller directory of a competitor's
// repository with Subversion and renames its files after the competitor.
type SVNFetcher struct {
	fs                afero.Fs
	run               CommandRunner
	controllersDir    string
	defaultController string
	token             string
	urlTemplate       string
	logger            logger.Logger
}

var _ Fetcher = (*SVNFetcher)(nil)

// NewSVNFetcher creates a fetcher.
func NewSVNFetcher(controllersDir, defaultController, token string, opts ...Option) *SVNFetcher {
	f := &SVNFetcher{
		fs:                afero.NewOsFs(),
		run:               execRunner,
		controllersDir:    controllersDir,
		defaultController: defaultController,
		token:             token,
		urlTemplate:       defaultURLTemplate,
		logger:            logger.Get().Named("fetch"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// URL returns the export URL of a competitor's controller.
func (f *SVNFetcher) URL(c model.Competitor) string {
	return strings.NewReplacer(
		"{owner}", c.Owner,
		"{repo}", c.Repository,
		"{controller}", f.defaultController,
	).Replace(f.urlTemplate)
}

// Fetch exports the controller and renames <default>.<ext> files to <ControllerName>.<ext>.
func (f *SVNFetcher) Fetch(ctx context.Context, c model.Competitor) error {
	dest := c.ControllerPath
	out, err := f.run(ctx, "svn", "export", f.URL(c), dest,
		"--username", svnUsername, "--password", f.token,
		"--quiet", "--non-interactive", "--force")
	if err != nil {
		metrics.RecordErrorByComponent("fetch", "export")
		return fmt.Errorf("%w: %s: %w: %s", ErrFetch, c.RepositoryRef(), err, f.redact(out))
	}

	entries, err := afero.ReadDir(f.fs, dest)
	if err != nil {
		return fmt.Errorf("%w: list %s: %w", ErrFetch, dest, err)
	}
	renamed := 0
	for _, e := range entries {
		ext := path.Ext(e.Name())
		if strings.TrimSuffix(e.Name(), ext) != f.defaultController {
			continue
		}
		from := path.Join(dest, e.Name())
		to := path.Join(dest, c.ControllerName+ext)
		if err := f.fs.Rename(from, to); err != nil {
			return fmt.Errorf("%w: rename %s: %w", ErrFetch, from, err)
		}
		renamed++
	}

	f.logger.Info(ctx, "controller fetched",
		logger.String("competitor", c.ID),
		logger.String("repository", c.RepositoryRef()),
		logger.Int("renamed", renamed),
	)
	return nil
}

// Cleanup removes every fetched competitor directory.
func (f *SVNFetcher) Cleanup(ctx context.Context) error {
	matches, err := afero.Glob(f.fs, path.Join(f.controllersDir, competitorDirGlob))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	var errs []error
	for _, m := range matches {
		if err := f.fs.RemoveAll(m); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: cleanup: %w", ErrFetch, errors.Join(errs...))
	}
	f.logger.Debug(ctx, "competitor controllers removed", logger.Int("count", len(matches)))
	return nil
}

// redact keeps the token out of error messages.
func (f *SVNFetcher) redact(out []byte) string {
	s := string(bytes.TrimSpace(out))
	if f.token != "" {
		s = strings.ReplaceAll(s, f.token, "***")
	}
	return s
}
