// Package builder runs the full packaging pipeline for one deployment:
// it narrows the uploaded tree to the entrypoint's project, builds it with
// the package manager, and turns the build output into handlers and static
// files keyed by their final deployment paths.
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxbase-eu/ssr-builder/internal/compose"
	"github.com/fluxbase-eu/ssr-builder/internal/config"
	"github.com/fluxbase-eu/ssr-builder/internal/discover"
	"github.com/fluxbase-eu/ssr-builder/internal/fileset"
	"github.com/fluxbase-eu/ssr-builder/internal/manifest"
	"github.com/fluxbase-eu/ssr-builder/internal/materialize"
	"github.com/fluxbase-eu/ssr-builder/internal/observability"
	"github.com/fluxbase-eu/ssr-builder/internal/packager"
	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
	"github.com/fluxbase-eu/ssr-builder/internal/runner"
)

// Pipeline stage names, used for spans, metrics and logs
const (
	StageResolve  = "resolve"
	StageDownload = "download"
	StageManifest = "manifest"
	StageInstall  = "install"
	StageDiscover = "discover"
	StagePackage  = "package"
	StageCompose  = "compose"
)

// ProductionFlag is appended to the install flags for the prune step
const ProductionFlag = "--production"

// Dependencies are the collaborators the pipeline delegates to
type Dependencies struct {
	Downloader materialize.Downloader
	Runner     runner.Runner
	Packager   packager.Packager
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// Options are per-build inputs
type Options struct {
	Entrypoint    string
	WorkPath      string // created under the system temp dir when empty
	RegistryToken string
}

// Plan is the outcome of the synchronous stages
type Plan struct {
	Entrypoint  string
	EntryDir    string
	BuildInput  *pathmap.Store // re-rooted, without the static directory
	Passthrough *pathmap.Store // re-rooted static directory files
}

// Result is the outcome of a successful build
type Result struct {
	Output   *pathmap.Store
	EntryDir string
	WorkPath string
	Routes   int

	ownsWorkPath bool
}

// Cleanup removes the work directory if the builder created it. Output
// entries from the static bundle point into it, so call this only after
// the output has been published.
func (r *Result) Cleanup() error {
	if !r.ownsWorkPath {
		return nil
	}
	return os.RemoveAll(r.WorkPath)
}

// Builder coordinates a single build
type Builder struct {
	cfg        config.BuildConfig
	resolver   *fileset.Resolver
	normalizer *manifest.Normalizer
	bootstrap  *pathmap.Store
	deps       Dependencies
}

// New creates a builder
func New(cfg config.BuildConfig, deps Dependencies) (*Builder, error) {
	if deps.Downloader == nil {
		deps.Downloader = materialize.NewFsDownloader()
	}
	if deps.Packager == nil {
		deps.Packager = packager.NewZipPackager()
	}
	bootstrap, err := packager.Bootstrap()
	if err != nil {
		return nil, err
	}

	normalizer := manifest.NewNormalizer()
	if cfg.BuildScript != "" {
		normalizer.BuildScript = cfg.BuildScript
	}
	if cfg.BuildCommand != "" {
		normalizer.BuildCommand = cfg.BuildCommand
	}

	if cfg.StaticDir == "" {
		cfg.StaticDir = fileset.DefaultStaticDirectory
	}
	if cfg.AssetPrefix == "" {
		cfg.AssetPrefix = compose.DefaultAssetPrefix
	}
	if cfg.RouteDir == "" {
		cfg.RouteDir = discover.DefaultRouteDir
	}
	if cfg.StaticBundleDir == "" {
		cfg.StaticBundleDir = discover.DefaultStaticBundleDir
	}

	return &Builder{
		cfg:        cfg,
		resolver:   fileset.NewResolver(cfg.Entrypoints...),
		normalizer: normalizer,
		bootstrap:  bootstrap,
		deps:       deps,
	}, nil
}

// Plan validates the entrypoint and partitions the uploaded tree. It touches
// no storage.
func (b *Builder) Plan(files *pathmap.Store, entrypoint string) (*Plan, error) {
	entry, dir, err := b.resolver.Resolve(files, entrypoint)
	if err != nil {
		return nil, err
	}

	included := fileset.IncludeOnlyEntryDirectory(files, dir)
	rooted, err := fileset.MoveEntryDirectoryToRoot(included, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fileset.ErrInvalidEntrypoint, err)
	}

	return &Plan{
		Entrypoint:  entry,
		EntryDir:    dir,
		BuildInput:  fileset.ExcludeStaticDirectory(rooted, b.cfg.StaticDir),
		Passthrough: fileset.OnlyStaticDirectory(rooted, b.cfg.StaticDir),
	}, nil
}

// Build runs every stage in order. Any failure aborts the build and no
// partial output is returned.
func (b *Builder) Build(ctx context.Context, files *pathmap.Store, opts Options) (result *Result, err error) {
	if b.deps.Runner == nil {
		return nil, errors.New("builder has no runner configured")
	}

	started := time.Now()
	ctx, span := b.deps.Tracer.StartBuildSpan(ctx, opts.Entrypoint)
	defer func() {
		observability.EndSpan(span, err)
		if b.deps.Metrics != nil {
			b.deps.Metrics.RecordBuild(err)
		}
	}()

	var plan *Plan
	err = b.stage(ctx, StageResolve, func(ctx context.Context) error {
		plan, err = b.Plan(files, opts.Entrypoint)
		return err
	})
	if err != nil {
		return nil, err
	}

	workPath, owns, err := prepareWorkPath(opts.WorkPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && owns {
			_ = os.RemoveAll(workPath)
		}
	}()

	log.Info().
		Str("entrypoint", plan.Entrypoint).
		Str("entry_dir", plan.EntryDir).
		Str("work_path", workPath).
		Int("files", plan.BuildInput.Len()).
		Str("trace_id", observability.ExtractTraceID(ctx)).
		Msg("Starting build")

	err = b.stage(ctx, StageDownload, func(ctx context.Context) error {
		_, err := b.deps.Downloader.Download(ctx, plan.BuildInput, workPath)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = b.stage(ctx, StageManifest, func(ctx context.Context) error {
		return b.prepareManifest(workPath)
	})
	if err != nil {
		return nil, err
	}

	err = b.stage(ctx, StageInstall, func(ctx context.Context) error {
		return runner.WithRegistryCredentials(workPath, opts.RegistryToken, func() error {
			return b.install(ctx, workPath)
		})
	})
	if err != nil {
		return nil, err
	}

	var found *discover.Result
	err = b.stage(ctx, StageDiscover, func(ctx context.Context) error {
		found, err = discover.Discover(ctx, workPath, discover.Layout{
			RouteDir:        b.cfg.RouteDir,
			StaticBundleDir: b.cfg.StaticBundleDir,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var handlers *pathmap.Store
	err = b.stage(ctx, StagePackage, func(ctx context.Context) error {
		observability.SetSpanAttributes(ctx, attribute.Int("builder.routes", len(found.Routes)))
		hp := packager.NewHandlerPackager(b.deps.Packager, b.bootstrap,
			packager.WithMaxSize(b.cfg.MaxPackageSize),
			packager.WithConcurrency(b.cfg.Concurrency),
			packager.WithInvocation(b.cfg.Handler, b.cfg.Runtime),
		)
		handlers, err = hp.PackageAll(ctx, plan.EntryDir, found.Routes)
		return err
	})
	if err != nil {
		return nil, err
	}

	var output *pathmap.Store
	err = b.stage(ctx, StageCompose, func(ctx context.Context) error {
		output, err = compose.Compose(compose.Input{
			EntryDir:    plan.EntryDir,
			AssetPrefix: b.cfg.AssetPrefix,
			Handlers:    handlers,
			Bundle:      found.StaticBundle,
			Passthrough: plan.Passthrough,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	b.recordOutput(handlers, found.StaticBundle, plan.Passthrough)

	log.Info().
		Int("handlers", handlers.Len()).
		Int("files", output.Len()).
		Dur("duration", time.Since(started)).
		Msg("Build complete")

	return &Result{
		Output:       output,
		EntryDir:     plan.EntryDir,
		WorkPath:     workPath,
		Routes:       len(found.Routes),
		ownsWorkPath: owns,
	}, nil
}

func (b *Builder) prepareManifest(workPath string) error {
	m, err := manifest.ReadFile(filepath.Join(workPath, manifest.FileName))
	if err != nil {
		return err
	}
	if m == nil {
		log.Debug().Msg("No manifest found, synthesizing one")
	}
	return manifest.WriteFile(workPath, b.normalizer.Normalize(m))
}

// install runs install, the build script and the production prune
func (b *Builder) install(ctx context.Context, workPath string) error {
	if err := b.deps.Runner.RunInstall(ctx, workPath, b.cfg.InstallFlags...); err != nil {
		return err
	}
	if err := b.deps.Runner.RunScript(ctx, workPath, b.normalizer.BuildScript); err != nil {
		return err
	}

	pruneFlags := append(append([]string(nil), b.cfg.InstallFlags...), ProductionFlag)
	return b.deps.Runner.RunInstall(ctx, workPath, pruneFlags...)
}

func (b *Builder) recordOutput(handlers, bundle, passthrough *pathmap.Store) {
	m := b.deps.Metrics
	if m == nil {
		return
	}
	handlers.Range(func(_ string, ref pathmap.FileRef) bool {
		m.RecordHandler(ref.Size())
		return true
	})
	m.RecordStaticFiles(string(compose.SourceBundle), bundle.Len())
	m.RecordStaticFiles(string(compose.SourcePassthrough), passthrough.Len())
}

// stage runs fn inside a span and records its duration
func (b *Builder) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := b.deps.Tracer.StartStageSpan(ctx, name)
	start := time.Now()

	err := fn(ctx)

	elapsed := time.Since(start)
	observability.EndSpan(span, err)
	if b.deps.Metrics != nil {
		b.deps.Metrics.ObserveStage(name, elapsed)
	}

	if err != nil {
		log.Error().Err(err).Str("stage", name).Msg("Build stage failed")
		return fmt.Errorf("%s: %w", name, err)
	}

	log.Debug().Str("stage", name).Dur("duration", elapsed).Msg("Build stage finished")
	return nil
}

func prepareWorkPath(workPath string) (string, bool, error) {
	if workPath != "" {
		if err := os.MkdirAll(workPath, 0755); err != nil {
			return "", false, fmt.Errorf("failed to create work path: %w", err)
		}
		return workPath, false, nil
	}

	dir := filepath.Join(os.TempDir(), "ssr-builder-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", false, fmt.Errorf("failed to create work path: %w", err)
	}
	return dir, true, nil
}
