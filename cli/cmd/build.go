package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/ssr-builder/cli/output"
	"github.com/fluxbase-eu/ssr-builder/internal/builder"
	"github.com/fluxbase-eu/ssr-builder/internal/config"
	"github.com/fluxbase-eu/ssr-builder/internal/materialize"
	"github.com/fluxbase-eu/ssr-builder/internal/observability"
	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
	"github.com/fluxbase-eu/ssr-builder/internal/publish"
	"github.com/fluxbase-eu/ssr-builder/internal/runner"
	"github.com/fluxbase-eu/ssr-builder/internal/storage"
)

var (
	sourceDir     string
	sourceBucket  string
	sourcePrefix  string
	entrypoint    string
	workPath      string
	outDir        string
	publishOutput bool
	publishPrefix string
	keepWorkPath  bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a project and package it into handlers and static files",
	Long: `Build installs the project's dependencies, runs its build script and packages
every compiled page into its own handler. Static files are passed through.

Examples:
  ssr-builder build --source ./site --entrypoint package.json --out ./dist
  ssr-builder build --source-bucket uploads --source-prefix site/ --entrypoint www/package.json --publish`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&sourceDir, "source", "", "Local project directory")
	buildCmd.Flags().StringVar(&sourceBucket, "source-bucket", "", "Read the project from this storage bucket")
	buildCmd.Flags().StringVar(&sourcePrefix, "source-prefix", "", "Key prefix of the project inside the source bucket")
	buildCmd.Flags().StringVar(&entrypoint, "entrypoint", "", "Path of the project manifest, relative to the source")
	buildCmd.Flags().StringVar(&workPath, "work-path", "", "Build directory (default is a fresh temp directory)")
	buildCmd.Flags().BoolVar(&keepWorkPath, "keep-work-path", false, "Do not remove a generated build directory")
	buildCmd.Flags().StringVar(&outDir, "out", "", "Write the output to this directory")
	buildCmd.Flags().BoolVar(&publishOutput, "publish", false, "Upload the output to the configured output bucket")
	buildCmd.Flags().StringVar(&publishPrefix, "publish-prefix", "", "Key prefix for published objects (default is a new deployment ID)")
	buildCmd.Flags().Int64("max-package-size", 0, "Maximum handler size in bytes")
	buildCmd.Flags().Int("concurrency", 0, "Number of handlers packaged in parallel")

	_ = buildCmd.MarkFlagRequired("entrypoint")
	buildCmd.MarkFlagsMutuallyExclusive("source", "source-bucket")

	_ = viper.BindPFlag("build.max_package_size", buildCmd.Flags().Lookup("max-package-size"))
	_ = viper.BindPFlag("build.concurrency", buildCmd.Flags().Lookup("concurrency"))
}

func runBuild(cmd *cobra.Command, args []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx = observability.ContextFromEnvironment(ctx)
	tracer, err := observability.NewTracer(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	metrics := observability.NewMetrics()
	if cfg.Metrics.Textfile != "" {
		defer func() {
			if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				log.Warn().Err(err).Msg("Failed to write metrics")
			}
		}()
	}

	files, err := loadSource(ctx, cfg)
	if err != nil {
		return err
	}

	npm, err := runner.NewNpmRunner(cfg.Build.NpmPath)
	if err != nil {
		return err
	}

	b, err := builder.New(cfg.Build, builder.Dependencies{
		Runner:  npm,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return err
	}

	result, err := b.Build(ctx, files, builder.Options{
		Entrypoint:    entrypoint,
		WorkPath:      workPath,
		RegistryToken: registryToken(cfg),
	})
	if err != nil {
		return err
	}
	if keepWorkPath {
		formatter.PrintWarning(fmt.Sprintf("build directory %s was kept and must be removed manually", result.WorkPath))
	} else {
		defer func() {
			if err := result.Cleanup(); err != nil {
				log.Warn().Err(err).Str("dir", result.WorkPath).Msg("Failed to remove build directory")
			}
		}()
	}

	if outDir != "" {
		if _, err := publish.WriteDir(ctx, result.Output, outDir); err != nil {
			return err
		}
	}

	if publishOutput {
		if err := publishResult(ctx, cfg, result.Output); err != nil {
			return err
		}
	}

	entries := publish.Describe(result.Output)
	if err := formatter.Render(entriesTable(entries), entries); err != nil {
		return err
	}
	formatter.PrintSuccess(fmt.Sprintf("Built %d handlers and %d static files",
		result.Routes, len(entries)-result.Routes))
	return nil
}

// loadSource reads the uploaded project from a directory or a bucket
func loadSource(ctx context.Context, cfg *config.Config) (*pathmap.Store, error) {
	bucket := sourceBucket
	if sourceDir == "" && bucket == "" {
		bucket = cfg.Storage.SourceBucket
	}

	switch {
	case sourceDir != "":
		return pathmap.FromDir(ctx, sourceDir)
	case bucket != "":
		provider, err := storage.NewProvider(&cfg.Storage)
		if err != nil {
			return nil, err
		}
		return materialize.StoreFromBucket(ctx, provider, bucket, sourcePrefix)
	default:
		return nil, errors.New("either --source or --source-bucket is required")
	}
}

func publishResult(ctx context.Context, cfg *config.Config, out *pathmap.Store) error {
	if cfg.Storage.OutputBucket == "" {
		return errors.New("--publish requires storage.output_bucket to be configured")
	}

	provider, err := storage.NewProvider(&cfg.Storage)
	if err != nil {
		return err
	}

	prefix := publishPrefix
	if prefix == "" {
		prefix = uuid.NewString()
	}

	if err := provider.Health(ctx); err != nil {
		return err
	}

	publisher := publish.NewPublisher(provider, cfg.Storage.OutputBucket, prefix, cfg.Build.Concurrency)
	report, err := publisher.Publish(ctx, out)
	if err != nil {
		return err
	}

	formatter.PrintSuccess(fmt.Sprintf("Published to %s/%s (%d uploaded, %d unchanged, %d removed)",
		cfg.Storage.OutputBucket, prefix, report.Uploaded, report.Skipped, len(report.Removed)))
	return nil
}

func entriesTable(entries []publish.Entry) *output.Table {
	table := output.NewTable("PATH", "KIND", "SIZE")
	var total int64
	for _, e := range entries {
		table.Append(e.Path, e.Kind, output.FormatBytes(e.Size))
		total += e.Size
	}
	table.Footer = []string{fmt.Sprintf("%d files", len(entries)), "", output.FormatBytes(total)}
	return table
}
