package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fluxbase-eu/ssr-builder/internal/config"
	"github.com/fluxbase-eu/ssr-builder/internal/discover"
	"github.com/fluxbase-eu/ssr-builder/internal/fileset"
	"github.com/fluxbase-eu/ssr-builder/internal/manifest"
	"github.com/fluxbase-eu/ssr-builder/internal/observability"
	"github.com/fluxbase-eu/ssr-builder/internal/packager"
	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
	"github.com/fluxbase-eu/ssr-builder/internal/runner"
	"github.com/fluxbase-eu/ssr-builder/internal/testutil"
)

func testConfig() config.BuildConfig {
	return config.BuildConfig{
		MaxPackageSize:   5 * 1024 * 1024,
		Concurrency:      4,
		Runtime:          "nodejs8.10",
		Handler:          "now__launcher.launcher",
		BuildScript:      "now-build",
		BuildCommand:     "nuxt build",
		InstallFlags:     []string{"--prefer-offline"},
		RouteDir:         ".nuxt/dist/client/pages",
		StaticBundleDir:  ".nuxt/dist/client",
		AssetPrefix:      "_nuxt",
		StaticDir:        "static",
		RegistryTokenEnv: "NPM_AUTH_TOKEN",
		Entrypoints:      []string{"package.json", "nuxt.config.js"},
	}
}

func blobs(files map[string]string) *pathmap.Store {
	entries := make(map[string]pathmap.FileRef, len(files))
	for k, v := range files {
		entries[k] = pathmap.NewBlobRef([]byte(v), 0644)
	}
	return pathmap.MustNew(entries)
}

// nuxtBuild writes the output a framework build would leave behind
func nuxtBuild(pages ...string) func(workDir, script string) error {
	return func(workDir, script string) error {
		out := map[string]string{
			".nuxt/dist/client/app.js":     "app",
			".nuxt/dist/client/vendors.js": "vendors",
		}
		for _, p := range pages {
			out[".nuxt/dist/client/pages/"+p] = "module.exports = '" + p + "'"
		}
		return testutil.WriteBuildOutput(workDir, out)
	}
}

func newBuilder(t *testing.T, cfg config.BuildConfig, r runner.Runner) (*Builder, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics()
	b, err := New(cfg, Dependencies{Runner: r, Metrics: metrics})
	require.NoError(t, err)
	return b, metrics
}

func TestBuild_RequiresRunner(t *testing.T) {
	b, err := New(testConfig(), Dependencies{})
	require.NoError(t, err)

	_, err = b.Build(context.Background(), blobs(map[string]string{"package.json": "{}"}), Options{Entrypoint: "package.json"})
	assert.Error(t, err)
}

func TestPlan(t *testing.T) {
	b, _ := newBuilder(t, testConfig(), &testutil.FakeRunner{})

	files := blobs(map[string]string{
		"www/package.json":         "{}",
		"www/pages/index.vue":      "<template/>",
		"www/static/favicon.ico":   "ico",
		"www/static/img/logo.png":  "png",
		"api/index.go":             "package api",
		"static/outside-entry.txt": "x",
	})

	plan, err := b.Plan(files, "www/package.json")
	require.NoError(t, err)

	assert.Equal(t, "www", plan.EntryDir)
	assert.Equal(t, []string{"package.json", "pages/index.vue"}, plan.BuildInput.Keys())
	assert.Equal(t, []string{"static/favicon.ico", "static/img/logo.png"}, plan.Passthrough.Keys())
}

func TestPlan_InvalidEntrypoint(t *testing.T) {
	b, _ := newBuilder(t, testConfig(), &testutil.FakeRunner{})
	files := blobs(map[string]string{"package.json": "{}"})

	for _, entry := range []string{"index.js", "missing/package.json", "../package.json", "/package.json"} {
		t.Run(entry, func(t *testing.T) {
			_, err := b.Plan(files, entry)
			assert.True(t, errors.Is(err, fileset.ErrInvalidEntrypoint))
		})
	}
}

func TestBuild_NestedEntryDirectorySkipsReservedPages(t *testing.T) {
	cfg := testConfig()
	cfg.Entrypoints = []string{"*.manifest"}
	cfg.RouteDir = ".build/client/pages"
	cfg.StaticBundleDir = ".build/client"

	fake := &testutil.FakeRunner{}
	b, _ := newBuilder(t, cfg, fake)

	files := blobs(map[string]string{
		"api/pages/home.manifest":               `{"name":"home"}`,
		"api/pages/.build/client/pages/home.js": strings.Repeat("h", 1024),
		"api/pages/.build/client/pages/_app.js": strings.Repeat("a", 1024),
	})

	result, err := b.Build(context.Background(), files, Options{
		Entrypoint: "api/pages/home.manifest",
		WorkPath:   t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, "api/pages", result.EntryDir)
	assert.Equal(t, 1, result.Routes)

	var handlers []string
	result.Output.Range(func(key string, ref pathmap.FileRef) bool {
		if _, ok := ref.(*packager.Lambda); ok {
			handlers = append(handlers, key)
		}
		return true
	})
	assert.Equal(t, []string{"api/pages/home"}, handlers)
	assert.False(t, result.Output.Has("api/pages/_app"))
	assert.True(t, result.Output.Has("api/pages/_nuxt/pages/home.js"))
}

func TestBuild_SynthesizesMissingManifest(t *testing.T) {
	workPath := t.TempDir()
	fake := &testutil.FakeRunner{OnScript: nuxtBuild("index.js")}
	b, _ := newBuilder(t, testConfig(), fake)

	files := blobs(map[string]string{
		"nuxt.config.js": "module.exports = {}",
	})

	_, err := b.Build(context.Background(), files, Options{Entrypoint: "nuxt.config.js", WorkPath: workPath})
	require.NoError(t, err)

	m, err := manifest.ReadFile(filepath.Join(workPath, manifest.FileName))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "nuxt build", m.Scripts["now-build"])
	assert.NotNil(t, m.Dependencies)
	assert.Empty(t, m.Dependencies)
	assert.NotNil(t, m.DevDependencies)
}

func TestBuild_ZeroConfigUsesDefaultLayout(t *testing.T) {
	fake := &testutil.FakeRunner{OnScript: nuxtBuild("index.js")}
	b, _ := newBuilder(t, config.BuildConfig{}, fake)

	files := blobs(map[string]string{
		"nuxt.config.js":     "module.exports = {}",
		"static/favicon.ico": "ico",
	})

	result, err := b.Build(context.Background(), files, Options{Entrypoint: "nuxt.config.js", WorkPath: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Routes)

	var handlers []string
	result.Output.Range(func(key string, ref pathmap.FileRef) bool {
		if _, ok := ref.(*packager.Lambda); ok {
			handlers = append(handlers, key)
		}
		return true
	})
	assert.Equal(t, []string{"index"}, handlers)
	assert.True(t, result.Output.Has("_nuxt/app.js"))
	assert.True(t, result.Output.Has("_nuxt/pages/index.js"))
	assert.True(t, result.Output.Has("static/favicon.ico"))
	assert.False(t, result.Output.Has("nuxt.config"))
	assert.False(t, result.Output.Has("_nuxt/package.json"))
	assert.False(t, result.Output.Has("_nuxt/nuxt.config.js"))
}

func TestBuild_KeepsUserBuildScript(t *testing.T) {
	workPath := t.TempDir()
	fake := &testutil.FakeRunner{OnScript: nuxtBuild("index.js")}
	b, _ := newBuilder(t, testConfig(), fake)

	files := blobs(map[string]string{
		"package.json": `{"name":"site","scripts":{"now-build":"nuxt build --modern"},"dependencies":{"nuxt":"^2.0.0"}}`,
	})

	_, err := b.Build(context.Background(), files, Options{Entrypoint: "package.json", WorkPath: workPath})
	require.NoError(t, err)

	m, err := manifest.ReadFile(filepath.Join(workPath, manifest.FileName))
	require.NoError(t, err)
	assert.Equal(t, "nuxt build --modern", m.Scripts["now-build"])
	assert.Equal(t, "^2.0.0", m.Dependencies["nuxt"])
	_, ok := m.Extra("name")
	assert.True(t, ok)
}

func TestBuild_FullOutput(t *testing.T) {
	fake := &testutil.FakeRunner{OnScript: nuxtBuild("index.js", "about.js", "_app.js", "_error.js", "_document.js")}
	b, metrics := newBuilder(t, testConfig(), fake)

	files := blobs(map[string]string{
		"site/package.json":       "{}",
		"site/pages/index.vue":    "<template/>",
		"site/static/favicon.ico": "ico",
		"site/static/robots.txt":  "robots",
		"other/package.json":      "{}",
	})

	result, err := b.Build(context.Background(), files, Options{Entrypoint: "site/package.json", WorkPath: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"site/_nuxt/app.js",
		"site/_nuxt/pages/_app.js",
		"site/_nuxt/pages/_document.js",
		"site/_nuxt/pages/_error.js",
		"site/_nuxt/pages/about.js",
		"site/_nuxt/pages/index.js",
		"site/_nuxt/vendors.js",
		"site/about",
		"site/index",
		"site/static/favicon.ico",
		"site/static/robots.txt",
	}, result.Output.Keys())

	ref, _ := result.Output.Get("site/index")
	lambda := ref.(*packager.Lambda)
	assert.Equal(t, "now__launcher.launcher", lambda.Handler)
	assert.Equal(t, "nodejs8.10", lambda.Runtime)
	assert.Equal(t, []string{packager.BridgeFileName, packager.LauncherFileName, packager.PageFileName}, lambda.Files.Keys())

	// install, build, prune in that order
	assert.Equal(t, []string{"install", "script", "install"}, fake.CallKinds())
	assert.Equal(t, []string{"--prefer-offline"}, fake.Calls[0].Args)
	assert.Equal(t, []string{"now-build"}, fake.Calls[1].Args)
	assert.Equal(t, []string{"--prefer-offline", "--production"}, fake.Calls[2].Args)

	count, err := promtestutil.GatherAndCount(metrics.Registry(), "ssr_builder_handlers_packaged_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBuild_RegistryCredentials(t *testing.T) {
	t.Run("present during install and removed after", func(t *testing.T) {
		workPath := t.TempDir()
		fake := &testutil.FakeRunner{OnScript: nuxtBuild("index.js")}
		b, _ := newBuilder(t, testConfig(), fake)

		_, err := b.Build(context.Background(), blobs(map[string]string{"package.json": "{}"}), Options{
			Entrypoint:    "package.json",
			WorkPath:      workPath,
			RegistryToken: "secret-token",
		})
		require.NoError(t, err)

		for _, call := range fake.Calls {
			assert.True(t, call.NpmrcExists, "%s ran without credentials", call.Kind)
		}
		assert.NoFileExists(t, filepath.Join(workPath, runner.NpmrcFileName))
	})

	t.Run("removed when the build script fails", func(t *testing.T) {
		workPath := t.TempDir()
		fake := &testutil.FakeRunner{OnScript: func(string, string) error {
			return fmt.Errorf("%w: exit status 1", runner.ErrBuildScriptFailed)
		}}
		b, metrics := newBuilder(t, testConfig(), fake)

		result, err := b.Build(context.Background(), blobs(map[string]string{"package.json": "{}"}), Options{
			Entrypoint:    "package.json",
			WorkPath:      workPath,
			RegistryToken: "secret-token",
		})
		require.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, errors.Is(err, runner.ErrBuildScriptFailed))
		assert.Contains(t, err.Error(), StageInstall)
		assert.NoFileExists(t, filepath.Join(workPath, runner.NpmrcFileName))
		assert.Equal(t, []string{"install", "script"}, fake.CallKinds())

		count, err := promtestutil.GatherAndCount(metrics.Registry(), "ssr_builder_builds_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("no token writes no file", func(t *testing.T) {
		fake := &testutil.FakeRunner{OnScript: nuxtBuild("index.js")}
		b, _ := newBuilder(t, testConfig(), fake)

		_, err := b.Build(context.Background(), blobs(map[string]string{"package.json": "{}"}), Options{
			Entrypoint: "package.json",
			WorkPath:   t.TempDir(),
		})
		require.NoError(t, err)
		for _, call := range fake.Calls {
			assert.False(t, call.NpmrcExists)
		}
	})
}

func TestBuild_Failures(t *testing.T) {
	tests := []struct {
		name       string
		cfg        func(*config.BuildConfig)
		entrypoint string
		onScript   func(workDir, script string) error
		wantErr    error
		wantCalls  int
	}{
		{
			name:       "invalid entrypoint",
			entrypoint: "server.js",
			wantErr:    fileset.ErrInvalidEntrypoint,
			wantCalls:  0,
		},
		{
			name:       "no pages built",
			entrypoint: "package.json",
			wantErr:    discover.ErrNoRoutesDiscovered,
			wantCalls:  3,
		},
		{
			name:       "only reserved pages built",
			entrypoint: "package.json",
			onScript:   nuxtBuild("_app.js", "_error.js"),
			wantErr:    discover.ErrNoRoutesDiscovered,
			wantCalls:  3,
		},
		{
			name:       "handler over size ceiling",
			cfg:        func(c *config.BuildConfig) { c.MaxPackageSize = 64 },
			entrypoint: "package.json",
			onScript:   nuxtBuild("index.js"),
			wantErr:    packager.ErrPackageTooLarge,
			wantCalls:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			fake := &testutil.FakeRunner{OnScript: tt.onScript}
			b, _ := newBuilder(t, cfg, fake)

			result, err := b.Build(context.Background(), blobs(map[string]string{"package.json": "{}"}), Options{
				Entrypoint: tt.entrypoint,
				WorkPath:   t.TempDir(),
			})
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Len(t, fake.Calls, tt.wantCalls)
		})
	}
}

func TestBuild_ManifestReadError(t *testing.T) {
	fake := &testutil.FakeRunner{}
	b, _ := newBuilder(t, testConfig(), fake)

	_, err := b.Build(context.Background(), blobs(map[string]string{"package.json": "{not json"}), Options{
		Entrypoint: "package.json",
		WorkPath:   t.TempDir(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, manifest.ErrManifestRead))
	assert.Empty(t, fake.Calls)
}

func TestBuild_GeneratedWorkPath(t *testing.T) {
	fake := &testutil.FakeRunner{OnScript: nuxtBuild("index.js")}
	b, _ := newBuilder(t, testConfig(), fake)

	result, err := b.Build(context.Background(), blobs(map[string]string{"package.json": "{}"}), Options{
		Entrypoint: "package.json",
	})
	require.NoError(t, err)
	assert.DirExists(t, result.WorkPath)
	assert.Contains(t, filepath.Base(result.WorkPath), "ssr-builder-")

	require.NoError(t, result.Cleanup())
	_, err = os.Stat(result.WorkPath)
	assert.True(t, os.IsNotExist(err))
}

func TestResult_CleanupKeepsCallerWorkPath(t *testing.T) {
	workPath := t.TempDir()
	fake := &testutil.FakeRunner{OnScript: nuxtBuild("index.js")}
	b, _ := newBuilder(t, testConfig(), fake)

	result, err := b.Build(context.Background(), blobs(map[string]string{"package.json": "{}"}), Options{
		Entrypoint: "package.json",
		WorkPath:   workPath,
	})
	require.NoError(t, err)
	require.NoError(t, result.Cleanup())
	assert.DirExists(t, workPath)
}

func TestBuild_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	b, err := New(testConfig(), Dependencies{
		Runner: &testutil.FakeRunner{OnScript: nuxtBuild("index.js")},
		Tracer: observability.NewTracerFromProvider(provider),
	})
	require.NoError(t, err)

	_, err = b.Build(context.Background(), blobs(map[string]string{"package.json": "{}"}), Options{
		Entrypoint: "package.json",
		WorkPath:   t.TempDir(),
	})
	require.NoError(t, err)

	var names []string
	var root sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
		if span.Name() == "builder.build" {
			root = span
		}
	}
	assert.Equal(t, []string{
		"builder." + StageResolve,
		"builder." + StageDownload,
		"builder." + StageManifest,
		"builder." + StageInstall,
		"builder." + StageDiscover,
		"builder." + StagePackage,
		"builder." + StageCompose,
		"builder.build",
	}, names)

	require.NotNil(t, root)
	assert.Equal(t, codes.Unset, root.Status().Code)
	for _, span := range recorder.Ended() {
		if span != root {
			assert.Equal(t, root.SpanContext().SpanID(), span.Parent().SpanID(), span.Name())
		}
	}
}
