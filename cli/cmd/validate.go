package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/ssr-builder/cli/output"
	"github.com/fluxbase-eu/ssr-builder/internal/builder"
	"github.com/fluxbase-eu/ssr-builder/internal/pathmap"
)

// planEntry is one uploaded file and what the build does with it
type planEntry struct {
	Path string `json:"path" yaml:"path"`
	Role string `json:"role" yaml:"role"`
	Size int64  `json:"size" yaml:"size"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check an entrypoint and show which files the build would use",
	Long: `Validate resolves the entrypoint against a local project and lists the files
that would be handed to the build and the static files passed through as-is.
Nothing is installed or built.`,
	Example: `  ssr-builder validate --source ./site --entrypoint www/package.json`,
	RunE:    runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&sourceDir, "source", "", "Local project directory")
	validateCmd.Flags().StringVar(&entrypoint, "entrypoint", "", "Path of the project manifest, relative to the source")

	_ = validateCmd.MarkFlagRequired("source")
	_ = validateCmd.MarkFlagRequired("entrypoint")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	files, err := pathmap.FromDir(cmd.Context(), sourceDir)
	if err != nil {
		return err
	}

	b, err := builder.New(cfg.Build, builder.Dependencies{})
	if err != nil {
		return err
	}

	plan, err := b.Plan(files, entrypoint)
	if err != nil {
		return err
	}

	var entries []planEntry
	collect := func(role string, store *pathmap.Store) {
		store.Range(func(key string, ref pathmap.FileRef) bool {
			entries = append(entries, planEntry{Path: key, Role: role, Size: ref.Size()})
			return true
		})
	}
	collect("build", plan.BuildInput)
	collect("passthrough", plan.Passthrough)

	table := output.NewTable("PATH", "ROLE", "SIZE")
	var total int64
	for _, e := range entries {
		table.Append(e.Path, e.Role, output.FormatBytes(e.Size))
		total += e.Size
	}
	table.Footer = []string{fmt.Sprintf("%d files", len(entries)), "", output.FormatBytes(total)}

	if err := formatter.Render(table, entries); err != nil {
		return err
	}
	formatter.PrintSuccess(fmt.Sprintf("Entrypoint %s is valid (entry directory %q)", plan.Entrypoint, plan.EntryDir))
	return nil
}
