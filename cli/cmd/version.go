package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/ssr-builder/cli/output"
	"github.com/fluxbase-eu/ssr-builder/internal/packager"
)

type versionInfo struct {
	Version        string `json:"version" yaml:"version"`
	Commit         string `json:"commit" yaml:"commit"`
	BuildDate      string `json:"build_date" yaml:"build_date"`
	GoVersion      string `json:"go_version" yaml:"go_version"`
	HandlerRuntime string `json:"handler_runtime" yaml:"handler_runtime"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the version, commit and build date of ssr-builder, and the handler runtime it targets by default.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := versionInfo{
			Version:        Version,
			Commit:         Commit,
			BuildDate:      BuildDate,
			GoVersion:      runtime.Version(),
			HandlerRuntime: packager.DefaultRuntime,
		}

		if formatter.Format != output.FormatTable {
			return formatter.Render(nil, info)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ssr-builder %s\n", info.Version)
		fmt.Fprintf(out, "Commit: %s\n", info.Commit)
		fmt.Fprintf(out, "Build Date: %s\n", info.BuildDate)
		fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
		fmt.Fprintf(out, "Handler runtime: %s\n", info.HandlerRuntime)
		return nil
	},
}
