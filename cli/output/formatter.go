// Package output renders ssr-builder command results as a table, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format selects how results are written
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses the --output flag
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml)", s)
}

// Table is the human-readable form of a result
type Table struct {
	Headers []string
	Rows    [][]string
	Footer  []string
}

// NewTable creates an empty table with the given column headers
func NewTable(headers ...string) *Table {
	return &Table{Headers: headers}
}

// Append adds one row
func (t *Table) Append(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Formatter writes results to one writer in one format
type Formatter struct {
	Format    Format
	NoHeaders bool
	Quiet     bool
	Out       io.Writer
	Err       io.Writer
}

// NewFormatter creates a formatter. Results go to out, warnings to errOut.
func NewFormatter(format Format, noHeaders, quiet bool, out, errOut io.Writer) *Formatter {
	return &Formatter{
		Format:    format,
		NoHeaders: noHeaders,
		Quiet:     quiet,
		Out:       out,
		Err:       errOut,
	}
}

// Render writes table in table mode and data in JSON/YAML mode
func (f *Formatter) Render(table *Table, data any) error {
	if f.Quiet {
		return nil
	}

	switch f.Format {
	case FormatJSON:
		enc := json.NewEncoder(f.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(f.Out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	}

	w := tablewriter.NewWriter(f.Out)
	w.SetBorder(false)
	w.SetAutoWrapText(false)
	w.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	w.SetFooterAlignment(tablewriter.ALIGN_LEFT)
	w.SetAlignment(tablewriter.ALIGN_LEFT)
	w.SetCenterSeparator("")
	w.SetColumnSeparator("")
	w.SetRowSeparator("")
	w.SetHeaderLine(false)
	w.SetTablePadding("\t")
	w.SetNoWhiteSpace(true)
	if !f.NoHeaders {
		w.SetHeader(table.Headers)
		if len(table.Footer) > 0 {
			w.SetFooter(table.Footer)
		}
	}
	w.AppendBulk(table.Rows)
	w.Render()
	return nil
}

// PrintSuccess prints a closing message in table mode only, so JSON and
// YAML output stays parseable.
func (f *Formatter) PrintSuccess(message string) {
	if f.Quiet || f.Format != FormatTable {
		return
	}
	fmt.Fprintln(f.Out, message)
}

// PrintWarning writes a warning to the error stream in every format
func (f *Formatter) PrintWarning(message string) {
	if f.Quiet {
		return
	}
	fmt.Fprintln(f.Err, "Warning:", message)
}

// FormatBytes renders a byte count with binary units
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
