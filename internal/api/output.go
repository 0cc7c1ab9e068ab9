package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how CLI commands print responses.
type OutputFormat string

const (
	OutputFormatYAML  OutputFormat = "yaml"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// globalOutputFormat is set by the root command's --output flag.
var globalOutputFormat = OutputFormatYAML

// Tabular is implemented by responses that can print as a table.
type Tabular interface {
	Table() (header []string, rows [][]string)
}

// SetOutputFormat sets the global output format. Unknown names fall back
// to yaml.
func SetOutputFormat(format string) {
	switch f := OutputFormat(strings.ToLower(format)); f {
	case OutputFormatJSON, OutputFormatYAML, OutputFormatTable:
		globalOutputFormat = f
	default:
		globalOutputFormat = OutputFormatYAML
	}
}

// GetOutputFormat returns the current global output format.
func GetOutputFormat() OutputFormat {
	return globalOutputFormat
}

// Output writes data to stdout in the configured format.
func Output(data any) error {
	return OutputTo(os.Stdout, globalOutputFormat, data)
}

// OutputTo writes data to w. The table format applies to Tabular values;
// anything else prints as yaml.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	case OutputFormatTable:
		t, ok := data.(Tabular)
		if !ok {
			return OutputTo(w, OutputFormatYAML, data)
		}
		return writeTable(w, t)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func writeTable(w io.Writer, t Tabular) error {
	header, rows := t.Table()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
