// Package output renders pass results for the command line.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// Format types for output.
type Format string

const (
	// FormatTable represents table output format.
	FormatTable Format = "table"
	// FormatJSON represents JSON output format.
	FormatJSON Format = "json"
	// FormatYAML represents YAML output format.
	FormatYAML Format = "yaml"
)

// Formatter interface for all output types.
type Formatter interface {
	Format(w io.Writer, data any) error
}

// FormatterFunc allows functions to implement Formatter.
type FormatterFunc func(io.Writer, any) error

// Format implements the Formatter interface.
func (f FormatterFunc) Format(w io.Writer, data any) error {
	return f(w, data)
}

// NewFormatter creates appropriate formatter based on format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: "  "}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}

// JSONFormatter outputs JSON format.
type JSONFormatter struct {
	Indent string
}

// Format implements the Formatter interface for JSON output.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent != "" {
		encoder.SetIndent("", f.Indent)
	}
	return encoder.Encode(data)
}

// YAMLFormatter outputs YAML format.
type YAMLFormatter struct{}

// Format outputs data in YAML format.
func (f *YAMLFormatter) Format(w io.Writer, data any) error {
	yamlData, err := yaml.MarshalWithOptions(data,
		yaml.Indent(2),
		yaml.IndentSequence(false),
	)
	if err != nil {
		return err
	}
	_, err = w.Write(yamlData)
	return err
}

// Align is a column alignment.
type Align int

// Alignments.
const (
	AlignDefault Align = iota
	AlignLeft
	AlignRight
)

// Data represents data formatted for table output.
type Data struct {
	Headers         []string
	Rows            [][]string
	ColumnAlignment []Align
}

// Tables is a sequence of tables rendered one after the other.
type Tables []Data

// TableFormatter outputs table format.
type TableFormatter struct{}

// Format outputs data in table format. Values with no table form fall back
// to JSON.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	switch v := data.(type) {
	case Data:
		return f.formatTable(w, v)
	case Tables:
		for i, t := range v {
			if i > 0 {
				if _, err := fmt.Fprintln(w); err != nil {
					return err
				}
			}
			if err := f.formatTable(w, t); err != nil {
				return err
			}
		}
		return nil
	default:
		return (&JSONFormatter{Indent: "  "}).Format(w, data)
	}
}

func (f *TableFormatter) formatTable(w io.Writer, data Data) error {
	config := tablewriter.Config{}
	if len(data.ColumnAlignment) > 0 {
		twAlign := make([]tw.Align, len(data.ColumnAlignment))
		for i, align := range data.ColumnAlignment {
			switch align {
			case AlignLeft:
				twAlign[i] = tw.AlignLeft
			case AlignRight:
				twAlign[i] = tw.AlignRight
			default:
				twAlign[i] = tw.Skip
			}
		}
		config.Header.Alignment = tw.CellAlignment{PerColumn: twAlign}
		config.Row.Alignment = tw.CellAlignment{PerColumn: twAlign}
	}
	table := tablewriter.NewTable(w, tablewriter.WithConfig(config))

	if len(data.Headers) > 0 {
		headers := make([]any, len(data.Headers))
		for i, h := range data.Headers {
			headers[i] = h
		}
		table.Header(headers...)
	}
	for _, row := range data.Rows {
		cells := make([]any, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		if err := table.Append(cells...); err != nil {
			return err
		}
	}
	return table.Render()
}

// DetectFormat auto-detects format based on terminal and environment.
func DetectFormat(explicitFormat string) Format {
	if explicitFormat != "" {
		return Format(strings.ToLower(explicitFormat))
	}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return FormatTable
	}
	// pipes and redirects get JSON
	return FormatJSON
}

// ParseFormat converts string to Format with validation.
func ParseFormat(s string) (Format, error) {
	format := Format(strings.ToLower(s))
	switch format {
	case FormatTable, FormatJSON, FormatYAML, "":
		return format, nil
	default:
		return "", fmt.Errorf("invalid format %q: must be one of: table, json, yaml", s)
	}
}
