package output

import (
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agentstation/mirrorsync/pkg/run"
)

// ResultToTables converts a pass result to a statistics table followed by
// an errors table when the pass recorded failures.
func ResultToTables(result *run.Result) Tables {
	stats := result.Snapshot()
	summary := Data{
		Headers:         []string{"Statistic", "Count"},
		ColumnAlignment: []Align{AlignLeft, AlignRight},
	}
	summary.Rows = append(summary.Rows,
		[]string{"Pass", string(result.Pass)},
		[]string{"Run", result.RunID},
		[]string{"Duration", result.Duration.String()},
	)
	for _, c := range stats.Counters() {
		summary.Rows = append(summary.Rows, []string{c.Name, strconv.Itoa(c.Value)})
	}
	tables := Tables{summary}

	if len(result.Errors) == 0 {
		return tables
	}
	caser := cases.Title(language.English)
	failures := Data{Headers: []string{"Kind", "Record", "Owner", "Message"}}
	for _, e := range result.Errors {
		failures.Rows = append(failures.Rows, []string{
			caser.String(strings.ReplaceAll(e.Kind.String(), "_", " ")),
			e.Record,
			e.Owner,
			e.Message,
		})
	}
	return append(tables, failures)
}

// WriteResult renders result to w in the given format.
func WriteResult(w io.Writer, format Format, result *run.Result) error {
	var data any = result
	if format == FormatTable || format == "" {
		data = ResultToTables(result)
	}
	return NewFormatter(format).Format(w, data)
}
