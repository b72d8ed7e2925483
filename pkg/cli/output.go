package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ci-core/internal/domain"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable writes an aligned table with upper-cased headers and two spaces
// between columns.
func PrintTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for _, row := range rows {
		for i := range columns {
			if i < len(row) && len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	writeRow := func(cells []string) {
		var b strings.Builder
		for i := range columns {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(columns)-1 {
				b.WriteString(cell)
				break
			}
			fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
		}
		_, _ = fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}

	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = strings.ToUpper(c)
	}
	writeRow(header)
	for _, row := range rows {
		writeRow(row)
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
)

func colorStatus(status string, color bool) string {
	if !color {
		return status
	}
	switch status {
	case "succeeded":
		return ansiGreen + status + ansiReset
	case "failed":
		return ansiRed + status + ansiReset
	case "cancelled", "skipped":
		return ansiYellow + status + ansiReset
	}
	return status
}

// printRun renders a run snapshot as a header line plus a node table.
func printRun(w io.Writer, snap *domain.RunSnapshot) {
	color := isTerminal(w)
	_, _ = fmt.Fprintf(w, "Run %s (%s) %s\n", snap.ID, snap.Trigger.Workflow, colorStatus(string(snap.Status), color))
	if snap.CancelReason != "" {
		_, _ = fmt.Fprintf(w, "Cancelled: %s\n", snap.CancelReason)
	}
	for _, warn := range snap.Warnings {
		_, _ = fmt.Fprintf(w, "Warning: %s\n", warn)
	}
	rows := make([][]string, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		detail := n.Error
		if detail == "" {
			detail = n.Reason
		}
		rows = append(rows, []string{n.Name, colorStatus(string(n.State), color), detail})
	}
	PrintTable(w, []string{"node", "state", "detail"}, rows)
}
