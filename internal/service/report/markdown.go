package report

import (
	"fmt"
	"sort"
	"strings"

	"ci-core/internal/domain"
)

var stateOrder = []domain.NodeState{
	domain.NodeSucceeded, domain.NodeFailed, domain.NodeSkipped, domain.NodeCancelled,
	domain.NodeRunning, domain.NodeReady, domain.NodePending,
}

// RenderMarkdown renders a report as GitHub-flavored markdown.
func RenderMarkdown(rep *domain.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## %s %s: %s\n\n", statusIcon(rep), rep.Title, rep.RunStatus)
	fmt.Fprintf(&b, "Run `%s` for %s", rep.RunID, rep.Trigger.Event)
	if rep.Trigger.Ref != "" {
		fmt.Fprintf(&b, " on `%s`", rep.Trigger.Ref)
	}
	if rep.Trigger.Revision != "" {
		fmt.Fprintf(&b, " at `%s`", shortRev(rep.Trigger.Revision))
	}
	b.WriteString(".\n\n")

	var counts []string
	for _, s := range stateOrder {
		if c := rep.Counts[s]; c > 0 {
			counts = append(counts, fmt.Sprintf("%d %s", c, s))
		}
	}
	if len(counts) > 0 {
		fmt.Fprintf(&b, "Jobs: %s.\n\n", strings.Join(counts, ", "))
	}

	if len(rep.Failures) > 0 {
		b.WriteString("### Failures\n\n| Job | Kind | Message |\n|---|---|---|\n")
		for _, f := range rep.Failures {
			fmt.Fprintf(&b, "| `%s` | %s | %s |\n", f.Name, f.Kind, escapeCell(f.Message))
		}
		b.WriteString("\n")
	}

	if len(rep.Thresholds) > 0 {
		b.WriteString("### Thresholds\n\n")
		for _, t := range rep.Thresholds {
			mark := "✅"
			if !t.Passed {
				mark = "❌"
			}
			fmt.Fprintf(&b, "- %s `%s.%s`%s", mark, t.Node, t.Output, bounds(t.Threshold))
			if t.Value != nil {
				fmt.Fprintf(&b, ": %g", *t.Value)
			}
			if t.Message != "" && !(t.Passed && t.Value != nil) {
				fmt.Fprintf(&b, " (%s)", t.Message)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	for _, sec := range rep.Sections {
		fmt.Fprintf(&b, "### %s (%s)\n\n", sec.Node, sec.State)
		if len(sec.Outputs) == 0 {
			b.WriteString("_No outputs._\n\n")
			continue
		}
		keys := make([]string, 0, len(sec.Outputs))
		for k := range sec.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("| Output | Value |\n|---|---|\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "| %s | %s |\n", k, escapeCell(sec.Outputs[k]))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func statusIcon(rep *domain.Report) string {
	if rep.ExitCode() == 0 {
		return "✅"
	}
	if rep.RunStatus == domain.RunCancelled {
		return "⏹️"
	}
	return "❌"
}

func bounds(t domain.Threshold) string {
	switch {
	case t.Min != nil && t.Max != nil:
		return fmt.Sprintf(" in [%g, %g]", *t.Min, *t.Max)
	case t.Min != nil:
		return fmt.Sprintf(" >= %g", *t.Min)
	case t.Max != nil:
		return fmt.Sprintf(" <= %g", *t.Max)
	}
	return ""
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
