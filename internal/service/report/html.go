package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	gomponents "maragu.dev/gomponents"
	html "maragu.dev/gomponents/html"

	"ci-core/internal/domain"
)

// RenderHTML writes a standalone HTML page for the report.
func RenderHTML(w io.Writer, rep *domain.Report) error {
	return reportPage(rep).Render(w)
}

func reportPage(rep *domain.Report) gomponents.Node {
	return html.Doctype(html.HTML(
		html.Lang("en"),
		html.Head(
			html.Meta(html.Charset("utf-8")),
			html.Meta(html.Name("viewport"), html.Content("width=device-width, initial-scale=1")),
			html.TitleEl(gomponents.Text(rep.Title+" | run "+rep.RunID)),
			html.StyleEl(gomponents.Raw(reportCSS)),
		),
		html.Body(
			html.Main(
				html.Class("layout"),
				html.H1(html.Class("status-"+string(rep.RunStatus)), gomponents.Textf("%s: %s", rep.Title, rep.RunStatus)),
				html.P(html.Class("muted"), gomponents.Textf("Run %s for %s on %s, generated %s",
					rep.RunID, rep.Trigger.Event, refLabel(rep.Trigger), rep.GeneratedAt.Format(time.RFC3339))),
				countsTable(rep),
				gomponents.If(len(rep.Failures) > 0, failuresTable(rep.Failures)),
				gomponents.If(len(rep.Thresholds) > 0, thresholdsTable(rep.Thresholds)),
				gomponents.Group(sectionNodes(rep.Sections)),
			),
		),
	))
}

func countsTable(rep *domain.Report) gomponents.Node {
	rows := make([]gomponents.Node, 0, len(stateOrder))
	for _, s := range stateOrder {
		if c := rep.Counts[s]; c > 0 {
			rows = append(rows, html.Tr(html.Td(gomponents.Text(string(s))), html.Td(gomponents.Textf("%d", c))))
		}
	}
	return html.Table(html.THead(html.Tr(html.Th(gomponents.Text("State")), html.Th(gomponents.Text("Jobs")))), html.TBody(gomponents.Group(rows)))
}

func failuresTable(failures []domain.FailedNode) gomponents.Node {
	rows := make([]gomponents.Node, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, html.Tr(html.Td(html.Code(gomponents.Text(f.Name))), html.Td(gomponents.Text(string(f.Kind))), html.Td(gomponents.Text(f.Message))))
	}
	return html.Section(
		html.H2(gomponents.Text("Failures")),
		html.Table(html.THead(html.Tr(html.Th(gomponents.Text("Job")), html.Th(gomponents.Text("Kind")), html.Th(gomponents.Text("Message")))), html.TBody(gomponents.Group(rows))),
	)
}

func thresholdsTable(results []domain.ThresholdResult) gomponents.Node {
	rows := make([]gomponents.Node, 0, len(results))
	for _, t := range results {
		value := "-"
		if t.Value != nil {
			value = fmt.Sprintf("%g", *t.Value)
		}
		verdict := "pass"
		if !t.Passed {
			verdict = "fail"
		}
		rows = append(rows, html.Tr(
			html.Class(verdict),
			html.Td(html.Code(gomponents.Textf("%s.%s", t.Node, t.Output))),
			html.Td(gomponents.Text(bounds(t.Threshold))),
			html.Td(gomponents.Text(value)),
			html.Td(gomponents.Text(verdict)),
			html.Td(gomponents.Text(t.Message)),
		))
	}
	return html.Section(
		html.H2(gomponents.Text("Thresholds")),
		html.Table(html.THead(html.Tr(html.Th(gomponents.Text("Output")), html.Th(gomponents.Text("Bound")), html.Th(gomponents.Text("Value")), html.Th(gomponents.Text("Result")), html.Th(gomponents.Text("Detail")))), html.TBody(gomponents.Group(rows))),
	)
}

func sectionNodes(sections []domain.ReportSection) []gomponents.Node {
	out := make([]gomponents.Node, 0, len(sections))
	for _, sec := range sections {
		keys := make([]string, 0, len(sec.Outputs))
		for k := range sec.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rows := make([]gomponents.Node, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, html.Tr(html.Td(gomponents.Text(k)), html.Td(gomponents.Text(sec.Outputs[k]))))
		}
		out = append(out, html.Section(
			html.H2(gomponents.Textf("%s (%s)", sec.Node, sec.State)),
			html.Table(html.TBody(gomponents.Group(rows))),
		))
	}
	return out
}

func refLabel(t domain.Trigger) string {
	if t.IsPullRequest() {
		return fmt.Sprintf("pull request #%d", *t.PullRequest)
	}
	if t.Ref != "" {
		return t.Ref
	}
	return shortRev(t.Revision)
}

const reportCSS = `body{font-family:system-ui,sans-serif;margin:0;color:#1f2328}
.layout{max-width:960px;margin:0 auto;padding:24px}
.muted{color:#656d76}
table{border-collapse:collapse;width:100%;margin:12px 0}
th,td{border:1px solid #d0d7de;padding:6px 10px;text-align:left}
.status-succeeded{color:#1a7f37}.status-failed{color:#cf222e}.status-cancelled{color:#9a6700}
tr.fail td{background:#ffebe9}`
