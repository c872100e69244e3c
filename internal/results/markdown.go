package results

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/xkilldash9x/settings-crawler/internal/crawler"
)

const reportTimeLayout = "2006-01-02 15:04:05 MST"

var controlTypeOrder = []crawler.ControlType{
	crawler.ControlToggle,
	crawler.ControlCheckbox,
	crawler.ControlRadio,
	crawler.ControlSelect,
	crawler.ControlButtonLink,
}

// MarkdownWriter renders a run result as a Markdown report.
type MarkdownWriter struct {
	output io.Writer
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{output: output}
}

// Write outputs the report.
func (w *MarkdownWriter) Write(res *crawler.RunResult) error {
	md := markdown.NewMarkdown(w.output)
	summary := Summarize(res)

	w.writeHeader(md, res)
	w.writePath(md, res)
	w.writeControls(md, res, summary)
	w.writeVisited(md, res)

	return md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, res *crawler.RunResult) {
	title := "Settings Crawl Report"
	if res.Service != "" {
		title += ": " + res.Service
	}
	md.H1(title)
	md.PlainText("")

	rows := [][]string{
		{"Run ID", "`" + res.RunID + "`"},
		{"Start URL", res.StartURL},
		{"Final URL", res.FinalURL},
		{"Clicks", strconv.Itoa(res.ClickCount)},
		{"State", string(res.State)},
	}
	if !res.FinishedAt.IsZero() {
		rows = append(rows,
			[]string{"Finished", res.FinishedAt.Format(reportTimeLayout)},
			[]string{"Duration", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond).String()},
		)
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	if res.Success {
		md.Tip("Privacy settings page reached.")
	} else {
		reason := res.Reason
		if reason == "" {
			reason = "unknown"
		}
		md.Warningf("Settings page not reached: %s.", reason)
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writePath(md *markdown.Markdown, res *crawler.RunResult) {
	md.H2("Click Path")
	md.PlainText("")
	if len(res.Path) == 0 {
		md.PlainText("The start page was the destination.")
		md.PlainText("")
		return
	}
	md.OrderedList(res.Path...)
	md.PlainText("")
}

func (w *MarkdownWriter) writeControls(md *markdown.Markdown, res *crawler.RunResult, summary Summary) {
	md.H2("Controls")
	md.PlainText("")
	if summary.Total == 0 {
		md.PlainText("No controls were harvested.")
		md.PlainText("")
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Controls by type"),
		piechart.WithShowData(true),
	)
	for _, t := range controlTypeOrder {
		if n := summary.ByType[t]; n > 0 {
			chart.LabelAndIntValue(string(t), uint64(n))
		}
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")

	rows := make([][]string, len(res.Controls))
	for i, c := range res.Controls {
		state := c.State
		if state == "" {
			state = "-"
		}
		cats := strings.Join(c.Categories, ", ")
		if cats == "" {
			cats = "-"
		}
		rows[i] = []string{escapeCell(c.Label), string(c.Type), state, cats}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Label", "Type", "State", "Categories"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(summary.Categories) > 0 {
		md.H3("Categories")
		md.PlainText("")
		items := make([]string, len(summary.Categories))
		for i, c := range summary.Categories {
			items[i] = c.Category + ": " + strconv.Itoa(c.Count)
		}
		md.BulletList(items...)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeVisited(md *markdown.Markdown, res *crawler.RunResult) {
	if len(res.Visited) == 0 {
		return
	}
	md.H2("Visited Screens")
	md.PlainText("")
	rows := make([][]string, len(res.Visited))
	for i, v := range res.Visited {
		fp := v.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		rows[i] = []string{strconv.Itoa(i + 1), v.CanonicalURL, "`" + fp + "`"}
	}
	md.Table(markdown.TableSet{
		Header: []string{"#", "URL", "Fingerprint"},
		Rows:   rows,
	})
}

// escapeCell keeps pipes in labels from breaking the table.
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
