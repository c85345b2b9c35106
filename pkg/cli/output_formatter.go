package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"vulnscan/internal/aggregate"
	"vulnscan/internal/model"
)

// Report 一次运行的输出
type Report struct {
	Targets  []string          `json:"targets,omitempty"`
	ScanTime string            `json:"scan_time"`
	Findings []model.Finding   `json:"findings"`
	Summary  aggregate.Summary `json:"summary"`
}

// NewReport 排序并统计发现
func NewReport(targets []string, scanTime string, findings []model.Finding) Report {
	sorted := aggregate.SortByWorstSeverity(findings)
	if sorted == nil {
		sorted = []model.Finding{}
	}
	return Report{
		Targets:  targets,
		ScanTime: scanTime,
		Findings: sorted,
		Summary:  aggregate.Summarize(findings),
	}
}

var severityStyle = map[model.Severity][]color.Attribute{
	model.SeverityCritical: {color.Bold, color.FgWhite, color.BgRed},
	model.SeverityHigh:     {color.Bold, color.FgRed},
	model.SeverityMedium:   {color.Bold, color.FgYellow},
	model.SeverityLow:      {color.Bold, color.FgCyan},
	model.SeverityInfo:     {color.Bold, color.FgBlue},
	model.SeverityUnknown:  {color.Faint},
}

var severityBadge = map[model.Severity]string{
	model.SeverityCritical: " CRIT ",
	model.SeverityHigh:     " HIGH ",
	model.SeverityMedium:   " MED  ",
	model.SeverityLow:      " LOW  ",
	model.SeverityInfo:     " INFO ",
	model.SeverityUnknown:  " UNK  ",
}

var scannerIcon = map[model.ScannerKind]string{
	model.ScannerDependency: "📦",
	model.ScannerSAST:       "🔍",
	model.ScannerNetwork:    "🌐",
}

type OutputFormatter struct {
	format  string
	fs      afero.Fs
	stdout  io.Writer
	verbose bool
	colors  bool
}

type FormatterOption func(*OutputFormatter)

// WithFs 输出文件写入的文件系统
func WithFs(fs afero.Fs) FormatterOption {
	return func(of *OutputFormatter) { of.fs = fs }
}

func WithStdout(w io.Writer) FormatterOption {
	return func(of *OutputFormatter) { of.stdout = w }
}

// WithVerbose 文本输出中展开所有发现的详情
func WithVerbose(v bool) FormatterOption {
	return func(of *OutputFormatter) { of.verbose = v }
}

func WithColor(enabled bool) FormatterOption {
	return func(of *OutputFormatter) { of.colors = enabled }
}

func NewOutputFormatter(format string, opts ...FormatterOption) *OutputFormatter {
	of := &OutputFormatter{
		format: strings.ToLower(format),
		fs:     afero.NewOsFs(),
		stdout: os.Stdout,
		colors: !color.NoColor,
	}
	for _, opt := range opts {
		opt(of)
	}
	return of
}

// PrintResult 写入文件或标准输出
func (of *OutputFormatter) PrintResult(report Report, outputFile string) error {
	output, err := of.Render(report)
	if err != nil {
		return err
	}

	if outputFile != "" {
		if err := of.fs.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
			return xerrors.Errorf("创建输出目录失败: %w", err)
		}
		if err := afero.WriteFile(of.fs, outputFile, []byte(output), 0o644); err != nil {
			return xerrors.Errorf("写入输出文件失败 (%s): %w", outputFile, err)
		}
		return nil
	}

	_, err = io.WriteString(of.stdout, output)
	return err
}

func (of *OutputFormatter) Render(report Report) (string, error) {
	switch of.format {
	case "json":
		return of.formatJSON(report)
	case "csv":
		return of.formatCSV(report)
	default:
		return of.formatText(report), nil
	}
}

func (of *OutputFormatter) paint(s string, attrs ...color.Attribute) string {
	if !of.colors {
		return s
	}
	c := color.New(attrs...)
	c.EnableColor()
	return c.Sprint(s)
}

func (of *OutputFormatter) badge(sev model.Severity) string {
	return of.paint(severityBadge[sev], severityStyle[sev]...)
}

func icon(kind model.ScannerKind) string {
	if i, ok := scannerIcon[kind]; ok {
		return i
	}
	return "⚠️"
}

func (of *OutputFormatter) formatText(report Report) string {
	var b strings.Builder

	b.WriteString("\n📡 vulnscan v1.0  |  OSV · NVD · MITRE\n")
	b.WriteString(strings.Repeat("═", 60) + "\n")
	if len(report.Targets) > 0 {
		b.WriteString(fmt.Sprintf("目标: %s\n", strings.Join(report.Targets, ", ")))
	}
	b.WriteString(fmt.Sprintf("时间: %s\n\n", report.ScanTime))

	if len(report.Findings) == 0 {
		b.WriteString(of.paint("✓ No findings!", color.Bold, color.FgGreen) + "\n")
		return b.String()
	}

	b.WriteString(of.paint("Findings", color.Bold) + "\n")
	b.WriteString(strings.Repeat("─", 60) + "\n")
	for _, f := range report.Findings {
		of.writeFinding(&b, f)
	}

	of.writeSummary(&b, report.Summary)
	return b.String()
}

func (of *OutputFormatter) writeFinding(b *strings.Builder, f model.Finding) {
	sev := f.EffectiveSeverity()

	location := f.Location
	if f.LineNumber > 0 {
		location = fmt.Sprintf("%s:%d", location, f.LineNumber)
	}
	fmt.Fprintf(b, "%s %s %s  %s\n", of.badge(sev), icon(f.Scanner), of.paint(f.Title, color.Bold), of.paint(location, color.Faint))

	if of.verbose || sev == model.SeverityCritical || sev == model.SeverityHigh {
		if f.Description != "" {
			fmt.Fprintf(b, "   %s\n", of.paint(f.Description, color.Italic, color.Faint))
		}
		if f.Evidence != "" {
			fmt.Fprintf(b, "   Evidence: %s\n", of.paint(f.Evidence, color.FgRed))
		}
		if f.Remediation != "" {
			fmt.Fprintf(b, "   Fix: %s\n", of.paint(f.Remediation, color.FgGreen))
		}
		if len(f.CVERefs) > 0 {
			of.writeCVETable(b, f.CVERefs)
		}
	}
	b.WriteString("\n")
}

func (of *OutputFormatter) writeCVETable(b *strings.Builder, refs []model.CVEReference) {
	sorted := append([]model.CVEReference(nil), refs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.SortKey() < sorted[j].Severity.SortKey()
	})

	w := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "    CVE / ID\tCVSS\tSeverity\tPublished\tNVD Link")
	for _, ref := range sorted {
		link := ref.NVDURL
		if link == "" {
			link = ref.MITREURL
		}
		fmt.Fprintf(w, "    %s\t%s\t%s\t%s\t%s\n",
			ref.ID,
			formatScore(ref.Score),
			ref.Severity,
			lo.Ternary(ref.Published == "", "—", ref.Published),
			link,
		)
	}
	w.Flush()
}

func (of *OutputFormatter) writeSummary(b *strings.Builder, s aggregate.Summary) {
	b.WriteString(of.paint("Summary", color.Bold) + "\n")
	b.WriteString(strings.Repeat("─", 60) + "\n")

	for _, sev := range model.AllSeverities {
		if n := s.BySeverity[sev]; n > 0 {
			fmt.Fprintf(b, "  %s  %d\n", of.badge(sev), n)
		}
	}
	b.WriteString("\n")

	kinds := lo.Keys(s.ByScanner)
	sort.Slice(kinds, func(i, j int) bool {
		if s.ByScanner[kinds[i]] != s.ByScanner[kinds[j]] {
			return s.ByScanner[kinds[i]] > s.ByScanner[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})
	for _, kind := range kinds {
		fmt.Fprintf(b, "  %s  %-12s %d\n", icon(kind), kind, s.ByScanner[kind])
	}
	b.WriteString("\n")

	verdict := s.Verdict()
	switch {
	case s.BySeverity[model.SeverityCritical] > 0:
		verdict = of.paint("⚠  "+verdict, color.Bold, color.FgRed)
	case s.BySeverity[model.SeverityHigh] > 0:
		verdict = of.paint("⚠  "+verdict, color.Bold, color.FgYellow)
	default:
		verdict = of.paint("✓  "+verdict, color.Bold, color.FgGreen)
	}
	b.WriteString(verdict + "\n")
}

func formatScore(score *float64) string {
	if score == nil {
		return "—"
	}
	return fmt.Sprintf("%.1f", *score)
}

func (of *OutputFormatter) formatJSON(report Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", xerrors.Errorf("JSON编码失败: %w", err)
	}
	return string(data) + "\n", nil
}

func (of *OutputFormatter) formatCSV(report Report) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)

	w.Write([]string{"severity", "scanner", "title", "location", "line", "cve_ids", "max_cvss", "product", "version", "remediation"})
	for _, f := range report.Findings {
		ids := lo.Map(f.CVERefs, func(r model.CVEReference, _ int) string { return r.ID })
		maxScore := ""
		if s := f.MaxScore(); s != nil {
			maxScore = fmt.Sprintf("%.1f", *s)
		}
		line := ""
		if f.LineNumber > 0 {
			line = strconv.Itoa(f.LineNumber)
		}
		w.Write([]string{
			string(f.EffectiveSeverity()),
			string(f.Scanner),
			f.Title,
			f.Location,
			line,
			strings.Join(ids, " "),
			maxScore,
			f.Product,
			f.Version,
			f.Remediation,
		})
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", xerrors.Errorf("CSV编码失败: %w", err)
	}
	return b.String(), nil
}
