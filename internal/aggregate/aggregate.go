// Package aggregate 对扫描结果排序和统计
package aggregate

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"vulnscan/internal/model"
)

// SortByWorstSeverity 按有效等级从严重到轻微排序，同级保持原顺序。返回新切片
func SortByWorstSeverity(findings []model.Finding) []model.Finding {
	out := append([]model.Finding(nil), findings...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveSeverity().SortKey() < out[j].EffectiveSeverity().SortKey()
	})
	return out
}

// Summary 结果统计
type Summary struct {
	Total      int                       `json:"total"`
	BySeverity map[model.Severity]int    `json:"by_severity"`
	ByScanner  map[model.ScannerKind]int `json:"by_scanner"`
	CVECount   int                       `json:"cve_count"`
}

// Summarize 按有效等级和扫描器类型计数，每个等级都有键
func Summarize(findings []model.Finding) Summary {
	s := Summary{
		Total:      len(findings),
		BySeverity: make(map[model.Severity]int, len(model.AllSeverities)),
		ByScanner: lo.CountValuesBy(findings, func(f model.Finding) model.ScannerKind {
			return f.Scanner
		}),
	}
	for _, sev := range model.AllSeverities {
		s.BySeverity[sev] = 0
	}
	for _, f := range findings {
		s.BySeverity[f.EffectiveSeverity()]++
	}

	ids := lo.FlatMap(findings, func(f model.Finding, _ int) []string {
		return lo.Map(f.CVERefs, func(r model.CVEReference, _ int) string { return r.ID })
	})
	s.CVECount = len(lo.Uniq(ids))
	return s
}

// Verdict 一行结论
func (s Summary) Verdict() string {
	critical, high := s.BySeverity[model.SeverityCritical], s.BySeverity[model.SeverityHigh]
	switch {
	case s.Total == 0:
		return "No findings."
	case critical > 0:
		return fmt.Sprintf("%d CRITICAL and %d HIGH findings require immediate attention.", critical, high)
	case high > 0:
		return fmt.Sprintf("%d HIGH findings require attention.", high)
	default:
		return fmt.Sprintf("%d findings, none critical or high severity.", s.Total)
	}
}

// HasBlocking 是否存在等级不低于 threshold 的发现。UNKNOWN 阈值不阻断
func HasBlocking(findings []model.Finding, threshold model.Severity) bool {
	if threshold == model.SeverityUnknown {
		return false
	}
	return lo.SomeBy(findings, func(f model.Finding) bool {
		return f.EffectiveSeverity().SortKey() <= threshold.SortKey()
	})
}
