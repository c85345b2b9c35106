package model

import (
	"math"
	"strings"
)

// Severity 风险等级，按 CRITICAL < HIGH < MEDIUM < LOW < INFO < UNKNOWN 排序
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
	SeverityUnknown  Severity = "UNKNOWN"
)

// AllSeverities 按严重程度从高到低
var AllSeverities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
	SeverityUnknown,
}

// SortKey 返回排序键，数值越小越严重
func (s Severity) SortKey() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	default:
		return 5
	}
}

func (s Severity) String() string {
	return string(s)
}

// FromScore 根据CVSS分数计算风险等级，nil 表示没有分数
func FromScore(score *float64) Severity {
	if score == nil {
		return SeverityUnknown
	}

	s := *score
	switch {
	case math.IsNaN(s):
		return SeverityInfo
	case s >= 9.0:
		return SeverityCritical
	case s >= 7.0:
		return SeverityHigh
	case s >= 4.0:
		return SeverityMedium
	case s > 0:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Score 返回分数指针，方便构造可选分数
func Score(v float64) *float64 {
	return &v
}

// Worst 返回两者中更严重的一个
func Worst(a, b Severity) Severity {
	if b.SortKey() < a.SortKey() {
		return b
	}
	return a
}

// ParseSeverity 解析显式的等级标签（不区分大小写）
func ParseSeverity(label string) Severity {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH":
		return SeverityHigh
	case "MEDIUM", "MODERATE":
		return SeverityMedium
	case "LOW":
		return SeverityLow
	case "INFO", "NONE":
		return SeverityInfo
	default:
		return SeverityUnknown
	}
}
