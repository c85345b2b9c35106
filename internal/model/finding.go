package model

import "encoding/json"

// ScannerKind 产生发现的扫描器类型
type ScannerKind string

const (
	ScannerDependency ScannerKind = "dependency"
	ScannerSAST       ScannerKind = "sast"
	ScannerNetwork    ScannerKind = "network"
)

// Finding 单个检测结果。由扫描器创建一次，之后只读
type Finding struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Scanner     ScannerKind    `json:"scanner"`
	Severity    Severity       `json:"severity"`
	Location    string         `json:"location"`
	CVERefs     []CVEReference `json:"cve_refs,omitempty"`
	Remediation string         `json:"remediation,omitempty"`
	Evidence    string         `json:"evidence,omitempty"`
	LineNumber  int            `json:"line_number,omitempty"`

	// 指纹识别出的产品与版本，仅网络扫描使用
	Product string `json:"product,omitempty"`
	Version string `json:"version,omitempty"`
}

// EffectiveSeverity 有CVE时取其中最严重的等级，否则取基线等级
func (f Finding) EffectiveSeverity() Severity {
	if len(f.CVERefs) == 0 {
		return f.Severity
	}

	worst := SeverityUnknown
	for _, ref := range f.CVERefs {
		worst = Worst(worst, ref.Severity)
	}
	return worst
}

// MarshalJSON 额外输出 effective_severity，severity 保持基线等级
func (f Finding) MarshalJSON() ([]byte, error) {
	type plain Finding
	return json.Marshal(struct {
		plain
		EffectiveSeverity Severity `json:"effective_severity"`
	}{plain(f), f.EffectiveSeverity()})
}

// MaxScore 返回关联CVE中的最高分
func (f Finding) MaxScore() *float64 {
	var best *float64
	for _, ref := range f.CVERefs {
		if ref.Score == nil {
			continue
		}
		if best == nil || *ref.Score > *best {
			best = Score(*ref.Score)
		}
	}
	return best
}

// WithCVERefs 返回附带CVE引用的副本，原值不变
func (f Finding) WithCVERefs(refs []CVEReference) Finding {
	out := f
	out.CVERefs = append([]CVEReference(nil), refs...)
	if len(out.CVERefs) == 0 {
		out.CVERefs = nil
	}
	return out
}

// FingerprintOf 返回指纹信息，没有时 ok 为 false
func (f Finding) FingerprintOf() (product, version string, ok bool) {
	if f.Product == "" || f.Version == "" {
		return "", "", false
	}
	return f.Product, f.Version, true
}
