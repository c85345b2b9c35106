package model

import (
	"fmt"
	"regexp"
)

const (
	nvdDetailURL   = "https://nvd.nist.gov/vuln/detail/%s"
	mitreRecordURL = "https://www.cve.org/CVERecord?id=%s"
)

var cveIDPattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// CVEReference 归一化后的单条漏洞记录，构造后不再修改
type CVEReference struct {
	ID            string   `json:"cve_id"`
	Description   string   `json:"description"`
	Score         *float64 `json:"cvss_score,omitempty"`
	Vector        string   `json:"cvss_vector,omitempty"`
	Severity      Severity `json:"severity"`
	NVDURL        string   `json:"nvd_url"`
	MITREURL      string   `json:"mitre_url"`
	Published     string   `json:"published,omitempty"`
	FixedVersions []string `json:"fixed_versions,omitempty"`
	CWEs          []string `json:"cwes,omitempty"`
}

// CVEFields 构造 CVEReference 的输入
type CVEFields struct {
	Description   string
	Score         *float64
	Vector        string
	Published     string
	FixedVersions []string
	CWEs          []string
}

// NewCVEReference 根据分数推导等级并填充两个注册中心的链接
func NewCVEReference(id string, f CVEFields) CVEReference {
	ref := CVEReference{
		ID:          id,
		Description: f.Description,
		Vector:      f.Vector,
		Severity:    FromScore(f.Score),
		NVDURL:      NVDURL(id),
		MITREURL:    MITREURL(id),
		Published:   f.Published,
	}
	if f.Score != nil {
		ref.Score = Score(*f.Score)
	}
	if len(f.FixedVersions) > 0 {
		ref.FixedVersions = append([]string(nil), f.FixedVersions...)
	}
	if len(f.CWEs) > 0 {
		ref.CWEs = append([]string(nil), f.CWEs...)
	}
	return ref
}

// IsCVEID 检查标识符格式 CVE-YYYY-NNNN+
func IsCVEID(id string) bool {
	return cveIDPattern.MatchString(id)
}

func NVDURL(id string) string {
	return fmt.Sprintf(nvdDetailURL, id)
}

func MITREURL(id string) string {
	return fmt.Sprintf(mitreRecordURL, id)
}
