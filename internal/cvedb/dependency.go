package cvedb

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"vulnscan/internal/model"
	"vulnscan/internal/utils"
)

// Dependency 一个待检查的第三方包
type Dependency struct {
	Name      string
	Version   string
	Ecosystem string
	// Location 依赖声明所在的位置，如 requirements.txt:12
	Location string
}

// ParseDependency 解析 name@version，支持 @scope/pkg@1.0.0 形式
func ParseDependency(s, ecosystem string) (Dependency, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndex(s, "@")
	if i <= 0 || i == len(s)-1 {
		return Dependency{}, xerrors.Errorf("依赖格式应为 name@version: %q", s)
	}
	if strings.TrimSpace(ecosystem) == "" {
		return Dependency{}, xerrors.Errorf("未指定生态系统: %q", s)
	}
	return Dependency{
		Name:      s[:i],
		Version:   s[i+1:],
		Ecosystem: ecosystem,
	}, nil
}

// DependencyFindings 每个受已知漏洞影响的依赖生成一条发现，基线等级为 UNKNOWN
func DependencyFindings(ctx context.Context, c *Correlator, deps []Dependency) []model.Finding {
	var findings []model.Finding
	for _, dep := range deps {
		if ctx.Err() != nil {
			break
		}

		refs := c.ForPackage(ctx, dep.Name, dep.Version, dep.Ecosystem)
		if len(refs) == 0 {
			continue
		}

		ids := lo.Map(refs, func(r model.CVEReference, _ int) string { return r.ID })
		location := dep.Location
		if location == "" {
			location = fmt.Sprintf("%s:%s@%s", dep.Ecosystem, dep.Name, dep.Version)
		}

		f := model.Finding{
			Title:       fmt.Sprintf("Vulnerable Dependency — %s %s", dep.Name, dep.Version),
			Description: fmt.Sprintf("%s %s is affected by %d known vulnerabilities: %s", dep.Name, dep.Version, len(refs), strings.Join(ids, ", ")),
			Scanner:     model.ScannerDependency,
			Severity:    model.SeverityUnknown,
			Location:    location,
			Remediation: upgradeAdvice(dep.Name, refs),
		}
		findings = append(findings, f.WithCVERefs(refs))
	}
	return findings
}

// CVEFindings 为显式给出的CVE编号生成发现，找不到的编号被跳过
func CVEFindings(ctx context.Context, c *Correlator, ids []string) []model.Finding {
	logger := utils.NewLogger("correlator")

	var findings []model.Finding
	for _, id := range lo.Uniq(ids) {
		if ctx.Err() != nil {
			break
		}
		id = strings.ToUpper(strings.TrimSpace(id))
		if !model.IsCVEID(id) {
			logger.Warn("无效的CVE编号: %q", id)
			continue
		}

		ref, ok := c.ForCVE(ctx, id)
		if !ok {
			logger.Warn("未找到 %s", id)
			continue
		}

		f := model.Finding{
			Title:       id,
			Description: ref.Description,
			Scanner:     model.ScannerDependency,
			Severity:    model.SeverityUnknown,
			Location:    id,
			Remediation: fmt.Sprintf("Review %s", ref.NVDURL),
		}
		findings = append(findings, f.WithCVERefs([]model.CVEReference{ref}))
	}
	return findings
}

// upgradeAdvice 建议升级到能修复所有已知漏洞的最低版本
func upgradeAdvice(name string, refs []model.CVEReference) string {
	fixed := lo.FlatMap(refs, func(r model.CVEReference, _ int) []string { return r.FixedVersions })
	fixed = utils.SortVersions(fixed)
	if len(fixed) == 0 {
		return fmt.Sprintf("No fixed version of %s is published yet. Monitor the advisories.", name)
	}
	return fmt.Sprintf("Upgrade %s to %s or later.", name, fixed[len(fixed)-1])
}
