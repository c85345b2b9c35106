// Package classifier 根据端口号和banner把一个开放端口归类为一条发现。
// 规则按优先级依次尝试：高风险服务、明文协议、版本指纹、普通开放端口。
package classifier

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"vulnscan/internal/model"
)

const (
	dangerousEvidenceLimit = 300
	evidenceLimit          = 200
)

// Classify 为一个开放端口生成发现，恰好返回一条
func Classify(host string, port int, service, banner string) []model.Finding {
	location := net.JoinHostPort(host, strconv.Itoa(port))

	if svc, ok := dangerousServices[port]; ok {
		return []model.Finding{{
			Title:       fmt.Sprintf("%s [%s]", svc.Title, location),
			Description: svc.Description,
			Scanner:     model.ScannerNetwork,
			Severity:    svc.Severity,
			Location:    location,
			Evidence:    truncate(banner, dangerousEvidenceLimit),
			Remediation: svc.Remediation,
		}}
	}

	if proto, ok := plaintextProtocols[port]; ok {
		return []model.Finding{{
			Title:       fmt.Sprintf("Plaintext Protocol — %s [%s]", service, location),
			Description: proto.Description,
			Scanner:     model.ScannerNetwork,
			Severity:    model.SeverityMedium,
			Location:    location,
			Evidence:    truncate(banner, evidenceLimit),
			Remediation: proto.Remediation,
		}}
	}

	if product, version, ok := Fingerprint(banner); ok {
		return []model.Finding{{
			Title:       fmt.Sprintf("%s %s Fingerprinted", product, version),
			Description: fmt.Sprintf("%s %s detected — verify no known CVEs apply.", product, version),
			Scanner:     model.ScannerNetwork,
			Severity:    model.SeverityInfo,
			Location:    location,
			Evidence:    truncate(banner, evidenceLimit),
			Remediation: fmt.Sprintf("Review NVD: %s\nKeep %s updated.", NVDSearchURL(product, version), product),
			Product:     product,
			Version:     version,
		}}
	}

	return []model.Finding{{
		Title:       fmt.Sprintf("Open Port — %d/%s [%s]", port, service, host),
		Description: fmt.Sprintf("Port %d (%s) is open.", port, service),
		Scanner:     model.ScannerNetwork,
		Severity:    model.SeverityInfo,
		Location:    location,
		Evidence:    truncate(banner, evidenceLimit),
	}}
}

// Fingerprint 从banner中识别产品和版本
func Fingerprint(banner string) (product, version string, ok bool) {
	if banner == "" {
		return "", "", false
	}
	for _, sig := range versionSignatures {
		if m := sig.Pattern.FindStringSubmatch(banner); m != nil {
			return sig.Product, m[1], true
		}
	}
	return "", "", false
}

// NVDSearchURL NVD关键字搜索页面
func NVDSearchURL(product, version string) string {
	return "https://nvd.nist.gov/vuln/search/results?query=" +
		url.QueryEscape(product) + "+" + url.QueryEscape(version) +
		"&results_type=overview"
}

// truncate 按字符截断，不切断多字节字符
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
