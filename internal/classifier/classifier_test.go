package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vulnscan/internal/model"
)

func TestClassifyDangerousService(t *testing.T) {
	findings := Classify("10.0.0.5", 6379, "Redis", "")

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "Redis Exposed Without Authentication [10.0.0.5:6379]", f.Title)
	assert.Equal(t, model.SeverityHigh, f.Severity)
	assert.Equal(t, model.ScannerNetwork, f.Scanner)
	assert.Equal(t, "10.0.0.5:6379", f.Location)
	assert.Empty(t, f.Evidence)
	assert.NotEmpty(t, f.Remediation)
}

func TestClassifyDangerousWinsOverPlaintext(t *testing.T) {
	findings := Classify("10.0.0.5", 23, "Telnet", "login:")

	require.Len(t, findings, 1)
	assert.Equal(t, "Telnet Service Exposed [10.0.0.5:23]", findings[0].Title)
	assert.Equal(t, model.SeverityCritical, findings[0].Severity)
	assert.Equal(t, "login:", findings[0].Evidence)
}

func TestClassifyPlaintext(t *testing.T) {
	findings := Classify("10.0.0.5", 80, "HTTP", "HTTP/1.0 200 OK\r\nServer: nginx/1.18.0")

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "Plaintext Protocol — HTTP [10.0.0.5:80]", f.Title)
	assert.Equal(t, model.SeverityMedium, f.Severity)
	assert.Equal(t, "HTTP transmits data unencrypted", f.Description)
	_, _, fingerprinted := f.FingerprintOf()
	assert.False(t, fingerprinted)
}

func TestClassifyFingerprint(t *testing.T) {
	findings := Classify("10.0.0.5", 22, "SSH", "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1")

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "OpenSSH 8.9p1 Fingerprinted", f.Title)
	assert.Equal(t, model.SeverityInfo, f.Severity)
	assert.Equal(t, "OpenSSH 8.9p1 detected — verify no known CVEs apply.", f.Description)
	assert.Equal(t, "OpenSSH", f.Product)
	assert.Equal(t, "8.9p1", f.Version)
	assert.Equal(t,
		"Review NVD: https://nvd.nist.gov/vuln/search/results?query=OpenSSH+8.9p1&results_type=overview\nKeep OpenSSH updated.",
		f.Remediation)
}

func TestClassifyOpenPort(t *testing.T) {
	findings := Classify("10.0.0.5", 3306, "MySQL", "")

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "Open Port — 3306/MySQL [10.0.0.5]", f.Title)
	assert.Equal(t, "Port 3306 (MySQL) is open.", f.Description)
	assert.Equal(t, model.SeverityInfo, f.Severity)
	assert.Empty(t, f.Remediation)
}

func TestClassifyEvidenceTruncated(t *testing.T) {
	long := strings.Repeat("x", 1000)

	assert.Len(t, Classify("h", 6379, "Redis", long)[0].Evidence, dangerousEvidenceLimit)
	assert.Len(t, Classify("h", 80, "HTTP", long)[0].Evidence, evidenceLimit)
	assert.Len(t, Classify("h", 12345, "Unknown", long)[0].Evidence, evidenceLimit)
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		banner  string
		product string
		version string
		ok      bool
	}{
		{"SSH-2.0-OpenSSH_7.4", "OpenSSH", "7.4", true},
		{"HTTP/1.1 200 OK\r\nServer: Apache/2.4.49 (Unix)", "Apache httpd", "2.4.49", true},
		{"HTTP/1.1 200 OK\r\nServer: nginx/1.18.0", "nginx", "1.18.0", true},
		{"220 ProFTPD 1.3.5 Server ready", "ProFTPD", "1.3.5", true},
		{"220 (vsFTPd 3.0.3)", "", "", false},
		{"220 Welcome vsftpd 3.0.3", "vsftpd", "3.0.3", true},
		{"Server: nginx", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		product, version, ok := Fingerprint(tt.banner)
		assert.Equal(t, tt.ok, ok, tt.banner)
		assert.Equal(t, tt.product, product, tt.banner)
		assert.Equal(t, tt.version, version, tt.banner)
	}
}

func TestNVDSearchURLEscapesProduct(t *testing.T) {
	assert.Equal(t,
		"https://nvd.nist.gov/vuln/search/results?query=Apache+httpd+2.4.49&results_type=overview",
		NVDSearchURL("Apache httpd", "2.4.49"))
}

func TestTablesOverlap(t *testing.T) {
	assert.Contains(t, dangerousServices, 23)
	assert.Contains(t, plaintextProtocols, 23)
	assert.NotContains(t, dangerousServices, 80)
	assert.Contains(t, plaintextProtocols, 80)
	assert.NotContains(t, plaintextProtocols, 22)
}
