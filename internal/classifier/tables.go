package classifier

import (
	"regexp"

	"vulnscan/internal/model"
)

// dangerousService 一旦暴露就应报告的高风险服务
type dangerousService struct {
	Title       string
	Severity    model.Severity
	Description string
	Remediation string
}

var dangerousServices = map[int]dangerousService{
	23: {
		Title:       "Telnet Service Exposed",
		Severity:    model.SeverityCritical,
		Description: "Telnet transmits all data including credentials in plaintext",
		Remediation: "Disable Telnet. Use SSH for remote access.",
	},
	2375: {
		Title:       "Unauthenticated Docker API Exposed",
		Severity:    model.SeverityCritical,
		Description: "Unauthenticated Docker API allows full container and host takeover",
		Remediation: "Disable TCP Docker socket or enable TLS client auth (--tlsverify).",
	},
	6379: {
		Title:       "Redis Exposed Without Authentication",
		Severity:    model.SeverityHigh,
		Description: "Redis without a password allows arbitrary data access and can lead to RCE via config rewrite",
		Remediation: "Bind to 127.0.0.1, set requirepass, use firewall rules.",
	},
	11211: {
		Title:       "Memcached Exposed",
		Severity:    model.SeverityHigh,
		Description: "Exposed Memcached allows cache poisoning, data exfiltration and DDoS amplification",
		Remediation: "Bind Memcached to 127.0.0.1. Use SASL authentication.",
	},
	27017: {
		Title:       "MongoDB Exposed Without Authentication",
		Severity:    model.SeverityHigh,
		Description: "MongoDB without authentication allows unrestricted read/write to all databases",
		Remediation: "Enable authentication, bind to localhost, use network segmentation.",
	},
	27018: {
		Title:       "MongoDB (secondary) Exposed",
		Severity:    model.SeverityHigh,
		Description: "MongoDB replica node exposed without authentication",
		Remediation: "Enable authentication and restrict network access.",
	},
	9200: {
		Title:       "Elasticsearch Exposed",
		Severity:    model.SeverityHigh,
		Description: "Elasticsearch without security enabled allows full index access and RCE",
		Remediation: "Enable xpack.security.enabled: true and bind to localhost.",
	},
	9300: {
		Title:       "Elasticsearch Cluster Transport Exposed",
		Severity:    model.SeverityHigh,
		Description: "Exposed transport layer can allow cluster hijacking",
		Remediation: "Firewall port 9300. Enable TLS on transport layer.",
	},
	10250: {
		Title:       "Kubelet API Exposed",
		Severity:    model.SeverityCritical,
		Description: "Exposed Kubelet API allows container execution and full node compromise",
		Remediation: "Restrict with --anonymous-auth=false and RBAC authorization.",
	},
	50070: {
		Title:       "Hadoop NameNode Web UI Exposed",
		Severity:    model.SeverityHigh,
		Description: "Exposed NameNode allows filesystem browsing and data exfiltration",
		Remediation: "Restrict Hadoop management interfaces to trusted networks only.",
	},
	5900: {
		Title:       "VNC Remote Desktop Exposed",
		Severity:    model.SeverityHigh,
		Description: "VNC exposure allows remote desktop access, often with weak authentication",
		Remediation: "Tunnel VNC over SSH. Restrict access with firewall rules.",
	},
	389: {
		Title:       "LDAP Exposed (Plaintext)",
		Severity:    model.SeverityMedium,
		Description: "LDAP on port 389 transmits directory queries and credentials in plaintext",
		Remediation: "Use LDAPS (636) or STARTTLS.",
	},
	445: {
		Title:       "SMB Exposed",
		Severity:    model.SeverityMedium,
		Description: "SMB exposure enables lateral movement and EternalBlue exploitation",
		Remediation: "Block SMB at perimeter. Keep systems patched against MS17-010.",
	},
	1433: {
		Title:       "MSSQL Exposed",
		Severity:    model.SeverityMedium,
		Description: "MSSQL exposed to the network, risk of brute-force and exploitation",
		Remediation: "Restrict MSSQL access to application servers only.",
	},
	1521: {
		Title:       "Oracle DB Exposed",
		Severity:    model.SeverityMedium,
		Description: "Oracle listener exposed, risk of brute-force and exploitation",
		Remediation: "Restrict Oracle listener to trusted application servers only.",
	},
	5672: {
		Title:       "RabbitMQ AMQP Exposed",
		Severity:    model.SeverityMedium,
		Description: "Exposed RabbitMQ may allow message injection or queue hijacking",
		Remediation: "Restrict access. Change default credentials.",
	},
}

// plaintextProtocol 明文传输协议
type plaintextProtocol struct {
	Description string
	Remediation string
}

var plaintextProtocols = map[int]plaintextProtocol{
	21:  {"FTP transmits credentials in plaintext", "Use SFTP or FTPS instead"},
	23:  {"Telnet transmits all traffic in plaintext", "Use SSH instead"},
	25:  {"SMTP without TLS transmits email in plaintext", "Enforce STARTTLS or SMTPS"},
	80:  {"HTTP transmits data unencrypted", "Use HTTPS (port 443)"},
	110: {"POP3 transmits credentials in plaintext", "Use POP3S (995) or IMAPS"},
	143: {"IMAP transmits credentials in plaintext", "Use IMAPS (993)"},
	389: {"LDAP transmits directory queries in plaintext", "Use LDAPS (636) or STARTTLS"},
}

// signature banner版本指纹，按顺序匹配，第一个命中的生效
type signature struct {
	Pattern *regexp.Regexp
	Product string
}

var versionSignatures = []signature{
	{regexp.MustCompile(`SSH-2\.0-OpenSSH_([0-9]+\.[0-9]+[p0-9]*)`), "OpenSSH"},
	{regexp.MustCompile(`Server:\s*Apache/([0-9]+\.[0-9]+\.[0-9]+)`), "Apache httpd"},
	{regexp.MustCompile(`Server:\s*nginx/([0-9]+\.[0-9]+\.[0-9]+)`), "nginx"},
	{regexp.MustCompile(`220.*ProFTPD\s+([0-9]+\.[0-9]+\.[0-9]+)`), "ProFTPD"},
	{regexp.MustCompile(`220.*vsftpd\s+([0-9]+\.[0-9]+\.[0-9]+)`), "vsftpd"},
}
