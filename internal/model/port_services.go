package model

import "sort"

// ServiceInfo 服务信息
type ServiceInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CommonPorts 默认扫描的常见端口映射
var CommonPorts = map[int]ServiceInfo{
	21:    {"FTP", "文件传输协议"},
	22:    {"SSH", "安全外壳协议"},
	23:    {"Telnet", "远程登录协议"},
	25:    {"SMTP", "简单邮件传输协议"},
	53:    {"DNS", "域名系统"},
	80:    {"HTTP", "网页服务器"},
	110:   {"POP3", "邮局协议第3版"},
	143:   {"IMAP", "互联网消息访问协议"},
	389:   {"LDAP", "轻量级目录访问协议"},
	443:   {"HTTPS", "安全网页服务器"},
	445:   {"SMB", "服务器消息块"},
	1433:  {"MSSQL", "微软SQL Server"},
	1521:  {"Oracle", "Oracle数据库"},
	2375:  {"Docker-API", "Docker远程API"},
	2376:  {"Docker-TLS", "Docker远程API (TLS)"},
	3306:  {"MySQL", "数据库"},
	3389:  {"RDP", "远程桌面协议"},
	5432:  {"PostgreSQL", "数据库"},
	5672:  {"RabbitMQ", "AMQP消息队列"},
	5900:  {"VNC", "虚拟网络计算"},
	6379:  {"Redis", "数据库"},
	8080:  {"HTTP-Alt", "备用HTTP"},
	8443:  {"HTTPS-Alt", "备用HTTPS"},
	9200:  {"Elasticsearch", "搜索与分析引擎"},
	9300:  {"Elasticsearch-Cluster", "Elasticsearch集群传输"},
	10250: {"Kubelet", "Kubernetes节点代理"},
	11211: {"Memcached", "缓存服务"},
	27017: {"MongoDB", "NoSQL数据库"},
	27018: {"MongoDB", "NoSQL数据库 (分片)"},
	50070: {"Hadoop-NameNode", "Hadoop管理界面"},
}

// CommonPortsList 返回排序后的常见端口列表
func CommonPortsList() []int {
	ports := make([]int, 0, len(CommonPorts))
	for port := range CommonPorts {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// ServiceName 返回端口对应的服务名，未知端口返回 "Unknown"
func ServiceName(port int) string {
	if info, ok := CommonPorts[port]; ok {
		return info.Name
	}
	return "Unknown"
}
