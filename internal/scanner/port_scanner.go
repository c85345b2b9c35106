package scanner

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/xerrors"

	"vulnscan/internal/model"
	"vulnscan/internal/utils"
)

const (
	// DefaultWorkers 单主机探测的并发宽度
	DefaultWorkers = 64
	// DefaultTimeout 连接和读取的默认超时
	DefaultTimeout = 1500 * time.Millisecond
	// bannerReadSize 单次读取banner的最大字节数
	bannerReadSize = 2048
)

// DefaultProbes 连接后先发送的探测包，其余端口只被动读取
var DefaultProbes = map[int][]byte{
	25:   []byte("EHLO vulnscan\r\n"),
	80:   []byte("HEAD / HTTP/1.0\r\nHost: localhost\r\n\r\n"),
	443:  []byte("HEAD / HTTP/1.0\r\nHost: localhost\r\n\r\n"),
	6379: []byte("INFO\r\n"),
	8080: []byte("HEAD / HTTP/1.0\r\nHost: localhost\r\n\r\n"),
	8443: []byte("HEAD / HTTP/1.0\r\nHost: localhost\r\n\r\n"),
}

// OpenPort 一个开放端口及其banner（可能为空）
type OpenPort struct {
	Port   int
	Banner string
}

// DialFunc 建立TCP连接的函数，测试中可替换
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type PortScanner struct {
	timeout time.Duration
	workers int
	probes  map[int][]byte
	dial    DialFunc
	logger  *utils.Logger
}

// PortScannerOption 端口扫描器选项
type PortScannerOption func(*PortScanner)

// WithWorkers 设置并发宽度
func WithWorkers(n int) PortScannerOption {
	return func(ps *PortScanner) {
		if n > 0 {
			ps.workers = n
		}
	}
}

// WithProbes 替换探测包表
func WithProbes(probes map[int][]byte) PortScannerOption {
	return func(ps *PortScanner) {
		ps.probes = probes
	}
}

// WithDialer 替换拨号函数
func WithDialer(dial DialFunc) PortScannerOption {
	return func(ps *PortScanner) {
		ps.dial = dial
	}
}

func NewPortScanner(timeout time.Duration, opts ...PortScannerOption) *PortScanner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ps := &PortScanner{
		timeout: timeout,
		workers: DefaultWorkers,
		probes:  DefaultProbes,
		logger:  utils.NewLogger("scanner"),
	}
	for _, opt := range opts {
		opt(ps)
	}
	if ps.dial == nil {
		dialer := &net.Dialer{Timeout: ps.timeout}
		ps.dial = dialer.DialContext
	}
	return ps
}

// ParsePortRange 解析端口范围，如 "22,80,8000-8100"、"common"、"all"
func ParsePortRange(portRange string) ([]int, error) {
	switch strings.ToLower(strings.TrimSpace(portRange)) {
	case "", "common", "default":
		return model.CommonPortsList(), nil
	case "all":
		allPorts := make([]int, 0, 65535)
		for port := 1; port <= 65535; port++ {
			allPorts = append(allPorts, port)
		}
		return allPorts, nil
	}

	var ports []int
	for _, part := range strings.Split(portRange, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if !strings.Contains(part, "-") {
			port, err := parsePort(part)
			if err != nil {
				return nil, err
			}
			ports = append(ports, port)
			continue
		}

		rangeParts := strings.Split(part, "-")
		if len(rangeParts) != 2 {
			return nil, xerrors.Errorf("无效的端口范围: %s", part)
		}
		start, err := parsePort(rangeParts[0])
		if err != nil {
			return nil, err
		}
		end, err := parsePort(rangeParts[1])
		if err != nil {
			return nil, err
		}
		if start > end {
			return nil, xerrors.Errorf("起始端口不能大于结束端口: %s", part)
		}
		for port := start; port <= end; port++ {
			ports = append(ports, port)
		}
	}

	if len(ports) == 0 {
		return nil, xerrors.Errorf("端口列表为空: %q", portRange)
	}
	return uniqueSorted(ports), nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, xerrors.Errorf("无效的端口号 %q: %w", s, err)
	}
	if port < 1 || port > 65535 {
		return 0, xerrors.Errorf("端口号必须在 1-65535 之间: %d", port)
	}
	return port, nil
}

func uniqueSorted(ports []int) []int {
	seen := make(map[int]bool, len(ports))
	out := make([]int, 0, len(ports))
	for _, port := range ports {
		if !seen[port] {
			seen[port] = true
			out = append(out, port)
		}
	}
	sort.Ints(out)
	return out
}

// ProbePort 探测单个端口。连接失败返回 false；连接成功但读不到数据时返回空banner。
func (ps *PortScanner) ProbePort(ctx context.Context, host string, port int) (OpenPort, bool) {
	address := net.JoinHostPort(host, strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, ps.timeout)
	conn, err := ps.dial(dialCtx, "tcp", address)
	if err != nil && errors.Is(err, syscall.EMFILE) {
		// 文件描述符耗尽，稍等后重试一次
		time.Sleep(50 * time.Millisecond)
		conn, err = ps.dial(dialCtx, "tcp", address)
	}
	cancel()
	if err != nil {
		ps.logger.Debug("端口 %d 连接失败: %v", port, err)
		return OpenPort{}, false
	}
	defer conn.Close()

	banner := ps.grabBanner(conn, port)
	if banner != "" {
		ps.logger.Debug("端口 %d banner: %.100s", port, banner)
	}
	return OpenPort{Port: port, Banner: banner}, true
}

// grabBanner 发送探测包（如有）并读取一次响应
func (ps *PortScanner) grabBanner(conn net.Conn, port int) string {
	if probe, ok := ps.probes[port]; ok {
		_ = conn.SetWriteDeadline(time.Now().Add(ps.timeout))
		if _, err := conn.Write(probe); err != nil {
			ps.logger.Debug("端口 %d 发送探测包失败: %v", port, err)
		}
	}

	// 读取单独计时，写入耗时不占用读取的等待时间
	_ = conn.SetReadDeadline(time.Now().Add(ps.timeout))
	buffer := make([]byte, bannerReadSize)
	n, err := conn.Read(buffer)
	if n == 0 {
		if err != nil {
			ps.logger.Debug("端口 %d 读取失败: %v", port, err)
		}
		return ""
	}

	return strings.TrimSpace(strings.ToValidUTF8(string(buffer[:n]), "\uFFFD"))
}

// ProbeHost 以有限并发探测一个主机的全部端口，结果按端口升序返回。
// ctx 取消后不再分发新的端口。
func (ps *PortScanner) ProbeHost(ctx context.Context, host string, ports []int) []OpenPort {
	if len(ports) == 0 {
		return nil
	}

	workers := ps.workers
	if workers > len(ports) {
		workers = len(ports)
	}

	portChan := make(chan int)
	results := make(chan OpenPort, len(ports))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go ps.worker(ctx, &wg, host, portChan, results)
	}

dispatch:
	for _, port := range ports {
		select {
		case portChan <- port:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(portChan)
	wg.Wait()
	close(results)

	var open []OpenPort
	for result := range results {
		open = append(open, result)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Port < open[j].Port })
	return open
}

func (ps *PortScanner) worker(ctx context.Context, wg *sync.WaitGroup, host string, ports <-chan int, results chan<- OpenPort) {
	defer wg.Done()

	for port := range ports {
		if ctx.Err() != nil {
			continue
		}
		if result, ok := ps.ProbePort(ctx, host, port); ok {
			results <- result
		}
	}
}
