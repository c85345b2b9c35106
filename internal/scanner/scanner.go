package scanner

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vulnscan/internal/classifier"
	"vulnscan/internal/model"
	"vulnscan/internal/utils"
)

// Enricher 为指纹识别出的产品补充CVE信息
type Enricher interface {
	ForProduct(ctx context.Context, product, version string) []model.CVEReference
}

// Request 一次网络扫描请求
type Request struct {
	Targets []string
	// Ports 为空时扫描常见端口
	Ports   []int
	Timeout time.Duration
	// Progress 每完成一个主机调用一次，调用是串行的
	Progress func(host string)
}

// Scanner 多主机网络扫描器
type Scanner struct {
	workers         int
	hostParallelism int
	enricher        Enricher
	dial            DialFunc
	logger          *utils.Logger
}

// Option 扫描器选项
type Option func(*Scanner)

// WithPortWorkers 单主机探测的并发宽度
func WithPortWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithHostParallelism 同时扫描的主机数，默认 1
func WithHostParallelism(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.hostParallelism = n
		}
	}
}

// WithEnricher 设置指纹的CVE补全器
func WithEnricher(e Enricher) Option {
	return func(s *Scanner) {
		s.enricher = e
	}
}

// WithHostDialer 替换拨号函数
func WithHostDialer(dial DialFunc) Option {
	return func(s *Scanner) {
		s.dial = dial
	}
}

func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		workers:         DefaultWorkers,
		hostParallelism: 1,
		logger:          utils.NewLogger("scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan 展开目标并逐个主机探测、分类。结果按主机顺序、端口升序排列。
// ctx 取消时未完成主机的结果被丢弃，返回已完成的部分和 ctx 的错误。
func (s *Scanner) Scan(ctx context.Context, req Request) ([]model.Finding, error) {
	ports := req.Ports
	if len(ports) == 0 {
		ports = model.CommonPortsList()
	}

	hosts := ExpandTargets(req.Targets)
	s.logger.Info("开始扫描 %d 个主机，每个主机 %d 个端口", len(hosts), len(ports))

	opts := []PortScannerOption{WithWorkers(s.workers)}
	if s.dial != nil {
		opts = append(opts, WithDialer(s.dial))
	}
	probe := NewPortScanner(req.Timeout, opts...)

	perHost := make([][]model.Finding, len(hosts))
	done := make([]bool, len(hosts))
	var progressMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.hostParallelism)

	for i, host := range hosts {
		i, host := i, host
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			findings := s.scanHost(gctx, probe, host, ports)
			if gctx.Err() != nil {
				s.logger.Warn("主机 %s 扫描被中断，丢弃部分结果", host)
				return nil
			}

			perHost[i] = findings
			done[i] = true

			if req.Progress != nil {
				progressMu.Lock()
				req.Progress(host)
				progressMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var findings []model.Finding
	completed := 0
	for i := range hosts {
		if !done[i] {
			continue
		}
		completed++
		findings = append(findings, perHost[i]...)
	}
	s.logger.Info("扫描完成: %d/%d 个主机, %d 条发现", completed, len(hosts), len(findings))

	return findings, ctx.Err()
}

func (s *Scanner) scanHost(ctx context.Context, probe *PortScanner, host string, ports []int) []model.Finding {
	logger := s.logger.With("host", host)
	open := probe.ProbeHost(ctx, host, ports)
	logger.Debug("开放端口 %d 个", len(open))

	var findings []model.Finding
	for _, p := range open {
		for _, f := range classifier.Classify(host, p.Port, model.ServiceName(p.Port), p.Banner) {
			findings = append(findings, s.enrich(ctx, logger, f))
		}
	}
	return findings
}

func (s *Scanner) enrich(ctx context.Context, logger *utils.Logger, f model.Finding) model.Finding {
	if s.enricher == nil {
		return f
	}
	product, version, ok := f.FingerprintOf()
	if !ok {
		return f
	}

	refs := s.enricher.ForProduct(ctx, product, version)
	if len(refs) == 0 {
		return f
	}
	logger.Info("%s %s 关联到 %d 个CVE", product, version, len(refs))
	return f.WithCVERefs(refs)
}
