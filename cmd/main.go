package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/afero"

	"vulnscan/internal/aggregate"
	"vulnscan/internal/config"
	"vulnscan/internal/cvedb"
	"vulnscan/internal/model"
	"vulnscan/internal/scanner"
	"vulnscan/internal/utils"
	"vulnscan/pkg/cli"
)

const (
	exitOK       = 0
	exitError    = 1
	exitBlocking = 2
)

// 退出前在调试日志中列出的最近查询数
const recentLookups = 20

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// 解析命令行参数
	parser := cli.NewParser(os.Stderr)
	if err := parser.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		fmt.Fprintf(os.Stderr, "使用 -help 查看完整帮助信息\n")
		return exitError
	}
	options := parser.Options
	utils.SetVerbose(options.Verbose)
	logger := utils.NewLogger("main")

	fs := afero.NewOsFs()
	cfg, err := config.Load(fs, options.ConfigPath)
	if err != nil {
		logger.Error("%v", err)
		return exitError
	}
	options.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error("%v", err)
		return exitError
	}

	if len(cfg.Targets) == 0 && len(options.CVEs) == 0 && len(options.Packages) == 0 {
		fmt.Fprintf(os.Stderr, "错误: 必须指定 -target、-package 或 -cve\n")
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("启动 vulnscan v1.0")
	startTime := time.Now()

	correlator, closeCache, err := buildCorrelator(cfg)
	if err != nil {
		logger.Error("%v", err)
		return exitError
	}
	defer closeCache()

	var findings []model.Finding

	if len(cfg.Targets) > 0 {
		ports, err := scanner.ParsePortRange(cfg.Ports)
		if err != nil {
			logger.Error("解析端口范围失败: %v", err)
			return exitError
		}
		networkFindings, err := scanTargets(ctx, cfg, ports, correlator)
		findings = append(findings, networkFindings...)
		if err != nil {
			logger.Warn("扫描被中断: %v", err)
		}
	}

	if len(options.Packages) > 0 {
		var deps []cvedb.Dependency
		for _, arg := range options.Packages {
			dep, err := cvedb.ParseDependency(arg, options.Ecosystem)
			if err != nil {
				logger.Error("%v", err)
				return exitError
			}
			deps = append(deps, dep)
		}
		logger.Info("检查 %d 个依赖 (%s)", len(deps), options.Ecosystem)
		findings = append(findings, cvedb.DependencyFindings(ctx, correlator, deps)...)
	}

	if len(options.CVEs) > 0 {
		findings = append(findings, cvedb.CVEFindings(ctx, correlator, options.CVEs)...)
	}

	// 输出结果
	report := cli.NewReport(cfg.Targets, time.Since(startTime).Round(time.Millisecond).String(), findings)
	formatter := cli.NewOutputFormatter(cfg.Format, cli.WithFs(fs), cli.WithVerbose(options.Verbose))
	if err := formatter.PrintResult(report, cfg.Output); err != nil {
		logger.Error("输出结果失败: %v", err)
		return exitError
	}
	if cfg.Output != "" {
		logger.Info("结果已写入 %s", cfg.Output)
	}

	logger.Info("完成，共 %d 个发现，总耗时: %v", len(findings), time.Since(startTime).Round(time.Millisecond))

	if cfg.FailOn != "" && aggregate.HasBlocking(findings, model.ParseSeverity(cfg.FailOn)) {
		logger.Warn("存在 %s 及以上等级的发现", model.ParseSeverity(cfg.FailOn))
		return exitBlocking
	}
	return exitOK
}

// buildCorrelator 创建三个数据源的客户端，按配置打开缓存
func buildCorrelator(cfg config.Config) (*cvedb.Correlator, func(), error) {
	logger := utils.NewLogger("main")

	nvd := cvedb.NewNVDClient(
		cvedb.WithAPIKey(cfg.NVDAPIKey),
		cvedb.WithCooldown(cfg.Cooldown.Std()),
	)
	if cfg.NVDAPIKey == "" {
		logger.Info("未设置 %s，NVD 请求间隔 %v", config.APIKeyEnv, nvd.Interval())
	}
	mitre := cvedb.NewMITREClient(cvedb.WithThrottle(cfg.MITRERate))
	osv := cvedb.NewOSVClient(cvedb.WithThrottle(cfg.OSVRate))

	opts := []cvedb.CorrelatorOption{cvedb.WithKeywordLimit(cfg.KeywordLimit)}
	closeCache := func() {}
	if cfg.CachePath != "" {
		cache, err := cvedb.NewCache(cfg.CachePath, cfg.CacheMaxAge.Std())
		if err != nil {
			return nil, nil, err
		}
		if n, err := cache.Count(); err == nil {
			logger.Debug("缓存 %s 中已有 %d 条CVE", cfg.CachePath, n)
		}
		opts = append(opts, cvedb.WithCache(cache))
		closeCache = func() {
			if history, err := cache.History(recentLookups); err == nil {
				for _, r := range history {
					logger.Debug("查询记录 %s  %s  %s", r.LookedUpAt, r.Source, r.CVEID)
				}
			}
			cache.Close()
		}
	}

	return cvedb.NewCorrelator(nvd, mitre, osv, opts...), closeCache, nil
}

// scanTargets 网络扫描，进度条按主机推进
func scanTargets(ctx context.Context, cfg config.Config, ports []int, correlator *cvedb.Correlator) ([]model.Finding, error) {
	opts := []scanner.Option{
		scanner.WithPortWorkers(cfg.Workers),
		scanner.WithHostParallelism(cfg.HostLimit),
	}
	if cfg.Enrich {
		opts = append(opts, scanner.WithEnricher(correlator))
	}

	bar := pb.StartNew(len(scanner.ExpandTargets(cfg.Targets)))
	defer bar.Finish()

	return scanner.NewScanner(opts...).Scan(ctx, scanner.Request{
		Targets:  cfg.Targets,
		Ports:    ports,
		Timeout:  cfg.Timeout.Std(),
		Progress: func(string) { bar.Increment() },
	})
}
