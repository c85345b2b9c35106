package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"vulnscan/internal/config"
)

// listFlag 可重复、逗号分隔的参数
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// Options 命令行参数
type Options struct {
	ConfigPath string
	Targets    listFlag
	Ports      string
	Timeout    time.Duration
	Threads    int
	Hosts      int
	Enrich     bool
	CVEs       listFlag
	Packages   listFlag
	Ecosystem  string
	Format     string
	Output     string
	FailOn     string
	Cache      string
	Verbose    bool

	// 显式给出的参数名，只有这些参数覆盖配置文件
	set map[string]bool
}

type Parser struct {
	Options Options
	fs      *flag.FlagSet
}

func NewParser(out io.Writer) *Parser {
	p := &Parser{fs: flag.NewFlagSet("vulnscan", flag.ContinueOnError)}
	p.fs.SetOutput(out)

	o := &p.Options
	p.fs.StringVar(&o.ConfigPath, "config", "", "YAML配置文件")
	p.fs.Var(&o.Targets, "target", "目标IP、CIDR或主机名，逗号分隔，可重复")
	p.fs.StringVar(&o.Ports, "ports", "", "端口范围 (如: 1-1000,80,443 或 all)，默认常见端口")
	p.fs.DurationVar(&o.Timeout, "timeout", 1500*time.Millisecond, "连接超时时间")
	p.fs.IntVar(&o.Threads, "threads", 64, "每个主机的并发连接数")
	p.fs.IntVar(&o.Hosts, "hosts", 1, "同时扫描的主机数")
	p.fs.BoolVar(&o.Enrich, "enrich", false, "用NVD查询指纹识别出的服务版本")
	p.fs.Var(&o.CVEs, "cve", "直接查询的CVE编号，逗号分隔")
	p.fs.Var(&o.Packages, "package", "检查的依赖 name@version，逗号分隔")
	p.fs.StringVar(&o.Ecosystem, "ecosystem", "PyPI", "依赖所属生态系统 (PyPI, npm, Go, Maven ...)")
	p.fs.StringVar(&o.Format, "format", "text", "输出格式 (text, json, csv)")
	p.fs.StringVar(&o.Output, "output", "", "输出文件")
	p.fs.StringVar(&o.FailOn, "fail-on", "", "存在该等级及以上的发现时退出码为2")
	p.fs.StringVar(&o.Cache, "cache", "", "CVE查询缓存的sqlite路径")
	p.fs.BoolVar(&o.Verbose, "verbose", false, "显示详细信息")
	p.fs.Usage = p.printHelp

	return p
}

// Parse 解析参数。-help 时返回 flag.ErrHelp
func (p *Parser) Parse(args []string) error {
	if err := p.fs.Parse(args); err != nil {
		return err
	}

	p.Options.set = make(map[string]bool)
	p.fs.Visit(func(f *flag.Flag) { p.Options.set[f.Name] = true })

	if p.fs.NArg() > 0 {
		return xerrors.Errorf("未知参数: %s", strings.Join(p.fs.Args(), " "))
	}
	return nil
}

// Apply 把显式给出的参数覆盖到配置上
func (o Options) Apply(cfg *config.Config) {
	if o.set["target"] {
		cfg.Targets = append([]string(nil), o.Targets...)
	}
	if o.set["ports"] {
		cfg.Ports = o.Ports
	}
	if o.set["timeout"] {
		cfg.Timeout = config.Duration(o.Timeout)
	}
	if o.set["threads"] {
		cfg.Workers = o.Threads
	}
	if o.set["hosts"] {
		cfg.HostLimit = o.Hosts
	}
	if o.set["enrich"] {
		cfg.Enrich = o.Enrich
	}
	if o.set["format"] {
		cfg.Format = strings.ToLower(o.Format)
	}
	if o.set["output"] {
		cfg.Output = o.Output
	}
	if o.set["fail-on"] {
		cfg.FailOn = o.FailOn
	}
	if o.set["cache"] {
		cfg.CachePath = o.Cache
	}
}

func (p *Parser) printHelp() {
	w := p.fs.Output()
	fmt.Fprintln(w, "vulnscan - 端口扫描与多源CVE关联工具")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "使用方法: vulnscan [选项]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "选项:")
	p.fs.PrintDefaults()
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "环境变量:")
	fmt.Fprintf(w, "  %s   NVD API密钥，请求间隔从6.1秒降到0.6秒\n", config.APIKeyEnv)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "示例:")
	fmt.Fprintln(w, "  vulnscan -target 192.168.1.0/24 -ports 1-1000 -hosts 8")
	fmt.Fprintln(w, "  vulnscan -target example.com -ports 22,80,443 -enrich -format json -output result.json")
	fmt.Fprintln(w, "  vulnscan -package jinja2@2.4.1 -ecosystem PyPI -fail-on high")
	fmt.Fprintln(w, "  vulnscan -cve CVE-2021-44228")
}
