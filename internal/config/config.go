// Package config 读取扫描配置：YAML 文件、环境变量、命令行依次覆盖
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"vulnscan/internal/model"
)

// APIKeyEnv NVD API 密钥的环境变量名
const APIKeyEnv = "NVD_API_KEY"

// Config 一次运行的全部配置
type Config struct {
	Targets   []string `yaml:"targets"`
	Ports     string   `yaml:"ports"`
	Timeout   Duration `yaml:"timeout"`
	Workers   int      `yaml:"workers"`
	HostLimit int      `yaml:"host_parallelism"`

	Enrich       bool     `yaml:"enrich"`
	NVDAPIKey    string   `yaml:"nvd_api_key"`
	Cooldown     Duration `yaml:"nvd_cooldown"`
	KeywordLimit int      `yaml:"keyword_limit"`
	OSVRate      float64  `yaml:"osv_rps"`
	MITRERate    float64  `yaml:"mitre_rps"`

	CachePath   string   `yaml:"cache_path"`
	CacheMaxAge Duration `yaml:"cache_max_age"`

	Format string `yaml:"format"`
	Output string `yaml:"output"`
	FailOn string `yaml:"fail_on"`
}

// Duration 支持 "1.5s" 这类写法的时长
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return xerrors.Errorf("无效的时长 %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default 默认配置
func Default() Config {
	return Config{
		Timeout:      Duration(1500 * time.Millisecond),
		Workers:      64,
		HostLimit:    1,
		Cooldown:     Duration(30 * time.Second),
		KeywordLimit: 20,
		Format:       "text",
	}
}

// Load 读取配置文件，path 为空时只使用默认值。之后应用环境变量
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := fs.Open(path)
		if err != nil {
			return cfg, xerrors.Errorf("打开配置文件失败 (%s): %w", path, err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, xerrors.Errorf("解析配置文件失败 (%s): %w", path, err)
		}
	}

	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		cfg.NVDAPIKey = key
	}
	return cfg, nil
}

// Validate 检查取值范围
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return xerrors.Errorf("超时时间必须大于0: %s", c.Timeout.Std())
	}
	if c.Workers < 1 {
		return xerrors.Errorf("并发数必须大于0: %d", c.Workers)
	}
	if c.HostLimit < 1 {
		return xerrors.Errorf("主机并行数必须大于0: %d", c.HostLimit)
	}
	if c.OSVRate < 0 || c.MITRERate < 0 {
		return xerrors.New("请求速率不能为负数")
	}
	// 缓存按整秒比较时间，不足一秒会让所有条目立即过期；0 表示不过期
	if c.CacheMaxAge != 0 && c.CacheMaxAge.Std() < time.Second {
		return xerrors.Errorf("缓存有效期不能小于1秒: %s", c.CacheMaxAge.Std())
	}
	switch c.Format {
	case "text", "json", "csv":
	default:
		return xerrors.Errorf("不支持的输出格式: %q", c.Format)
	}
	if c.FailOn != "" && model.ParseSeverity(c.FailOn) == model.SeverityUnknown {
		return xerrors.Errorf("无效的阈值等级: %q", c.FailOn)
	}
	return nil
}
