package cvedb

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"vulnscan/internal/utils"
)

const (
	nvdBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	// NVDCooldown 收到429后重试前的冷却时间
	NVDCooldown = 30 * time.Second
	// DefaultKeywordLimit 关键字搜索最多返回的记录数
	DefaultKeywordLimit = 20
)

// NVD评分字段，按优先级从新到旧
var nvdMetricKeys = []string{"cvssMetricV40", "cvssMetricV31", "cvssMetricV30", "cvssMetricV2"}

// NVDClient NVD API 2.0 客户端。所有请求经过限速器，429 冷却后重试一次
type NVDClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *RateLimiter
	cooldown   time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *utils.Logger
}

// NVDOption NVD客户端选项
type NVDOption func(*NVDClient)

// WithNVDBaseURL 替换API地址
func WithNVDBaseURL(u string) NVDOption {
	return func(c *NVDClient) { c.baseURL = u }
}

// WithNVDHTTPClient 替换HTTP客户端
func WithNVDHTTPClient(hc *http.Client) NVDOption {
	return func(c *NVDClient) { c.httpClient = hc }
}

// WithAPIKey 设置API Key，同时缩短默认请求间隔
func WithAPIKey(key string) NVDOption {
	return func(c *NVDClient) { c.apiKey = strings.TrimSpace(key) }
}

// WithRateLimiter 共享或替换限速器
func WithRateLimiter(l *RateLimiter) NVDOption {
	return func(c *NVDClient) { c.limiter = l }
}

// WithCooldown 设置429后的冷却时间
func WithCooldown(d time.Duration) NVDOption {
	return func(c *NVDClient) { c.cooldown = d }
}

// NewNVDClient 创建NVD客户端
func NewNVDClient(opts ...NVDOption) *NVDClient {
	c := &NVDClient{
		baseURL:    nvdBaseURL,
		httpClient: newHTTPClient(nvdHTTPTimeout),
		cooldown:   NVDCooldown,
		sleep:      sleepContext,
		logger:     utils.NewLogger("nvd-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(NVDInterval(c.apiKey != ""))
	}
	return c
}

// Interval 实际使用的请求间隔
func (c *NVDClient) Interval() time.Duration {
	return c.limiter.Interval()
}

// NVDInterval 按是否有API Key返回请求间隔
func NVDInterval(hasKey bool) time.Duration {
	if hasKey {
		return NVDKeyedInterval
	}
	return NVDAnonymousInterval
}

// GetCVE 按编号查询，返回 vulnerabilities[0].cve 对象
func (c *NVDClient) GetCVE(ctx context.Context, id string) Lookup[Raw] {
	page := c.query(ctx, url.Values{"cveId": {id}})
	if page.Status != Found {
		return Lookup[Raw]{Status: page.Status, Err: page.Err}
	}

	records := nvdRecords(page.Value)
	if records.State == Malformed {
		return unavailable[Raw](xerrors.Errorf("NVD响应格式错误: %s", id))
	}
	if len(records.Value) == 0 {
		return notFound[Raw]()
	}
	return found(records.Value[0])
}

// SearchKeyword 关键字搜索，最多返回 limit 条CVE对象
func (c *NVDClient) SearchKeyword(ctx context.Context, keyword string, limit int) Lookup[[]Raw] {
	if limit <= 0 {
		limit = DefaultKeywordLimit
	}
	page := c.query(ctx, url.Values{
		"keywordSearch":  {keyword},
		"resultsPerPage": {strconv.Itoa(limit)},
	})
	if page.Status != Found {
		return Lookup[[]Raw]{Status: page.Status, Err: page.Err}
	}

	records := nvdRecords(page.Value)
	if records.State == Malformed {
		return unavailable[[]Raw](xerrors.Errorf("NVD响应格式错误: %q", keyword))
	}
	if len(records.Value) == 0 {
		return notFound[[]Raw]()
	}
	if len(records.Value) > limit {
		records.Value = records.Value[:limit]
	}
	return found(records.Value)
}

// query 发送一次限速请求，429 时冷却并重试一次
func (c *NVDClient) query(ctx context.Context, params url.Values) Lookup[Raw] {
	status, body, err := c.send(ctx, params)
	if err == nil && status == http.StatusTooManyRequests {
		c.logger.Warn("NVD返回429，冷却 %s 后重试", c.cooldown)
		if err := c.sleep(ctx, c.cooldown); err != nil {
			return unavailable[Raw](err)
		}
		status, body, err = c.send(ctx, params)
	}
	if err != nil {
		c.logger.Debug("NVD请求失败: %v", err)
		return unavailable[Raw](err)
	}

	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return notFound[Raw]()
	default:
		err := statusError(status, body)
		c.logger.Debug("%v", err)
		return unavailable[Raw](err)
	}

	raw, ok := decodeRaw(body)
	if !ok {
		return unavailable[Raw](xerrors.New("解析NVD响应失败"))
	}
	return found(raw)
}

func (c *NVDClient) send(ctx context.Context, params url.Values) (int, []byte, error) {
	if _, err := c.limiter.Acquire(ctx); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, nil, xerrors.Errorf("创建请求失败: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	c.logger.Debug("请求NVD: %s", params.Encode())
	return doRequest(c.httpClient, req)
}

// nvdRecords 取出响应中的 vulnerabilities[].cve 对象
func nvdRecords(page Raw) Field[[]Raw] {
	vulns := listAt(page, "vulnerabilities")
	if vulns.State == Malformed {
		return malformed[[]Raw]()
	}

	var records []Raw
	for _, vuln := range objects(vulns.Value) {
		if cve, ok := asObject(vuln["cve"]); ok {
			records = append(records, Raw(cve))
		}
	}
	return present(records)
}

// NVDID CVE对象的编号
func NVDID(cve Raw) Field[string] {
	return stringAt(cve, "id")
}

// NVDDescription 英文描述
func NVDDescription(cve Raw) Field[string] {
	descs := listAt(cve, "descriptions")
	if !descs.OK() {
		return Field[string]{State: descs.State}
	}
	for _, d := range objects(descs.Value) {
		if lang, _ := asString(d["lang"]); lang != "en" {
			continue
		}
		return stringAt(d, "value")
	}
	return absent[string]()
}

// NVDScore 按 v4.0 > v3.1 > v3.0 > v2 取第一条评分
func NVDScore(cve Raw) Field[CVSS] {
	raw, ok, bad := lookupPath(cve, "metrics")
	if bad {
		return malformed[CVSS]()
	}
	if !ok {
		return absent[CVSS]()
	}
	metrics, isObj := asObject(raw)
	if !isObj {
		return malformed[CVSS]()
	}

	sawMalformed := false
	for _, key := range nvdMetricKeys {
		entries := listAt(metrics, key)
		if entries.State == Malformed {
			sawMalformed = true
			continue
		}
		for _, entry := range objects(entries.Value) {
			if score, ok := cvssFrom(entry["cvssData"]); ok {
				return present(score)
			}
		}
	}

	if sawMalformed {
		return malformed[CVSS]()
	}
	return absent[CVSS]()
}

// NVDPublished 发布日期 YYYY-MM-DD
func NVDPublished(cve Raw) Field[string] {
	return dateAt(cve, "published")
}

// NVDCWEs weaknesses 中的 CWE 编号，去重排序
func NVDCWEs(cve Raw) Field[[]string] {
	weaknesses := listAt(cve, "weaknesses")
	if !weaknesses.OK() {
		return Field[[]string]{State: weaknesses.State}
	}

	var cwes []string
	for _, w := range objects(weaknesses.Value) {
		descs := listAt(w, "description")
		for _, d := range objects(descs.Value) {
			if v, _ := asString(d["value"]); strings.HasPrefix(v, "CWE-") {
				cwes = append(cwes, v)
			}
		}
	}
	return cweField(cwes)
}

func cweField(cwes []string) Field[[]string] {
	if len(cwes) == 0 {
		return absent[[]string]()
	}
	cwes = lo.Uniq(cwes)
	sort.Strings(cwes)
	return present(cwes)
}
