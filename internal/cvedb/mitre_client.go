package cvedb

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"vulnscan/internal/utils"
)

const mitreBaseURL = "https://cveawg.mitre.org/api/cve/"

// CVE 5.x 记录中的评分字段，按优先级从新到旧
var mitreMetricKeys = []string{"cvssV4_0", "cvssV3_1", "cvssV3_0", "cvssV2_0"}

// MITREClient CVE Services（cveawg.mitre.org）客户端
type MITREClient struct {
	baseURL    string
	httpClient *http.Client
	throttle   *rate.Limiter
	logger     *utils.Logger
}

// APIOption MITRE 和 OSV 客户端共用的选项
type APIOption func(*apiOptions)

type apiOptions struct {
	baseURL    string
	httpClient *http.Client
	throttle   *rate.Limiter
}

// WithBaseURL 替换API地址
func WithBaseURL(u string) APIOption {
	return func(o *apiOptions) { o.baseURL = u }
}

// WithHTTPClient 替换HTTP客户端
func WithHTTPClient(hc *http.Client) APIOption {
	return func(o *apiOptions) { o.httpClient = hc }
}

// WithThrottle 限制每秒请求数，<=0 表示不限
func WithThrottle(perSecond float64) APIOption {
	return func(o *apiOptions) {
		if perSecond > 0 {
			o.throttle = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func buildAPIOptions(defaultURL string, opts []APIOption) apiOptions {
	o := apiOptions{
		baseURL:    defaultURL,
		httpClient: newHTTPClient(apiHTTPTimeout),
		throttle:   rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewMITREClient(opts ...APIOption) *MITREClient {
	o := buildAPIOptions(mitreBaseURL, opts)
	return &MITREClient{
		baseURL:    strings.TrimSuffix(o.baseURL, "/") + "/",
		httpClient: o.httpClient,
		throttle:   o.throttle,
		logger:     utils.NewLogger("mitre-client"),
	}
}

// GetCVE 获取完整的 CVE 5.x 记录
func (c *MITREClient) GetCVE(ctx context.Context, id string) Lookup[Raw] {
	if err := c.throttle.Wait(ctx); err != nil {
		return unavailable[Raw](err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+url.PathEscape(id), nil)
	if err != nil {
		return unavailable[Raw](xerrors.Errorf("创建请求失败: %w", err))
	}

	status, body, err := doRequest(c.httpClient, req)
	if err != nil {
		c.logger.Debug("MITRE请求失败 %s: %v", id, err)
		return unavailable[Raw](err)
	}

	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return notFound[Raw]()
	default:
		return unavailable[Raw](statusError(status, body))
	}

	raw, ok := decodeRaw(body)
	if !ok {
		return unavailable[Raw](xerrors.Errorf("解析MITRE响应失败: %s", id))
	}
	return found(raw)
}

// MITREDescription CNA 容器中的英文描述（lang 以 en 开头）
func MITREDescription(record Raw) Field[string] {
	descs := listAt(record, "containers", "cna", "descriptions")
	if !descs.OK() {
		return Field[string]{State: descs.State}
	}
	for _, d := range objects(descs.Value) {
		if lang, _ := asString(d["lang"]); !strings.HasPrefix(lang, "en") {
			continue
		}
		return stringAt(d, "value")
	}
	return absent[string]()
}

// MITREScore 先找 CNA 的评分，再找 ADP 的，按 v4.0 > v3.1 > v3.0 > v2.0
func MITREScore(record Raw) Field[CVSS] {
	var metrics []map[string]any
	sawMalformed := false

	cna := listAt(record, "containers", "cna", "metrics")
	if cna.State == Malformed {
		sawMalformed = true
	}
	metrics = append(metrics, objects(cna.Value)...)

	adp := listAt(record, "containers", "adp")
	if adp.State == Malformed {
		sawMalformed = true
	}
	for _, container := range objects(adp.Value) {
		m := listAt(container, "metrics")
		if m.State == Malformed {
			sawMalformed = true
		}
		metrics = append(metrics, objects(m.Value)...)
	}

	for _, key := range mitreMetricKeys {
		for _, m := range metrics {
			if score, ok := cvssFrom(m[key]); ok {
				return present(score)
			}
		}
	}

	if sawMalformed {
		return malformed[CVSS]()
	}
	return absent[CVSS]()
}

// MITREPublished cveMetadata.datePublished 的日期部分
func MITREPublished(record Raw) Field[string] {
	return dateAt(record, "cveMetadata", "datePublished")
}

// MITRECWEs CNA problemTypes 中的 CWE 编号
func MITRECWEs(record Raw) Field[[]string] {
	problemTypes := listAt(record, "containers", "cna", "problemTypes")
	if !problemTypes.OK() {
		return Field[[]string]{State: problemTypes.State}
	}

	var cwes []string
	for _, pt := range objects(problemTypes.Value) {
		descs := listAt(pt, "descriptions")
		for _, d := range objects(descs.Value) {
			if id, _ := asString(d["cweId"]); strings.HasPrefix(id, "CWE-") {
				cwes = append(cwes, id)
			}
		}
	}
	return cweField(cwes)
}

// Affected CNA 声明的受影响产品
type Affected struct {
	Vendor   string
	Product  string
	Versions []string
}

// MITREAffected CNA affected 列表
func MITREAffected(record Raw) Field[[]Affected] {
	items := listAt(record, "containers", "cna", "affected")
	if !items.OK() {
		return Field[[]Affected]{State: items.State}
	}

	var out []Affected
	for _, item := range objects(items.Value) {
		a := Affected{
			Vendor:  stringAt(item, "vendor").Or(""),
			Product: stringAt(item, "product").Or(""),
		}
		versions := listAt(item, "versions")
		for _, v := range objects(versions.Value) {
			if s := stringAt(v, "version").Or(""); s != "" {
				a.Versions = append(a.Versions, s)
			}
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return absent[[]Affected]()
	}
	return present(out)
}
