package cvedb

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"vulnscan/internal/utils"
)

const (
	osvBaseURL = "https://api.osv.dev/v1"
	// osvMaxPages 单个查询最多跟随的分页数
	osvMaxPages       = 10
	osvSummaryLimit   = 300
	osvDefaultSummary = "No description available"
)

// OSV severity 类型，按优先级从新到旧
var osvSeverityTypes = []string{"CVSS_V4", "CVSS_V3", "CVSS_V2"}

// OSVClient OSV.dev 客户端
type OSVClient struct {
	baseURL    string
	httpClient *http.Client
	throttle   *rate.Limiter
	logger     *utils.Logger
}

func NewOSVClient(opts ...APIOption) *OSVClient {
	o := buildAPIOptions(osvBaseURL, opts)
	return &OSVClient{
		baseURL:    strings.TrimSuffix(o.baseURL, "/"),
		httpClient: o.httpClient,
		throttle:   o.throttle,
		logger:     utils.NewLogger("osv-client"),
	}
}

type osvPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type osvQuery struct {
	Version   string     `json:"version"`
	Package   osvPackage `json:"package"`
	PageToken string     `json:"page_token,omitempty"`
}

// QueryPackage 查询某个包版本的已知漏洞，自动跟随分页
func (c *OSVClient) QueryPackage(ctx context.Context, name, version, ecosystem string) Lookup[[]Raw] {
	query := osvQuery{
		Version: version,
		Package: osvPackage{Name: name, Ecosystem: ecosystem},
	}

	var vulns []Raw
	for page := 0; page < osvMaxPages; page++ {
		resp := c.post(ctx, "/query", query)
		if resp.Status != Found {
			return Lookup[[]Raw]{Status: resp.Status, Err: resp.Err}
		}

		items := listAt(resp.Value, "vulns")
		if items.State == Malformed {
			return unavailable[[]Raw](xerrors.Errorf("OSV响应格式错误: %s@%s", name, version))
		}
		for _, v := range objects(items.Value) {
			vulns = append(vulns, Raw(v))
		}

		token := stringAt(resp.Value, "next_page_token")
		if !token.OK() {
			break
		}
		query.PageToken = token.Value
	}

	c.logger.Debug("%s %s@%s: %d 条OSV记录", ecosystem, name, version, len(vulns))
	if len(vulns) == 0 {
		return notFound[[]Raw]()
	}
	return found(vulns)
}

func (c *OSVClient) post(ctx context.Context, path string, payload any) Lookup[Raw] {
	if err := c.throttle.Wait(ctx); err != nil {
		return unavailable[Raw](err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return unavailable[Raw](xerrors.Errorf("编码请求失败: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return unavailable[Raw](xerrors.Errorf("创建请求失败: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	return c.decode(doRequest(c.httpClient, req))
}

func (c *OSVClient) decode(status int, body []byte, err error) Lookup[Raw] {
	if err != nil {
		c.logger.Debug("OSV请求失败: %v", err)
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
		return unavailable[Raw](xerrors.New("解析OSV响应失败"))
	}
	return found(raw)
}

// OSVID 记录编号
func OSVID(vuln Raw) Field[string] {
	return stringAt(vuln, "id")
}

// OSVCVEIDs 别名中的CVE编号，加上本身就是CVE编号的id
func OSVCVEIDs(vuln Raw) Field[[]string] {
	var ids []string

	aliases := listAt(vuln, "aliases")
	for _, a := range aliases.Value {
		if s, ok := asString(a); ok && strings.HasPrefix(s, "CVE-") {
			ids = append(ids, s)
		}
	}
	if id := OSVID(vuln).Or(""); strings.HasPrefix(id, "CVE-") {
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		if aliases.State == Malformed {
			return malformed[[]string]()
		}
		return absent[[]string]()
	}
	ids = lo.Uniq(ids)
	sort.Strings(ids)
	return present(ids)
}

// OSVFixedVersions affected[].ranges[].events[].fixed，按版本升序
func OSVFixedVersions(vuln Raw) Field[[]string] {
	affected := listAt(vuln, "affected")
	if !affected.OK() {
		return Field[[]string]{State: affected.State}
	}

	var fixed []string
	for _, a := range objects(affected.Value) {
		for _, r := range objects(listAt(a, "ranges").Value) {
			for _, e := range objects(listAt(r, "events").Value) {
				if v := stringAt(e, "fixed"); v.OK() {
					fixed = append(fixed, v.Value)
				}
			}
		}
	}

	if len(fixed) == 0 {
		return absent[[]string]()
	}
	return present(utils.SortVersions(fixed))
}

// OSVSummary summary，没有时取 details 的前300个字符
func OSVSummary(vuln Raw) Field[string] {
	if s := stringAt(vuln, "summary"); s.OK() {
		return s
	}
	details := stringAt(vuln, "details")
	if !details.OK() {
		return details
	}
	runes := []rune(details.Value)
	if len(runes) > osvSummaryLimit {
		runes = runes[:osvSummaryLimit]
	}
	return present(string(runes))
}

// OSVPublished 发布日期
func OSVPublished(vuln Raw) Field[string] {
	return dateAt(vuln, "published")
}

// OSVCWEs database_specific.cwe_ids
func OSVCWEs(vuln Raw) Field[[]string] {
	items := listAt(vuln, "database_specific", "cwe_ids")
	if !items.OK() {
		return Field[[]string]{State: items.State}
	}

	var cwes []string
	for _, item := range items.Value {
		if s, ok := asString(item); ok && strings.HasPrefix(s, "CWE-") {
			cwes = append(cwes, s)
		}
	}
	return cweField(cwes)
}

// OSVScore severity 中的CVSS向量。优先返回能算出分数的最新版本，
// 都算不出时返回最新的向量（Score 为 nil）
func OSVScore(vuln Raw) Field[CVSS] {
	entries := listAt(vuln, "severity")
	if !entries.OK() {
		return Field[CVSS]{State: entries.State}
	}

	var vectorOnly *CVSS
	for _, typ := range osvSeverityTypes {
		for _, entry := range objects(entries.Value) {
			if t, _ := asString(entry["type"]); t != typ {
				continue
			}
			vector := stringAt(entry, "score")
			if !vector.OK() {
				continue
			}
			if score := scoreFromVector(vector.Value); score != nil {
				return present(CVSS{Score: score, Vector: vector.Value})
			}
			if vectorOnly == nil {
				vectorOnly = &CVSS{Vector: vector.Value}
			}
		}
	}

	if vectorOnly != nil {
		return present(*vectorOnly)
	}
	return absent[CVSS]()
}
