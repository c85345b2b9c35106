package cvedb

import (
	"context"
	"sort"
	"strings"

	"vulnscan/internal/model"
	"vulnscan/internal/utils"
)

// NVDSource NVD 查询接口
type NVDSource interface {
	GetCVE(ctx context.Context, id string) Lookup[Raw]
	SearchKeyword(ctx context.Context, keyword string, limit int) Lookup[[]Raw]
}

// MITRESource MITRE 查询接口
type MITRESource interface {
	GetCVE(ctx context.Context, id string) Lookup[Raw]
}

// OSVSource OSV 查询接口
type OSVSource interface {
	QueryPackage(ctx context.Context, name, version, ecosystem string) Lookup[[]Raw]
}

// Correlator 组合三个数据源，生成归一化的 CVEReference。
// NVD 优先，MITRE 补齐 NVD 缺少的字段，OSV 提供包级别的漏洞和修复版本
type Correlator struct {
	nvd          NVDSource
	mitre        MITRESource
	osv          OSVSource
	cache        *Cache
	keywordLimit int
	logger       *utils.Logger
}

// CorrelatorOption 关联器选项
type CorrelatorOption func(*Correlator)

// WithCache 使用本地缓存
func WithCache(cache *Cache) CorrelatorOption {
	return func(c *Correlator) { c.cache = cache }
}

// WithKeywordLimit 产品关键字搜索的结果上限
func WithKeywordLimit(n int) CorrelatorOption {
	return func(c *Correlator) {
		if n > 0 {
			c.keywordLimit = n
		}
	}
}

// NewCorrelator 任一数据源为 nil 时跳过该数据源
func NewCorrelator(nvd NVDSource, mitre MITRESource, osv OSVSource, opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		nvd:          nvd,
		mitre:        mitre,
		osv:          osv,
		keywordLimit: DefaultKeywordLimit,
		logger:       utils.NewLogger("correlator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForCVE 按编号关联一个CVE。两个数据源都没有数据时返回 false
func (c *Correlator) ForCVE(ctx context.Context, id string) (model.CVEReference, bool) {
	id = strings.ToUpper(strings.TrimSpace(id))

	if ref, ok := c.cached(id); ok {
		return ref, true
	}

	var fields model.CVEFields
	var sources []string

	if c.nvd != nil {
		lookup := c.nvd.GetCVE(ctx, id)
		switch lookup.Status {
		case Found:
			applyNVD(&fields, lookup.Value)
			sources = append(sources, "nvd")
		case Unavailable:
			c.logger.Debug("NVD不可用 %s: %v", id, lookup.Err)
		}
	}

	if c.mitre != nil && incomplete(fields) {
		lookup := c.mitre.GetCVE(ctx, id)
		switch lookup.Status {
		case Found:
			applyMITRE(&fields, lookup.Value)
			sources = append(sources, "mitre")
		case Unavailable:
			c.logger.Debug("MITRE不可用 %s: %v", id, lookup.Err)
		}
	}

	if len(sources) == 0 {
		return model.CVEReference{}, false
	}

	ref := model.NewCVEReference(id, fields)
	c.store(ref, strings.Join(sources, "+"))
	return ref, true
}

// ForPackage 查询某个包版本受影响的CVE。没有CVE别名的OSV记录被跳过
func (c *Correlator) ForPackage(ctx context.Context, name, version, ecosystem string) []model.CVEReference {
	if c.osv == nil {
		return nil
	}

	lookup := c.osv.QueryPackage(ctx, name, version, ecosystem)
	switch lookup.Status {
	case NotFound:
		return nil
	case Unavailable:
		c.logger.Warn("OSV查询失败 %s@%s: %v", name, version, lookup.Err)
		return nil
	}

	// 同一个CVE常有多条记录（PYSEC、GHSA），按CVE编号归并
	var order []string
	advisories := make(map[string][]Raw)
	for _, vuln := range lookup.Value {
		ids := OSVCVEIDs(vuln)
		if !ids.OK() {
			c.logger.Debug("跳过无CVE别名的记录 %s", OSVID(vuln).Or("?"))
			continue
		}
		for _, id := range ids.Value {
			if _, ok := advisories[id]; !ok {
				order = append(order, id)
			}
			advisories[id] = append(advisories[id], vuln)
		}
	}

	refs := make([]model.CVEReference, 0, len(order))
	for _, id := range order {
		var fields model.CVEFields
		if ref, ok := c.ForCVE(ctx, id); ok {
			fields = fieldsOf(ref)
		}

		fixed := append([]string(nil), fields.FixedVersions...)
		for _, vuln := range advisories[id] {
			applyOSV(&fields, vuln)
			fixed = append(fixed, OSVFixedVersions(vuln).Or(nil)...)
		}
		if len(fixed) > 0 {
			fields.FixedVersions = utils.SortVersions(fixed)
		}
		if fields.Description == "" {
			fields.Description = osvDefaultSummary
		}
		refs = append(refs, model.NewCVEReference(id, fields))
	}

	sortRefs(refs)
	return refs
}

// ForProduct 用NVD关键字搜索指纹识别出的产品版本
func (c *Correlator) ForProduct(ctx context.Context, product, version string) []model.CVEReference {
	if c.nvd == nil {
		return nil
	}

	keyword := strings.TrimSpace(product + " " + version)
	lookup := c.nvd.SearchKeyword(ctx, keyword, c.keywordLimit)
	if lookup.Status == Unavailable {
		c.logger.Warn("NVD关键字搜索失败 %q: %v", keyword, lookup.Err)
		return nil
	}

	var refs []model.CVEReference
	seen := make(map[string]bool)
	for _, cve := range lookup.Value {
		id := NVDID(cve)
		if !id.OK() || !model.IsCVEID(id.Value) || seen[id.Value] {
			continue
		}
		seen[id.Value] = true
		if !c.affectsProduct(ctx, id.Value, product) {
			c.logger.Debug("%s 的受影响产品中没有 %s，跳过", id.Value, product)
			continue
		}

		var fields model.CVEFields
		applyNVD(&fields, cve)
		ref := model.NewCVEReference(id.Value, fields)
		c.store(ref, "nvd-search")
		refs = append(refs, ref)
	}

	sortRefs(refs)
	return refs
}

// affectsProduct 用MITRE记录的受影响产品核对关键字搜索结果。
// 没有MITRE数据或产品为 n/a 时不过滤
func (c *Correlator) affectsProduct(ctx context.Context, id, product string) bool {
	if c.mitre == nil {
		return true
	}
	lookup := c.mitre.GetCVE(ctx, id)
	if lookup.Status != Found {
		return true
	}
	affected := MITREAffected(lookup.Value)
	if !affected.OK() {
		return true
	}

	tokens := strings.Fields(strings.ToLower(product))
	for _, a := range affected.Value {
		name := strings.ToLower(a.Vendor + " " + a.Product)
		if strings.EqualFold(strings.TrimSpace(a.Product), "n/a") {
			return true
		}
		for _, tok := range tokens {
			if strings.Contains(name, tok) {
				return true
			}
		}
	}
	return false
}

func (c *Correlator) cached(id string) (model.CVEReference, bool) {
	if c.cache == nil {
		return model.CVEReference{}, false
	}
	ref, ok, err := c.cache.Get(id)
	if err != nil {
		c.logger.Warn("%v", err)
		return model.CVEReference{}, false
	}
	return ref, ok
}

func (c *Correlator) store(ref model.CVEReference, source string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Put(ref, source); err != nil {
		c.logger.Warn("%v", err)
	}
}

// incomplete 是否还有字段需要其他数据源补齐
func incomplete(f model.CVEFields) bool {
	return f.Description == "" || f.Score == nil || f.Published == "" || len(f.CWEs) == 0
}

func applyNVD(f *model.CVEFields, cve Raw) {
	fillString(&f.Description, NVDDescription(cve))
	fillScore(f, NVDScore(cve))
	fillString(&f.Published, NVDPublished(cve))
	fillList(&f.CWEs, NVDCWEs(cve))
}

func applyMITRE(f *model.CVEFields, record Raw) {
	fillString(&f.Description, MITREDescription(record))
	fillScore(f, MITREScore(record))
	fillString(&f.Published, MITREPublished(record))
	fillList(&f.CWEs, MITRECWEs(record))
}

func applyOSV(f *model.CVEFields, vuln Raw) {
	fillString(&f.Description, OSVSummary(vuln))
	fillScore(f, OSVScore(vuln))
	fillString(&f.Published, OSVPublished(vuln))
	fillList(&f.CWEs, OSVCWEs(vuln))
}

func fillString(dst *string, f Field[string]) {
	if *dst == "" && f.OK() {
		*dst = f.Value
	}
}

func fillList(dst *[]string, f Field[[]string]) {
	if len(*dst) == 0 && f.OK() {
		*dst = f.Value
	}
}

// fillScore 分数和向量成对采用。已有分数时不再改动；
// 都没有分数时保留第一个向量
func fillScore(f *model.CVEFields, s Field[CVSS]) {
	if !s.OK() || f.Score != nil {
		return
	}
	if s.Value.Score != nil {
		f.Score = s.Value.Score
		f.Vector = s.Value.Vector
		return
	}
	if f.Vector == "" {
		f.Vector = s.Value.Vector
	}
}

func fieldsOf(ref model.CVEReference) model.CVEFields {
	return model.CVEFields{
		Description:   ref.Description,
		Score:         ref.Score,
		Vector:        ref.Vector,
		Published:     ref.Published,
		FixedVersions: ref.FixedVersions,
		CWEs:          ref.CWEs,
	}
}

// sortRefs 按严重等级、编号排序
func sortRefs(refs []model.CVEReference) {
	sort.SliceStable(refs, func(i, j int) bool {
		if a, b := refs[i].Severity.SortKey(), refs[j].Severity.SortKey(); a != b {
			return a < b
		}
		return refs[i].ID < refs[j].ID
	})
}
