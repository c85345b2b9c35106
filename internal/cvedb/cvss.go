package cvedb

import (
	"strings"

	"github.com/goark/go-cvss/v3/metric"

	"vulnscan/internal/model"
)

// scoreFromVector 由CVSS v3.x向量计算基础分，其他版本返回 nil
func scoreFromVector(vector string) *float64 {
	if !strings.HasPrefix(vector, "CVSS:3.") {
		return nil
	}
	bm, err := metric.NewBase().Decode(vector)
	if err != nil {
		return nil
	}
	return model.Score(bm.Score())
}

// cvssFrom 从 {baseScore, vectorString} 形式的对象中读取评分，缺分数时尝试由向量计算
func cvssFrom(obj any) (CVSS, bool) {
	var out CVSS

	if raw, ok, _ := lookupPath(obj, "vectorString"); ok {
		if s, isStr := asString(raw); isStr {
			out.Vector = s
		}
	}
	if raw, ok, _ := lookupPath(obj, "baseScore"); ok {
		if n, isNum := asNumber(raw); isNum {
			out.Score = model.Score(n)
		}
	}
	if out.Score == nil && out.Vector != "" {
		out.Score = scoreFromVector(out.Vector)
	}

	return out, out.Score != nil || out.Vector != ""
}
