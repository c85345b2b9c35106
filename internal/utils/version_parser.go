package utils

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-version"
)

var numericVersion = regexp.MustCompile(`\d+(\.\d+)*`)

// NormalizeVersion 标准化版本号：去掉前缀，只保留数字和点号部分
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "version")
	v = strings.TrimPrefix(v, "Version")
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "v")
	v = strings.TrimPrefix(v, "V")

	if m := numericVersion.FindString(v); m != "" {
		return m
	}
	return v
}

// CompareVersions 比较版本号，无法解析的版本按字符串比较
func CompareVersions(v1, v2 string) int {
	a, errA := version.NewVersion(NormalizeVersion(v1))
	b, errB := version.NewVersion(NormalizeVersion(v2))
	if errA != nil || errB != nil {
		return strings.Compare(v1, v2)
	}
	return a.Compare(b)
}

// SortVersions 去重并按版本升序排序，不修改输入
func SortVersions(versions []string) []string {
	seen := make(map[string]bool, len(versions))
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return CompareVersions(out[i], out[j]) < 0
	})
	return out
}
