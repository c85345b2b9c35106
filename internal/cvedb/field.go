package cvedb

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Raw 数据源返回的原始JSON对象。字段类型不可信，只能通过提取函数读取
type Raw map[string]any

// FieldState 提取结果的状态
type FieldState int

const (
	// Absent 字段不存在
	Absent FieldState = iota
	// Present 字段存在且类型正确
	Present
	// Malformed 字段存在但类型或格式不对
	Malformed
)

func (s FieldState) String() string {
	switch s {
	case Present:
		return "present"
	case Malformed:
		return "malformed"
	default:
		return "absent"
	}
}

// Field 带状态的提取结果，只有 Present 时 Value 才有意义
type Field[T any] struct {
	Value T
	State FieldState
}

func present[T any](v T) Field[T] { return Field[T]{Value: v, State: Present} }

func absent[T any]() Field[T] { return Field[T]{State: Absent} }

func malformed[T any]() Field[T] { return Field[T]{State: Malformed} }

// OK 字段是否可用
func (f Field[T]) OK() bool { return f.State == Present }

// Or 字段可用时返回值，否则返回默认值
func (f Field[T]) Or(def T) T {
	if f.State == Present {
		return f.Value
	}
	return def
}

// CVSS 一条评分记录。只有向量、无法算出分数时 Score 为 nil
type CVSS struct {
	Score  *float64
	Vector string
}

// Status 一次查询的结果状态
type Status int

const (
	// Unavailable 网络错误、超时、非预期状态码或响应无法解析
	Unavailable Status = iota
	// Found 找到记录
	Found
	// NotFound 数据源明确表示没有该记录
	NotFound
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not-found"
	default:
		return "unavailable"
	}
}

// Lookup 一次数据源查询的结果
type Lookup[T any] struct {
	Value  T
	Status Status
	// Err 仅在 Unavailable 时记录原因
	Err error
}

func found[T any](v T) Lookup[T] { return Lookup[T]{Value: v, Status: Found} }

func notFound[T any]() Lookup[T] { return Lookup[T]{Status: NotFound} }

func unavailable[T any](err error) Lookup[T] { return Lookup[T]{Status: Unavailable, Err: err} }

// decodeRaw 把响应体解析为顶层对象
func decodeRaw(body []byte) (Raw, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return Raw(obj), ok
}

// lookupPath 沿对象键逐层查找。中间层类型不对时 ok 为 false 且 bad 为 true
func lookupPath(v any, keys ...string) (value any, ok, bad bool) {
	cur := v
	for _, key := range keys {
		obj, isObj := asObject(cur)
		if !isObj {
			return nil, false, cur != nil
		}
		next, exists := obj[key]
		if !exists || next == nil {
			return nil, false, false
		}
		cur = next
	}
	return cur, true, false
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case Raw:
		return o, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asNumber 数字或可解析为数字的 json.Number
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// stringAt 读取路径上的字符串字段
func stringAt(v any, keys ...string) Field[string] {
	raw, ok, bad := lookupPath(v, keys...)
	if bad {
		return malformed[string]()
	}
	if !ok {
		return absent[string]()
	}
	s, isStr := asString(raw)
	if !isStr {
		return malformed[string]()
	}
	if strings.TrimSpace(s) == "" {
		return absent[string]()
	}
	return present(s)
}

// listAt 读取路径上的数组字段
func listAt(v any, keys ...string) Field[[]any] {
	raw, ok, bad := lookupPath(v, keys...)
	if bad {
		return malformed[[]any]()
	}
	if !ok {
		return absent[[]any]()
	}
	l, isList := asList(raw)
	if !isList {
		return malformed[[]any]()
	}
	return present(l)
}

// objects 过滤出数组中的对象元素，跳过类型不对的元素
func objects(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := asObject(item); ok {
			out = append(out, obj)
		}
	}
	return out
}

// normalizeDate 把各种日期格式规整为 YYYY-MM-DD
func normalizeDate(s string) Field[string] {
	s = strings.TrimSpace(s)
	if s == "" {
		return absent[string]()
	}
	if len(s) >= 10 {
		if _, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return present(s[:10])
		}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return malformed[string]()
	}
	return present(t.Format("2006-01-02"))
}

// dateAt 读取路径上的日期字段并规整
func dateAt(v any, keys ...string) Field[string] {
	f := stringAt(v, keys...)
	if !f.OK() {
		return f
	}
	return normalizeDate(f.Value)
}
