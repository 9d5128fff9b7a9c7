package jsonutil

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Pretty formats JSON string with indentation; returns original on error.
func Pretty(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return string(buf)
}

// ExtractObject 取出模型回复中的 JSON 主体：优先 ```json 代码块，其次任意代码块，最后是第一个 { 到最后一个 }。
func ExtractObject(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```json"); i >= 0 {
		return fenced(s[i+len("```json"):])
	}
	if i := strings.Index(s, "```"); i >= 0 {
		return fenced(s[i+3:])
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func fenced(rest string) string {
	if j := strings.Index(rest, "```"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}
