package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"exam_eval_backend/internal/model"
	"exam_eval_backend/internal/util"
	"fmt"
	"strings"
)

const fence = "```"

// SanitizeResponse 去掉模型输出外层的 Markdown 代码围栏
// 不以围栏开头的文本原样返回；结果不会再以围栏开头，因此重复调用结果不变
func SanitizeResponse(raw string) string {
	if !strings.HasPrefix(strings.TrimSpace(raw), fence) {
		return raw
	}

	s := strings.TrimSpace(raw)
	for strings.HasPrefix(s, fence) {
		lines := strings.Split(s, "\n")
		if len(lines) == 1 {
			// 单行：```json [...] ```
			s = strings.TrimSpace(strings.Trim(s, "`"))
			s = strings.TrimSpace(trimLanguageTag(s))
			continue
		}

		lines = lines[1:]
		if n := len(lines); n > 0 && isFenceLine(lines[n-1]) {
			lines = lines[:n-1]
		}
		s = strings.TrimSpace(strings.Join(lines, "\n"))
		if strings.HasPrefix(s, fence) {
			// 嵌套围栏，下一轮继续剥
			continue
		}
		s = strings.TrimSpace(strings.Trim(s, "`"))
	}
	return s
}

func isFenceLine(line string) bool {
	line = strings.TrimSpace(line)
	return line != "" && strings.Trim(line, "`") == ""
}

// trimLanguageTag 仅在 json 标记后紧跟空白或 JSON 起始符时去掉它
func trimLanguageTag(s string) string {
	if len(s) < 4 || !strings.EqualFold(s[:4], "json") {
		return s
	}
	if len(s) == 4 || strings.ContainsRune(" \t\r\n[{", rune(s[4])) {
		return s[4:]
	}
	return s
}

// DecodeResponse 模型文本到结构化数据的唯一入口，所有失败都归为 ErrMalformedResponse
func DecodeResponse[T any](raw string) (T, error) {
	var zero T

	clean := strings.TrimSpace(SanitizeResponse(raw))
	if clean == "" {
		return zero, malformed("empty response", nil)
	}

	candidates := []string{clean}
	if escaped := escapeInvalidBackslashes(clean); escaped != clean {
		candidates = append(candidates, escaped)
	}
	if span, ok := jsonSpan(clean); ok && span != clean {
		candidates = append(candidates, span, escapeInvalidBackslashes(span))
	}

	var firstErr error
	for _, c := range candidates {
		var v T
		err := json.Unmarshal([]byte(c), &v)
		if err == nil {
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		// 类型不匹配说明 JSON 本身合法，换写法也不会变好
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return zero, malformed("unexpected JSON shape", err)
		}
	}
	return zero, malformed("invalid JSON", firstErr)
}

func malformed(reason string, err error) error {
	return util.NewPipelineError(util.ErrMalformedResponse, reason, err)
}

// escapeInvalidBackslashes 转义不构成合法 JSON 转义序列的反斜杠（手写公式里的 \sqrt 等）
func escapeInvalidBackslashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) && isJSONEscape(s[i+1], s[i+1:]) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteString(`\\`)
	}
	return b.String()
}

func isJSONEscape(c byte, rest string) bool {
	switch c {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if len(rest) < 5 {
			return false
		}
		for _, h := range rest[1:5] {
			if !strings.ContainsRune("0123456789abcdefABCDEF", h) {
				return false
			}
		}
		return true
	}
	return false
}

// jsonSpan 截取首个 { 或 [ 到最后一个对应闭合符之间的内容，用于去掉前后的说明文字
func jsonSpan(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// ParseExamSchema 解析试卷结构，保留模型返回的全部字段，至少需要一个分区
func ParseExamSchema(raw string) (*model.ExamSchema, error) {
	schema, err := DecodeResponse[model.ExamSchema](raw)
	if err != nil {
		return nil, err
	}
	if !schema.HasSections() {
		return nil, malformed("schema has no sections", nil)
	}
	return &schema, nil
}

// PageResponse 单页评阅的解码结果：Raw 为模型返回的 JSON 原文，Results 为清洗后的条目
type PageResponse struct {
	Raw     json.RawMessage
	Results []model.PageResult
}

// ParsePageResults 解析单页评阅结果
// 兼容三种形态：数组、单个结果对象、包含结果数组的对象
func ParsePageResults(raw string) ([]model.PageResult, error) {
	resp, err := DecodePageResponse(raw)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// DecodePageResponse 同 ParsePageResults，额外保留未经修正的原文
func DecodePageResponse(raw string) (*PageResponse, error) {
	msg, err := DecodeResponse[json.RawMessage](raw)
	if err != nil {
		return nil, err
	}
	msg = bytes.TrimSpace(msg)

	var results []model.PageResult
	switch {
	case len(msg) > 0 && msg[0] == '[':
		if err := json.Unmarshal(msg, &results); err != nil {
			return nil, malformed("invalid result entry", err)
		}
	case len(msg) > 0 && msg[0] == '{':
		results, err = unwrapResultObject(msg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, malformed(fmt.Sprintf("expected JSON array, got %.20s", string(msg)), nil)
	}

	out := make([]model.PageResult, 0, len(results))
	for _, r := range results {
		if r.QuestionNo == nil && r.ObtainedMarks == nil && r.MaxMarks == nil && r.Feedback == nil {
			continue
		}
		clampMarks(&r)
		out = append(out, r)
	}
	return &PageResponse{Raw: msg, Results: out}, nil
}

func unwrapResultObject(msg json.RawMessage) ([]model.PageResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return nil, malformed("invalid JSON object", err)
	}

	if _, ok := fields["question_no"]; ok {
		var single model.PageResult
		if err := json.Unmarshal(msg, &single); err != nil {
			return nil, malformed("invalid result entry", err)
		}
		return []model.PageResult{single}, nil
	}

	for _, v := range fields {
		v = bytes.TrimSpace(v)
		if len(v) == 0 || v[0] != '[' {
			continue
		}
		var results []model.PageResult
		if err := json.Unmarshal(v, &results); err == nil {
			return results, nil
		}
	}
	return nil, malformed("object contains no result array", nil)
}

func clampMarks(r *model.PageResult) {
	if r.ObtainedMarks == nil {
		return
	}
	v := float64(*r.ObtainedMarks)
	if v < 0 {
		v = 0
	}
	if r.MaxMarks != nil && float64(*r.MaxMarks) >= 0 && v > float64(*r.MaxMarks) {
		v = float64(*r.MaxMarks)
	}
	clamped := model.FlexFloat(v)
	r.ObtainedMarks = &clamped
}
