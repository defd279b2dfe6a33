package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ExamSchema 题目结构，由试卷图片提取，写入 qp_data.json
// 模型返回的 JSON 对象原样保存（doc/raw），序列化时输出原文；下面的字段只是宽松的只读视图
type ExamSchema struct {
	ExamDetails ExamDetails   `json:"exam_details"`
	Sections    []ExamSection `json:"sections"`

	raw json.RawMessage
	doc map[string]any
}

type ExamDetails struct {
	Name       *FlexString `json:"name"`
	CourseCode *FlexString `json:"course_code"`
	Marks      *FlexString `json:"marks"`
	Date       *FlexString `json:"date"`
	Time       *FlexString `json:"time"`
}

type ExamSection struct {
	SectionName  *FlexString    `json:"section_name"`
	Instructions *FlexString    `json:"instructions"`
	Questions    []ExamQuestion `json:"questions"`
}

type ExamQuestion struct {
	QuestionNumber *FlexString `json:"question_number"`
	QuestionText   *FlexString `json:"question_text"`
	QuestionType   *FlexString `json:"question_type"`
	Options        FlexList    `json:"options"`
	CorrectAnswer  *FlexString `json:"correct_answer"`
	MaxMarks       *FlexString `json:"max_marks"`
}

type examSchemaView ExamSchema

func (s *ExamSchema) UnmarshalJSON(b []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}

	var view examSchemaView
	if err := json.Unmarshal(b, &view); err != nil {
		// 视图只做尽力解析，局部类型不符时保留已解析的部分
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return err
		}
	}

	*s = ExamSchema(view)
	s.raw = append(json.RawMessage(nil), b...)
	s.doc = doc
	return nil
}

func (s ExamSchema) MarshalJSON() ([]byte, error) {
	if len(s.raw) > 0 {
		return s.raw, nil
	}
	return json.Marshal(examSchemaView(s))
}

// Document 模型返回的原始对象，包含视图之外的字段
func (s *ExamSchema) Document() map[string]any {
	return s.doc
}

// HasSections 按原始对象判断：sections 必须是非空数组
func (s *ExamSchema) HasSections() bool {
	sections, ok := s.doc["sections"].([]any)
	return ok && len(sections) > 0
}

// QuestionCount 所有分区的题目总数
func (s *ExamSchema) QuestionCount() int {
	n := 0
	for _, sec := range s.Sections {
		n += len(sec.Questions)
	}
	return n
}

// PageResult 单页评阅结果中的一项
type PageResult struct {
	QuestionNo    *FlexString `json:"question_no"`
	ObtainedMarks *FlexFloat  `json:"obtained_marks"`
	MaxMarks      *FlexFloat  `json:"max_marks"`
	Feedback      *string     `json:"feedback"`
}

// FlexString 兼容模型把编号输出为数字或字符串两种情况，其他 JSON 值保留紧凑原文
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return fmt.Errorf("expected JSON value, got %s", string(b))
	}
	*f = FlexString(buf.String())
	return nil
}

func (f FlexString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f))
}

func (f *FlexString) StringPtr() *string {
	if f == nil {
		return nil
	}
	s := string(*f)
	return &s
}

// FlexList 选项列表；模型偶尔输出 {"A": "...", "B": "..."} 或单个值
type FlexList []FlexString

func (l *FlexList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*l = nil
		return nil
	case len(b) > 0 && b[0] == '[':
		var items []FlexString
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	case len(b) > 0 && b[0] == '{':
		var m map[string]FlexString
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]FlexString, 0, len(keys))
		for _, k := range keys {
			items = append(items, FlexString(k+". "+string(m[k])))
		}
		*l = items
		return nil
	}
	var single FlexString
	if err := single.UnmarshalJSON(b); err != nil {
		return err
	}
	*l = FlexList{single}
	return nil
}

// FlexFloat 接受数字或数字字符串（如 "5"、"2.5"）
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("expected numeric string, got %q", s)
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("expected number, got %s", string(b))
	}
	*f = FlexFloat(v)
	return nil
}

func (f *FlexFloat) Float64Ptr() *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}
