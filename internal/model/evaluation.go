package model

// Evaluation 每页每题一条，只追加不修改；强制重评写入新一轮，旧轮次保留备查
// swagger:model Evaluation
type Evaluation struct {
	UUIDBase
	PageID             string   `gorm:"type:varchar(36);index:idx_page_round;not null" json:"pageId"`
	Round              int      `gorm:"index:idx_page_round;not null;default:1" json:"round"`
	QuestionNo         *string  `gorm:"size:50" json:"questionNo"`
	ObtainedMarks      *float64 `json:"obtainedMarks"`
	MaxMarks           *float64 `json:"maxMarks"`
	Feedback           *string  `gorm:"type:text" json:"feedback"`
	EvaluationJSONPath string   `gorm:"size:500" json:"evaluationJsonPath"`
}

func (Evaluation) TableName() string {
	return "evaluations"
}
