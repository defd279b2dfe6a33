package model

// swagger:model Page
type Page struct {
	UUIDBase
	AnswerScriptID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_script_page" json:"answerScriptId"`
	PageNo         int    `gorm:"not null;uniqueIndex:idx_script_page" json:"pageNo"` // 从 1 开始连续编号
	ImagePath      string `gorm:"size:500;not null" json:"imagePath"`
	IsEvaluated    bool   `gorm:"default:false" json:"isEvaluated"`
	// 每次评阅成功加一，当前有效的记录 round 与之相同
	EvaluationRound int `gorm:"not null;default:0" json:"evaluationRound"`
}

func (Page) TableName() string {
	return "pages"
}
