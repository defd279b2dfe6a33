package model

// swagger:model QuestionPaper
type QuestionPaper struct {
	UUIDBase
	CollectionID string  `gorm:"type:varchar(36);index;not null" json:"collectionId"`
	Name         string  `gorm:"size:255;not null" json:"name"`
	FilePath     string  `gorm:"size:500;not null" json:"filePath"`
	FolderPath   string  `gorm:"size:500;not null" json:"folderPath"`
	PageCount    int     `gorm:"default:0" json:"pageCount"`
	SchemaPath   *string `gorm:"size:500" json:"schemaPath"` // 提取成功后写入，之后不再清空
}

func (QuestionPaper) TableName() string {
	return "question_papers"
}

// HasSchema 题目结构是否已提取
func (q *QuestionPaper) HasSchema() bool {
	return q.SchemaPath != nil && *q.SchemaPath != ""
}
