package model

// swagger:model AnswerFolder
type AnswerFolder struct {
	UUIDBase
	CollectionID string `gorm:"type:varchar(36);index;not null" json:"collectionId"`
	Name         string `gorm:"size:255" json:"name"`
	FolderPath   string `gorm:"size:500;not null" json:"folderPath"`
}

func (AnswerFolder) TableName() string {
	return "answer_folders"
}

// swagger:model AnswerScript
type AnswerScript struct {
	UUIDBase
	AnswerFolderID string `gorm:"type:varchar(36);index;not null" json:"answerFolderId"`
	CollectionID   string `gorm:"type:varchar(36);index;not null" json:"collectionId"`
	Name           string `gorm:"size:255;not null" json:"name"`
	FilePath       string `gorm:"size:500;not null" json:"filePath"`
	FolderPath     string `gorm:"size:500;not null" json:"folderPath"`
	PageCount      int    `gorm:"default:0" json:"pageCount"`
	Pages          []Page `gorm:"foreignKey:AnswerScriptID" json:"pages,omitempty"`
}

func (AnswerScript) TableName() string {
	return "answer_scripts"
}
