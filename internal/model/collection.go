package model

// swagger:model Collection
type Collection struct {
	UUIDBase
	Name        string `gorm:"size:200;not null" json:"name"`
	Branch      string `gorm:"size:100" json:"branch"`
	Department  string `gorm:"size:100" json:"department"`
	School      string `gorm:"size:200" json:"school"`
	OwnerID     uint   `gorm:"index;not null" json:"ownerId"`
	IsEvaluated bool   `gorm:"default:false" json:"isEvaluated"`
}

func (Collection) TableName() string {
	return "collections"
}
