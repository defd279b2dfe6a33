package model

import "time"

type MonitorStatus string

const (
	MonitorRunning    MonitorStatus = "running"
	MonitorCompleted  MonitorStatus = "completed"
	MonitorIncomplete MonitorStatus = "incomplete"
	MonitorAborted    MonitorStatus = "aborted"
)

// EvaluationMonitor 集合级评阅进度，按答卷计数
// swagger:model EvaluationMonitor
type EvaluationMonitor struct {
	UUIDBase
	CollectionID  string        `gorm:"type:varchar(36);uniqueIndex;not null" json:"collectionId"`
	TotalDocs     int           `gorm:"not null;default:0" json:"totalDocs"`
	EvaluatedDocs int           `gorm:"not null;default:0" json:"evaluatedDocs"`
	Status        MonitorStatus `gorm:"size:20;default:'running'" json:"status"`
	Force         bool          `gorm:"column:force_rerun;default:false" json:"force"`
	StartedAt     time.Time     `json:"startedAt"`
	FinishedAt    *time.Time    `json:"finishedAt"`
}

func (EvaluationMonitor) TableName() string {
	return "evaluation_monitors"
}

func (m *EvaluationMonitor) IsComplete() bool {
	return m.EvaluatedDocs >= m.TotalDocs
}
