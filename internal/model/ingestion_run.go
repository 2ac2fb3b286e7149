package model

import "time"

// 导入任务的状态。
const (
	IngestionRunning   = "running"
	IngestionSucceeded = "succeeded"
	IngestionFailed    = "failed"
)

// IngestionRun 是一次导入的台账记录。
type IngestionRun struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Dataset    string     `gorm:"type:varchar(255);index;not null" json:"dataset"`
	Split      string     `gorm:"type:varchar(64)" json:"split"`
	Source     string     `gorm:"type:varchar(32)" json:"source"`
	Records    int        `json:"records"`
	Status     string     `gorm:"type:varchar(16);index" json:"status"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (IngestionRun) TableName() string {
	return "ingestion_runs"
}
