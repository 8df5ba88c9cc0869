package model

import (
	"time"
)

// 运行状态常量
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// AnalysisRun 一次到达终态的分析任务的持久化记录
type AnalysisRun struct {
	ID       string `gorm:"primaryKey;size:64" json:"id"`
	ReviewID int64  `gorm:"not null;index" json:"review_id"`

	Provider string `gorm:"size:50;not null" json:"provider"`
	Model    string `gorm:"size:100;not null" json:"model"`
	Tier     string `gorm:"size:20" json:"tier,omitempty"`

	// 仓库级与请求级指令分开保存，便于审计
	RepoInstructions    string `gorm:"type:text" json:"repo_instructions,omitempty"`
	RequestInstructions string `gorm:"type:text" json:"request_instructions,omitempty"`

	HeadSHA          string     `gorm:"size:64" json:"head_sha,omitempty"`
	Status           string     `gorm:"size:20;not null;index" json:"status"` // completed, failed, cancelled
	CompletedLevel   int        `json:"completed_level"`
	TotalSuggestions int        `json:"total_suggestions"`
	FilesAnalyzed    int        `json:"files_analyzed"`
	ErrorMessage     string     `gorm:"type:text" json:"error_message,omitempty"`
	Summary          string     `gorm:"type:text" json:"summary,omitempty"`
	StartedAt        time.Time  `gorm:"index" json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	// 关联
	Review *Review `gorm:"foreignKey:ReviewID" json:"review,omitempty"`
}

func (AnalysisRun) TableName() string {
	return "analysis_runs"
}
