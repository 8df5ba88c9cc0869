package model

import (
	"time"
)

// Review 一次 PR 评审对象（分析任务的目标实体）
type Review struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	RepoOwner string `gorm:"size:100;not null;uniqueIndex:idx_reviews_target" json:"repo_owner"`
	RepoName  string `gorm:"size:200;not null;uniqueIndex:idx_reviews_target" json:"repo_name"`
	PRNumber  int    `gorm:"not null;uniqueIndex:idx_reviews_target" json:"pr_number"`
	Title     string `gorm:"size:500" json:"title,omitempty"`
	HeadSHA   string `gorm:"size:64" json:"head_sha,omitempty"`

	// 仓库级默认配置（优先级低于单次请求参数，高于进程级默认）
	DefaultProvider     string `gorm:"size:50" json:"default_provider,omitempty"`
	DefaultModel        string `gorm:"size:100" json:"default_model,omitempty"`
	DefaultInstructions string `gorm:"type:text" json:"default_instructions,omitempty"`

	// 最近一次分析的指针，用于 "最新建议" 过滤
	LastRunID  string     `gorm:"size:64;index" json:"last_run_id,omitempty"`
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Review) TableName() string {
	return "reviews"
}
