package model

import (
	"time"
)

// Suggestion 分析器产出的单条评审建议，打上产出它的运行 ID
type Suggestion struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	ReviewID int64  `gorm:"not null;index" json:"review_id"`
	RunID    string `gorm:"size:64;index" json:"run_id,omitempty"` // 旧数据可能为空
	Level    int    `json:"level,omitempty"`                       // 产出该建议的分析层级
	FilePath string `gorm:"size:500" json:"file_path,omitempty"`
	Line     int    `json:"line,omitempty"`
	Severity string `gorm:"size:20" json:"severity,omitempty"` // info, warning, error
	Title    string `gorm:"size:500" json:"title"`
	Body     string `gorm:"type:text" json:"body,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Suggestion) TableName() string {
	return "suggestions"
}
