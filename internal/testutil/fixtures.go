package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
)

// TestReview 创建测试评审
func TestReview(t *testing.T, db *gorm.DB, opts ...func(*model.Review)) *model.Review {
	t.Helper()

	review := &model.Review{
		RepoOwner: "acme",
		RepoName:  fmt.Sprintf("widget-%d", time.Now().UnixNano()%100000),
		PRNumber:  42,
		Title:     "Add widget pipeline",
		HeadSHA:   "a1b2c3d4e5f6",
	}

	for _, opt := range opts {
		opt(review)
	}

	if err := db.Create(review).Error; err != nil {
		t.Fatalf("Failed to create test review: %v", err)
	}

	return review
}

// WithTarget 设置目标仓库与 PR 号
func WithTarget(owner, repo string, prNumber int) func(*model.Review) {
	return func(r *model.Review) {
		r.RepoOwner = owner
		r.RepoName = repo
		r.PRNumber = prNumber
	}
}

// WithDefaults 设置仓库级默认分析参数
func WithDefaults(provider, modelName, instructions string) func(*model.Review) {
	return func(r *model.Review) {
		r.DefaultProvider = provider
		r.DefaultModel = modelName
		r.DefaultInstructions = instructions
	}
}

// WithAnalyzedAt 标记评审分析过（旧数据场景）
func WithAnalyzedAt(at time.Time) func(*model.Review) {
	return func(r *model.Review) {
		r.AnalyzedAt = &at
	}
}

// TestRun 创建测试运行记录
func TestRun(t *testing.T, db *gorm.DB, reviewID int64, opts ...func(*model.AnalysisRun)) *model.AnalysisRun {
	t.Helper()

	now := time.Now()
	run := &model.AnalysisRun{
		ID:             uuid.NewString(),
		ReviewID:       reviewID,
		Provider:       "openai",
		Model:          "gpt-4o",
		Tier:           "balanced",
		Status:         model.RunStatusCompleted,
		CompletedLevel: 3,
		StartedAt:      now,
		CompletedAt:    &now,
	}

	for _, opt := range opts {
		opt(run)
	}

	if err := db.Create(run).Error; err != nil {
		t.Fatalf("Failed to create test run: %v", err)
	}

	return run
}

// WithStartedAt 设置运行开始时间
func WithStartedAt(at time.Time) func(*model.AnalysisRun) {
	return func(r *model.AnalysisRun) {
		r.StartedAt = at
	}
}

// WithRunStatus 设置运行状态
func WithRunStatus(status string) func(*model.AnalysisRun) {
	return func(r *model.AnalysisRun) {
		r.Status = status
	}
}

// TestSuggestion 创建测试建议
func TestSuggestion(t *testing.T, db *gorm.DB, reviewID int64, runID string, opts ...func(*model.Suggestion)) *model.Suggestion {
	t.Helper()

	suggestion := &model.Suggestion{
		ReviewID: reviewID,
		RunID:    runID,
		Level:    1,
		FilePath: "internal/widget/widget.go",
		Line:     10,
		Severity: "warning",
		Title:    "未处理的错误返回值",
		Body:     "这里的错误被丢弃了，建议向上传递",
	}

	for _, opt := range opts {
		opt(suggestion)
	}

	if err := db.Create(suggestion).Error; err != nil {
		t.Fatalf("Failed to create test suggestion: %v", err)
	}

	return suggestion
}
