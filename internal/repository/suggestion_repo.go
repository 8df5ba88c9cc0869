package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
)

type SuggestionRepository struct {
	db *gorm.DB
}

func NewSuggestionRepository(db *gorm.DB) *SuggestionRepository {
	return &SuggestionRepository{db: db}
}

func (r *SuggestionRepository) CreateBatch(suggestions []*model.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	return r.db.Create(suggestions).Error
}

// ListByRun 某次运行产出的建议
func (r *SuggestionRepository) ListByRun(runID string) ([]*model.Suggestion, error) {
	var list []*model.Suggestion
	err := r.db.Where("run_id = ?", runID).
		Order("file_path ASC, line ASC, id ASC").
		Find(&list).Error
	return list, err
}

// ListByReview 某评审的全部建议（跨运行）
func (r *SuggestionRepository) ListByReview(reviewID int64) ([]*model.Suggestion, error) {
	var list []*model.Suggestion
	err := r.db.Where("review_id = ?", reviewID).
		Order("created_at DESC, id DESC").
		Find(&list).Error
	return list, err
}

// DeleteByRunIDs 清理指定运行的建议
func (r *SuggestionRepository) DeleteByRunIDs(runIDs []string) (int64, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}
	result := r.db.Where("run_id IN ?", runIDs).Delete(&model.Suggestion{})
	return result.RowsAffected, result.Error
}
