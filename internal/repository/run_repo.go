package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Record 追加写入一条终态运行记录
func (r *RunRepository) Record(run *model.AnalysisRun) error {
	return r.db.Create(run).Error
}

func (r *RunRepository) GetByID(id string) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	err := r.db.Where("id = ?", id).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestByReview 该评审最近启动的一次运行
func (r *RunRepository) LatestByReview(reviewID int64) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	err := r.db.Where("review_id = ?", reviewID).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListByReview 该评审的全部运行，新的在前。每次调用都是一轮新查询。
func (r *RunRepository) ListByReview(reviewID int64) ([]*model.AnalysisRun, error) {
	var runs []*model.AnalysisRun
	err := r.db.Where("review_id = ?", reviewID).
		Order("started_at DESC").
		Find(&runs).Error
	return runs, err
}

// CountByReview 该评审的运行条数
func (r *RunRepository) CountByReview(reviewID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.AnalysisRun{}).Where("review_id = ?", reviewID).Count(&count).Error
	return count, err
}

// DeleteOlderThan 清理早于给定时间的运行记录，返回删除条数
func (r *RunRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := r.db.Where("started_at < ?", cutoff).Delete(&model.AnalysisRun{})
	return result.RowsAffected, result.Error
}
