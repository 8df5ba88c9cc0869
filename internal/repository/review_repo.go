package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
)

type ReviewRepository struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) Create(review *model.Review) error {
	return r.db.Create(review).Error
}

func (r *ReviewRepository) GetByID(id int64) (*model.Review, error) {
	var review model.Review
	err := r.db.Where("id = ?", id).First(&review).Error
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (r *ReviewRepository) GetByTarget(owner, repo string, prNumber int) (*model.Review, error) {
	var review model.Review
	err := r.db.Where("repo_owner = ? AND repo_name = ? AND pr_number = ?", owner, repo, prNumber).
		First(&review).Error
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (r *ReviewRepository) Update(review *model.Review) error {
	return r.db.Save(review).Error
}

// SetLastRun 更新最近一次运行指针
func (r *ReviewRepository) SetLastRun(reviewID int64, runID string, at time.Time) error {
	return r.db.Model(&model.Review{}).Where("id = ?", reviewID).
		Updates(map[string]interface{}{
			"last_run_id": runID,
			"analyzed_at": at,
		}).Error
}
