package service

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/repository"
)

var ErrRunNotFound = errors.New("运行记录不存在")

// RunService 运行历史的读路径
type RunService struct {
	runRepo    *repository.RunRepository
	reviewRepo *repository.ReviewRepository
}

func NewRunService(runRepo *repository.RunRepository, reviewRepo *repository.ReviewRepository) *RunService {
	return &RunService{
		runRepo:    runRepo,
		reviewRepo: reviewRepo,
	}
}

// Get 按 ID 取运行记录
func (s *RunService) Get(runID string) (*model.AnalysisRun, error) {
	run, err := s.runRepo.GetByID(runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// Latest 某评审最近启动的一次运行
func (s *RunService) Latest(reviewID int64) (*model.AnalysisRun, error) {
	if _, err := s.reviewRepo.GetByID(reviewID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}

	run, err := s.runRepo.LatestByReview(reviewID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// List 某评审的全部运行，新的在前
func (s *RunService) List(reviewID int64) ([]*model.AnalysisRun, error) {
	if _, err := s.reviewRepo.GetByID(reviewID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	return s.runRepo.ListByReview(reviewID)
}
