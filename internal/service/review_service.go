package service

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/repository"
)

// ReviewService 评审实体的基本读写（评审本身的完整 CRUD 属于外围，
// 这里只保留分析触发链路需要的部分）
type ReviewService struct {
	reviewRepo *repository.ReviewRepository
}

func NewReviewService(reviewRepo *repository.ReviewRepository) *ReviewService {
	return &ReviewService{reviewRepo: reviewRepo}
}

func (s *ReviewService) Create(review *model.Review) error {
	return s.reviewRepo.Create(review)
}

func (s *ReviewService) Get(id int64) (*model.Review, error) {
	review, err := s.reviewRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	return review, nil
}

func (s *ReviewService) GetByTarget(owner, repo string, prNumber int) (*model.Review, error) {
	review, err := s.reviewRepo.GetByTarget(owner, repo, prNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	return review, nil
}
