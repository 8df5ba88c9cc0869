package service

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/repository"
)

// SuggestionService 建议的读路径，默认只看最近一次运行的产出
type SuggestionService struct {
	suggestionRepo *repository.SuggestionRepository
	runRepo        *repository.RunRepository
	reviewRepo     *repository.ReviewRepository
}

func NewSuggestionService(
	suggestionRepo *repository.SuggestionRepository,
	runRepo *repository.RunRepository,
	reviewRepo *repository.ReviewRepository,
) *SuggestionService {
	return &SuggestionService{
		suggestionRepo: suggestionRepo,
		runRepo:        runRepo,
		reviewRepo:     reviewRepo,
	}
}

// List 某评审的建议。all 为 true 时跨运行全量返回，
// 否则只返回最近启动的那次运行打了标的建议。
// 没有任何运行记录时退回次级信号：评审分析过则按旧数据全量返回，
// 缺失的运行记录不当作硬错误。
func (s *SuggestionService) List(reviewID int64, all bool) ([]*model.Suggestion, error) {
	review, err := s.reviewRepo.GetByID(reviewID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}

	if all {
		return s.suggestionRepo.ListByReview(reviewID)
	}

	run, err := s.runRepo.LatestByReview(reviewID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 旧数据兼容：运行表为空但评审确实分析过
			if review.AnalyzedAt != nil {
				return s.suggestionRepo.ListByReview(reviewID)
			}
			return []*model.Suggestion{}, nil
		}
		return nil, err
	}

	return s.suggestionRepo.ListByRun(run.ID)
}
