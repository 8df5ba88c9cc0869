package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/repository"
	"github.com/qs3c/review_go_server/internal/testutil"
)

func setupSuggestionService(db *gorm.DB) *SuggestionService {
	return NewSuggestionService(
		repository.NewSuggestionRepository(db),
		repository.NewRunRepository(db),
		repository.NewReviewRepository(db),
	)
}

func TestSuggestionService_List_LatestRunOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	now := time.Now()
	oldRun := testutil.TestRun(t, db, review.ID, testutil.WithStartedAt(now.Add(-time.Hour)))
	newRun := testutil.TestRun(t, db, review.ID, testutil.WithStartedAt(now))

	testutil.TestSuggestion(t, db, review.ID, oldRun.ID, func(s *model.Suggestion) {
		s.Title = "旧一轮的建议"
	})
	testutil.TestSuggestion(t, db, review.ID, newRun.ID, func(s *model.Suggestion) {
		s.Title = "新一轮的建议"
	})

	svc := setupSuggestionService(db)
	suggestions, err := svc.List(review.ID, false)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "新一轮的建议", suggestions[0].Title)
	assert.Equal(t, newRun.ID, suggestions[0].RunID)
}

func TestSuggestionService_List_All(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	now := time.Now()
	oldRun := testutil.TestRun(t, db, review.ID, testutil.WithStartedAt(now.Add(-time.Hour)))
	newRun := testutil.TestRun(t, db, review.ID, testutil.WithStartedAt(now))
	testutil.TestSuggestion(t, db, review.ID, oldRun.ID)
	testutil.TestSuggestion(t, db, review.ID, newRun.ID)

	svc := setupSuggestionService(db)
	suggestions, err := svc.List(review.ID, true)
	require.NoError(t, err)
	assert.Len(t, suggestions, 2)
}

func TestSuggestionService_List_NoRuns(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	svc := setupSuggestionService(db)

	suggestions, err := svc.List(review.ID, false)
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

func TestSuggestionService_List_LegacyFallback(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	// 旧数据：评审分析过，有建议但没有运行记录（RunID 为空）
	analyzedAt := time.Now().Add(-24 * time.Hour)
	review := testutil.TestReview(t, db, testutil.WithAnalyzedAt(analyzedAt))
	testutil.TestSuggestion(t, db, review.ID, "", func(s *model.Suggestion) {
		s.Title = "迁移前的建议"
	})

	svc := setupSuggestionService(db)
	suggestions, err := svc.List(review.ID, false)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "迁移前的建议", suggestions[0].Title)
}

func TestSuggestionService_List_ReviewNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	svc := setupSuggestionService(db)
	_, err := svc.List(9999, false)
	assert.ErrorIs(t, err, ErrReviewNotFound)
}
