package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/analyzer"
	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/model/dto"
	"github.com/qs3c/review_go_server/internal/pkg/jobs"
	"github.com/qs3c/review_go_server/internal/pkg/procs"
	"github.com/qs3c/review_go_server/internal/repository"
	"github.com/qs3c/review_go_server/internal/testutil"
)

// fakeAnalyzer 可编排的分析器替身。release 为 nil 时立刻落定，
// 否则阻塞到 release 关闭或 ctx 取消。
type fakeAnalyzer struct {
	mu      sync.Mutex
	result  *analyzer.Result
	err     error
	release chan struct{}
	lastReq *analyzer.Request
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req *analyzer.Request, sink analyzer.ProgressSink) (*analyzer.Result, error) {
	f.mu.Lock()
	f.lastReq = req
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, analyzer.ErrCancelled
		}
	}
	if ctx.Err() != nil {
		return nil, analyzer.ErrCancelled
	}
	return f.result, f.err
}

func (f *fakeAnalyzer) request() *analyzer.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func testConfig() *config.Config {
	return &config.Config{
		Analyzer: config.AnalyzerConfig{
			DefaultProvider: "openai",
			DefaultModel:    "gpt-4o",
			Tiers:           config.DefaultTiers,
		},
		Limits: config.LimitsConfig{
			MaxActiveJobs:      8,
			MaxObserversPerJob: 32,
			MaxInstructionsLen: 100,
		},
	}
}

func setupAnalysisService(t *testing.T, db *gorm.DB, fake *fakeAnalyzer) *AnalysisService {
	t.Helper()

	cfg := testConfig()
	registry := jobs.NewRegistry(cfg.Limits.MaxActiveJobs)
	broadcaster := jobs.NewBroadcaster(registry, cfg.Limits.MaxObserversPerJob)
	return NewAnalysisService(
		repository.NewReviewRepository(db),
		repository.NewRunRepository(db),
		repository.NewSuggestionRepository(db),
		registry,
		broadcaster,
		procs.NewTracker(),
		fake,
		cfg,
	)
}

// waitTerminal 轮询任务直到终态，分析跑在独立 goroutine 里
func waitTerminal(t *testing.T, svc *AnalysisService, jobID string) *jobs.JobStatus {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		status, err := svc.GetStatus(jobID)
		require.NoError(t, err)
		if status.Terminal() {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return nil
}

func TestAnalysisService_Trigger_ReviewNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	svc := setupAnalysisService(t, db, &fakeAnalyzer{result: &analyzer.Result{}})

	_, err := svc.Trigger(9999, &dto.TriggerAnalysisRequest{})
	assert.ErrorIs(t, err, ErrReviewNotFound)

	// 没有任务被登记
	resp := svc.ActiveJob(9999)
	assert.False(t, resp.Running)
}

func TestAnalysisService_Trigger_InvalidTier(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	svc := setupAnalysisService(t, db, &fakeAnalyzer{result: &analyzer.Result{}})

	_, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{Tier: "turbo"})
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestAnalysisService_Trigger_InstructionsTooLong(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	svc := setupAnalysisService(t, db, &fakeAnalyzer{result: &analyzer.Result{}})

	_, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{
		CustomInstructions: strings.Repeat("多", 101),
	})
	assert.ErrorIs(t, err, ErrInstructionsTooLong)
}

func TestAnalysisService_Trigger_ParameterPrecedence(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db,
		testutil.WithDefaults("anthropic", "claude-sonnet", "仓库级指令"))
	fake := &fakeAnalyzer{result: &analyzer.Result{CompletedLevel: 3}}
	svc := setupAnalysisService(t, db, fake)

	// 请求指定 model，provider 落到仓库默认
	resp, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{
		Model:              "claude-opus",
		CustomInstructions: "  本次指令  ",
	})
	require.NoError(t, err)
	waitTerminal(t, svc, resp.JobID)

	req := fake.request()
	require.NotNil(t, req)
	assert.Equal(t, "anthropic", req.Provider)
	assert.Equal(t, "claude-opus", req.Model)
	assert.Equal(t, "仓库级指令", req.RepoInstructions)
	assert.Equal(t, "本次指令", req.RequestInstructions)
}

func TestAnalysisService_CompletionPersistsRun(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	fake := &fakeAnalyzer{result: &analyzer.Result{
		CompletedLevel: 3,
		FilesAnalyzed:  4,
		Summary:        "两处资源泄漏",
		Suggestions: []analyzer.Suggestion{
			{Level: 1, FilePath: "a.go", Line: 10, Severity: "warning", Title: "未关 body"},
			{Level: 3, Title: "整体缺少超时控制"},
		},
	}}
	svc := setupAnalysisService(t, db, fake)

	resp, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{})
	require.NoError(t, err)
	assert.Equal(t, "started", resp.Status)

	status := waitTerminal(t, svc, resp.JobID)
	assert.Equal(t, jobs.StatusCompleted, status.Status)
	assert.Equal(t, 3, status.CompletedLevel)

	// 运行记录与建议落盘，且建议打上了本次 runID
	runs, err := repository.NewRunRepository(db).ListByReview(review.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].TotalSuggestions)
	assert.Equal(t, 4, runs[0].FilesAnalyzed)

	suggestions, err := repository.NewSuggestionRepository(db).ListByRun(runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, suggestions, 2)

	// 评审指针指向本次运行
	fresh, err := repository.NewReviewRepository(db).GetByID(review.ID)
	require.NoError(t, err)
	assert.Equal(t, runs[0].ID, fresh.LastRunID)
	assert.NotNil(t, fresh.AnalyzedAt)
}

func TestAnalysisService_SkipSynthesis(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	fake := &fakeAnalyzer{result: &analyzer.Result{CompletedLevel: 2}}
	svc := setupAnalysisService(t, db, fake)

	resp, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{SkipLevel3: true})
	require.NoError(t, err)

	status := waitTerminal(t, svc, resp.JobID)
	assert.Equal(t, jobs.StatusCompleted, status.Status)
	assert.Equal(t, 2, status.CompletedLevel)
	assert.Equal(t, jobs.LevelSkipped, status.Levels[jobs.LevelSynthesis].Status)
	assert.True(t, fake.request().SkipLevel3)
}

func TestAnalysisService_FailureRecordsRun(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	fake := &fakeAnalyzer{err: assert.AnError}
	svc := setupAnalysisService(t, db, fake)

	resp, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{})
	require.NoError(t, err)

	status := waitTerminal(t, svc, resp.JobID)
	assert.Equal(t, jobs.StatusFailed, status.Status)
	assert.NotEmpty(t, status.Error)

	runs, err := repository.NewRunRepository(db).ListByReview(review.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].ErrorMessage)
}

func TestAnalysisService_CancelRunningJob(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	fake := &fakeAnalyzer{release: make(chan struct{})}
	svc := setupAnalysisService(t, db, fake)

	resp, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{})
	require.NoError(t, err)

	cancelResp, err := svc.Cancel(resp.JobID)
	require.NoError(t, err)
	assert.True(t, cancelResp.Success)
	assert.Equal(t, jobs.StatusCancelled, cancelResp.Status)

	status := waitTerminal(t, svc, resp.JobID)
	assert.Equal(t, jobs.StatusCancelled, status.Status)

	// 取消路径落 cancelled 运行记录，绝不能出现 failed
	require.Eventually(t, func() bool {
		runs, lerr := repository.NewRunRepository(db).ListByReview(review.ID)
		return lerr == nil && len(runs) == 1
	}, 3*time.Second, 5*time.Millisecond)
	runs, err := repository.NewRunRepository(db).ListByReview(review.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, runs[0].Status)
}

func TestAnalysisService_CancelIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	fake := &fakeAnalyzer{release: make(chan struct{})}
	svc := setupAnalysisService(t, db, fake)

	resp, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{})
	require.NoError(t, err)

	first, err := svc.Cancel(resp.JobID)
	require.NoError(t, err)
	assert.True(t, first.Success)

	// 第二次取消返回当前终态，不报错
	second, err := svc.Cancel(resp.JobID)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, jobs.StatusCancelled, second.Status)
	assert.Equal(t, 0, second.ProcessesKilled)
}

func TestAnalysisService_Cancel_JobNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	svc := setupAnalysisService(t, db, &fakeAnalyzer{result: &analyzer.Result{}})

	_, err := svc.Cancel("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestAnalysisService_GetStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	fake := &fakeAnalyzer{release: make(chan struct{}), result: &analyzer.Result{CompletedLevel: 3}}
	svc := setupAnalysisService(t, db, fake)

	resp, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{})
	require.NoError(t, err)

	status, err := svc.GetStatus(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRunning, status.Status)

	_, err = svc.GetStatus("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	close(fake.release)
	waitTerminal(t, svc, resp.JobID)
}

func TestAnalysisService_ActiveJob(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	fake := &fakeAnalyzer{release: make(chan struct{})}
	svc := setupAnalysisService(t, db, fake)

	resp := svc.ActiveJob(review.ID)
	assert.False(t, resp.Running)

	trigger, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{})
	require.NoError(t, err)

	resp = svc.ActiveJob(review.ID)
	assert.True(t, resp.Running)
	assert.Equal(t, trigger.JobID, resp.JobID)

	_, err = svc.Cancel(trigger.JobID)
	require.NoError(t, err)

	// 终态后活跃查询为空
	resp = svc.ActiveJob(review.ID)
	assert.False(t, resp.Running)
}

func TestAnalysisService_SequentialRuns(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	review := testutil.TestReview(t, db)
	fake := &fakeAnalyzer{result: &analyzer.Result{
		CompletedLevel: 3,
		Suggestions:    []analyzer.Suggestion{{Level: 1, Title: "第一轮建议"}},
	}}
	svc := setupAnalysisService(t, db, fake)

	resp1, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{})
	require.NoError(t, err)
	waitTerminal(t, svc, resp1.JobID)

	fake.mu.Lock()
	fake.result = &analyzer.Result{
		CompletedLevel: 3,
		Suggestions: []analyzer.Suggestion{
			{Level: 1, Title: "第二轮建议 A"},
			{Level: 2, Title: "第二轮建议 B"},
		},
	}
	fake.mu.Unlock()

	resp2, err := svc.Trigger(review.ID, &dto.TriggerAnalysisRequest{})
	require.NoError(t, err)
	waitTerminal(t, svc, resp2.JobID)

	// 两次运行都有记录，新的在前
	runs, err := repository.NewRunRepository(db).ListByReview(review.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// 评审指针指向最近一次运行，其建议数为 2
	fresh, err := repository.NewReviewRepository(db).GetByID(review.ID)
	require.NoError(t, err)
	latest, err := repository.NewRunRepository(db).GetByID(fresh.LastRunID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.TotalSuggestions)
}
