package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/analyzer"
	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/model/dto"
	"github.com/qs3c/review_go_server/internal/pkg/jobs"
	"github.com/qs3c/review_go_server/internal/pkg/oss"
	"github.com/qs3c/review_go_server/internal/pkg/procs"
	"github.com/qs3c/review_go_server/internal/pkg/pubsub"
	"github.com/qs3c/review_go_server/internal/pkg/ws"
	"github.com/qs3c/review_go_server/internal/repository"
)

var (
	ErrReviewNotFound      = errors.New("评审不存在")
	ErrJobNotFound         = errors.New("分析任务不存在")
	ErrInvalidTier         = errors.New("无效的分析档位")
	ErrInstructionsTooLong = errors.New("自定义指令超出长度限制")
)

// AnalysisService 多层分析的编排层：接收触发请求、维护任务注册表、
// 扇出进度、协调取消、落盘运行记录。
type AnalysisService struct {
	reviewRepo     *repository.ReviewRepository
	runRepo        *repository.RunRepository
	suggestionRepo *repository.SuggestionRepository
	registry       *jobs.Registry
	broadcaster    *jobs.Broadcaster
	tracker        *procs.Tracker
	analyzer       analyzer.Analyzer
	hub            *ws.Hub           // 可为 nil
	publisher      *pubsub.Publisher // 可为 nil
	ossClient      *oss.Client       // 可为 nil
	cfg            *config.Config
}

func NewAnalysisService(
	reviewRepo *repository.ReviewRepository,
	runRepo *repository.RunRepository,
	suggestionRepo *repository.SuggestionRepository,
	registry *jobs.Registry,
	broadcaster *jobs.Broadcaster,
	tracker *procs.Tracker,
	az analyzer.Analyzer,
	cfg *config.Config,
) *AnalysisService {
	return &AnalysisService{
		reviewRepo:     reviewRepo,
		runRepo:        runRepo,
		suggestionRepo: suggestionRepo,
		registry:       registry,
		broadcaster:    broadcaster,
		tracker:        tracker,
		analyzer:       az,
		cfg:            cfg,
	}
}

// SetHub 挂接 websocket 推送（可选）
func (s *AnalysisService) SetHub(hub *ws.Hub) {
	s.hub = hub
}

// SetPublisher 挂接 Redis 进度镜像（可选）
func (s *AnalysisService) SetPublisher(publisher *pubsub.Publisher) {
	s.publisher = publisher
}

// SetOSSClient 挂接运行结果归档上传（可选）
func (s *AnalysisService) SetOSSClient(client *oss.Client) {
	s.ossClient = client
}

// Trigger 触发一次分析。校验同步完成，分析本身在独立 goroutine 中执行，
// 调用方拿到 jobID 即返回。
func (s *AnalysisService) Trigger(reviewID int64, req *dto.TriggerAnalysisRequest) (*dto.TriggerAnalysisResponse, error) {
	review, err := s.reviewRepo.GetByID(reviewID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}

	instructions := strings.TrimSpace(req.CustomInstructions)
	if utf8.RuneCountInString(instructions) > s.cfg.Limits.MaxInstructionsLen {
		return nil, ErrInstructionsTooLong
	}
	if req.Tier != "" && !validTier(req.Tier, s.cfg.Analyzer.Tiers) {
		return nil, ErrInvalidTier
	}

	// 生效参数优先级：请求 > 仓库默认 > 进程默认
	provider := firstNonEmpty(req.Provider, review.DefaultProvider, s.cfg.Analyzer.DefaultProvider)
	modelName := firstNonEmpty(req.Model, review.DefaultModel, s.cfg.Analyzer.DefaultModel)

	jobID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	target := jobs.Target{
		ReviewID:  review.ID,
		RepoOwner: review.RepoOwner,
		RepoName:  review.RepoName,
		PRNumber:  review.PRNumber,
	}

	snapshot, err := s.registry.Create(jobID, target, req.SkipLevel3, cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	// 立刻广播初始快照：先订阅后触发、或触发与订阅竞争时，
	// 双方看到的起始状态一致
	s.publish(snapshot)

	areq := &analyzer.Request{
		JobID:               jobID,
		ReviewID:            review.ID,
		RepoOwner:           review.RepoOwner,
		RepoName:            review.RepoName,
		PRNumber:            review.PRNumber,
		HeadSHA:             review.HeadSHA,
		Provider:            provider,
		Model:               modelName,
		Tier:                req.Tier,
		RepoInstructions:    review.DefaultInstructions,
		RequestInstructions: instructions,
		SkipLevel3:          req.SkipLevel3,
	}

	// 任务生命周期归编排层所有，不挂在触发请求上
	go s.run(ctx, jobID, review, areq, snapshot.StartedAt)

	log.Printf("Job %s: analysis triggered for review %d (%s/%s#%d)",
		jobID, review.ID, review.RepoOwner, review.RepoName, review.PRNumber)

	return &dto.TriggerAnalysisResponse{
		JobID:   jobID,
		Status:  "started",
		Message: "分析已启动",
	}, nil
}

// run 等待分析器落定并执行终态收尾
func (s *AnalysisService) run(ctx context.Context, jobID string, review *model.Review, areq *analyzer.Request, startedAt time.Time) {
	defer s.tracker.KillAll(jobID) // 兜底：正常退出时应已无登记进程

	sink := &registrySink{svc: s, jobID: jobID}
	result, err := s.analyzer.Analyze(ctx, areq, sink)

	switch {
	case err == nil:
		s.finishCompleted(jobID, review, areq, result, startedAt)
	case errors.Is(err, analyzer.ErrCancelled):
		// 终态已由取消路径写好，这里只补运行记录和日志
		log.Printf("Job %s: analyzer returned cancellation", jobID)
		s.recordRun(jobID, review, areq, &model.AnalysisRun{
			Status:    model.RunStatusCancelled,
			StartedAt: startedAt,
		})
	default:
		s.finishFailed(jobID, review, areq, err, startedAt)
	}
}

func (s *AnalysisService) finishCompleted(jobID string, review *model.Review, areq *analyzer.Request, result *analyzer.Result, startedAt time.Time) {
	runID := uuid.NewString()

	suggestions := make([]*model.Suggestion, 0, len(result.Suggestions))
	for _, sg := range result.Suggestions {
		suggestions = append(suggestions, &model.Suggestion{
			ReviewID: review.ID,
			RunID:    runID,
			Level:    sg.Level,
			FilePath: sg.FilePath,
			Line:     sg.Line,
			Severity: sg.Severity,
			Title:    sg.Title,
			Body:     sg.Body,
		})
	}
	if err := s.suggestionRepo.CreateBatch(suggestions); err != nil {
		log.Printf("Job %s: save suggestions: %v", jobID, err)
	}

	now := time.Now()
	run := &model.AnalysisRun{
		ID:                  runID,
		ReviewID:            review.ID,
		Provider:            areq.Provider,
		Model:               areq.Model,
		Tier:                areq.Tier,
		RepoInstructions:    areq.RepoInstructions,
		RequestInstructions: areq.RequestInstructions,
		HeadSHA:             areq.HeadSHA,
		Status:              model.RunStatusCompleted,
		CompletedLevel:      result.CompletedLevel,
		TotalSuggestions:    len(result.Suggestions),
		FilesAnalyzed:       result.FilesAnalyzed,
		Summary:             result.Summary,
		StartedAt:           startedAt,
		CompletedAt:         &now,
	}
	if err := s.runRepo.Record(run); err != nil {
		log.Printf("Job %s: record run: %v", jobID, err)
	}
	if err := s.reviewRepo.SetLastRun(review.ID, runID, startedAt); err != nil {
		log.Printf("Job %s: update review last run: %v", jobID, err)
	}

	summary := map[string]interface{}{
		"run_id":            runID,
		"completed_level":   result.CompletedLevel,
		"total_suggestions": len(result.Suggestions),
		"files_analyzed":    result.FilesAnalyzed,
	}
	snapshot, err := s.registry.Complete(jobID, result.CompletedLevel, "分析完成", summary)
	if err != nil {
		// 完成与取消赛跑时取消者先到：不再覆盖终态
		log.Printf("Job %s: finalize skipped: %v", jobID, err)
		return
	}
	s.publish(snapshot)

	s.archiveRun(review.ID, run, result)
	log.Printf("Job %s: completed, level=%d, suggestions=%d", jobID, result.CompletedLevel, len(result.Suggestions))
}

func (s *AnalysisService) finishFailed(jobID string, review *model.Review, areq *analyzer.Request, cause error, startedAt time.Time) {
	snapshot, err := s.registry.Fail(jobID, cause.Error())
	if err != nil {
		// 已被取消的任务不再记失败
		log.Printf("Job %s: fail skipped: %v", jobID, err)
		return
	}
	s.publish(snapshot)

	s.recordRun(jobID, review, areq, &model.AnalysisRun{
		Status:       model.RunStatusFailed,
		ErrorMessage: cause.Error(),
		StartedAt:    startedAt,
	})
	log.Printf("Job %s: failed: %v", jobID, cause)
}

// recordRun 补全公共字段后落盘运行记录
func (s *AnalysisService) recordRun(jobID string, review *model.Review, areq *analyzer.Request, run *model.AnalysisRun) {
	now := time.Now()
	run.ID = uuid.NewString()
	run.ReviewID = review.ID
	run.Provider = areq.Provider
	run.Model = areq.Model
	run.Tier = areq.Tier
	run.RepoInstructions = areq.RepoInstructions
	run.RequestInstructions = areq.RequestInstructions
	run.HeadSHA = areq.HeadSHA
	run.CompletedAt = &now

	if err := s.runRepo.Record(run); err != nil {
		log.Printf("Job %s: record run: %v", jobID, err)
		return
	}
	if err := s.reviewRepo.SetLastRun(review.ID, run.ID, run.StartedAt); err != nil {
		log.Printf("Job %s: update review last run: %v", jobID, err)
	}
}

// archiveRun 归档运行产出到 OSS（可选，尽力而为）
func (s *AnalysisService) archiveRun(reviewID int64, run *model.AnalysisRun, result *analyzer.Result) {
	if s.ossClient == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"run":         run,
		"suggestions": result.Suggestions,
	})
	if err != nil {
		log.Printf("Run %s: marshal artifact: %v", run.ID, err)
		return
	}
	url, err := s.ossClient.UploadRunArtifact(reviewID, run.ID, payload)
	if err != nil {
		log.Printf("Run %s: upload artifact: %v", run.ID, err)
		return
	}
	log.Printf("Run %s: artifact archived at %s", run.ID, url)
}

// Cancel 取消任务：先翻终态并触发任务级 ctx 取消，再统一杀掉登记进程。
// 已终态的任务直接返回当前状态（幂等）。
func (s *AnalysisService) Cancel(jobID string) (*dto.CancelAnalysisResponse, error) {
	snapshot, err := s.registry.Cancel(jobID)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			return nil, ErrJobNotFound
		case errors.Is(err, jobs.ErrJobTerminal):
			cur, ok := s.registry.Get(jobID)
			if !ok {
				return nil, ErrJobNotFound
			}
			return &dto.CancelAnalysisResponse{
				Success:         true,
				ProcessesKilled: 0,
				Status:          cur.Status,
			}, nil
		}
		return nil, err
	}

	killed := s.tracker.KillAll(jobID)
	s.publish(snapshot)

	log.Printf("Job %s: cancelled, %d process(es) killed", jobID, killed)
	return &dto.CancelAnalysisResponse{
		Success:         true,
		ProcessesKilled: killed,
		Status:          snapshot.Status,
	}, nil
}

// GetStatus 查询任务状态快照
func (s *AnalysisService) GetStatus(jobID string) (*jobs.JobStatus, error) {
	snapshot, ok := s.registry.Get(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}
	return snapshot, nil
}

// ActiveJob 查询某评审当前活跃的分析任务
func (s *AnalysisService) ActiveJob(reviewID int64) *dto.ActiveJobResponse {
	snapshot, ok := s.registry.ActiveJobFor(jobs.Target{ReviewID: reviewID})
	if !ok {
		return &dto.ActiveJobResponse{Running: false}
	}
	return &dto.ActiveJobResponse{
		Running: !snapshot.Terminal(),
		JobID:   snapshot.JobID,
		Status:  snapshot.Status,
	}
}

// Broadcaster 暴露给推送 handler 挂订阅通道
func (s *AnalysisService) Broadcaster() *jobs.Broadcaster {
	return s.broadcaster
}

// publish 把状态快照推给所有观察面：进程内广播器、ws 连接、Redis 镜像
func (s *AnalysisService) publish(status *jobs.JobStatus) {
	s.broadcaster.Publish(status)

	if s.hub != nil {
		s.hub.SendToJob(status.JobID, &ws.Message{Type: "progress", Data: status})
	}
	if s.publisher != nil {
		// Redis 是网络调用，不能挡住进度上报路径
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.publisher.PublishProgress(ctx, status); err != nil {
				log.Printf("Job %s: mirror progress to redis: %v", status.JobID, err)
			}
		}()
	}
}

// registrySink 把分析器的层级进度写入注册表并广播
type registrySink struct {
	svc   *AnalysisService
	jobID string
}

func (k *registrySink) Report(level int, status, message string) {
	snapshot, err := k.svc.registry.UpdateLevel(k.jobID, level, status, message)
	if err != nil {
		// 终态之后的迟到进度直接丢弃
		log.Printf("Job %s: drop progress for level %d: %v", k.jobID, level, err)
		return
	}
	k.svc.publish(snapshot)
}

func validTier(tier string, tiers []string) bool {
	for _, t := range tiers {
		if t == tier {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
