package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// 任务整体状态
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// 单层状态
const (
	LevelPending   = "pending"
	LevelRunning   = "running"
	LevelCompleted = "completed"
	LevelFailed    = "failed"
	LevelCancelled = "cancelled"
	LevelSkipped   = "skipped"
)

// 层级编号：1、2 为互相独立的分析层，3 为综合层
const (
	LevelQuick     = 1
	LevelDeep      = 2
	LevelSynthesis = 3
	NumLevels      = 3
)

var (
	ErrJobNotFound   = errors.New("任务不存在")
	ErrJobTerminal   = errors.New("任务已结束")
	ErrTooManyJobs   = errors.New("运行中的分析任务过多，请稍后重试")
	ErrBadTransition = errors.New("非法的层级状态转换")
)

// Target 分析任务的目标实体（归一化后作为索引键）
type Target struct {
	ReviewID  int64  `json:"review_id"`
	RepoOwner string `json:"repo_owner,omitempty"`
	RepoName  string `json:"repo_name,omitempty"`
	PRNumber  int    `json:"pr_number,omitempty"`
}

// Key 归一化索引键
func (t Target) Key() string {
	if t.ReviewID > 0 {
		return fmt.Sprintf("review:%d", t.ReviewID)
	}
	return fmt.Sprintf("pr:%s/%s#%d", t.RepoOwner, t.RepoName, t.PRNumber)
}

// LevelState 单个分析层级的状态
type LevelState struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// JobStatus 一次分析任务的内存态聚合
type JobStatus struct {
	JobID          string              `json:"job_id"`
	Target         Target              `json:"target"`
	Status         string              `json:"status"`
	Levels         map[int]*LevelState `json:"levels"`
	Message        string              `json:"message,omitempty"`
	CompletedLevel int                 `json:"completed_level,omitempty"`
	Error          string              `json:"error,omitempty"`
	Result         interface{}         `json:"result,omitempty"`
	StartedAt      time.Time           `json:"started_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`

	// 任务级 cancel，不随状态快照序列化
	cancel context.CancelFunc
}

// Terminal 整体状态是否已到终态
func (s *JobStatus) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func levelTerminal(status string) bool {
	switch status {
	case LevelCompleted, LevelFailed, LevelCancelled, LevelSkipped:
		return true
	}
	return false
}

// clone 深拷贝快照，调用方持有后不受后续变更影响
func (s *JobStatus) clone() *JobStatus {
	cp := *s
	cp.cancel = nil
	cp.Levels = make(map[int]*LevelState, len(s.Levels))
	for n, ls := range s.Levels {
		lv := *ls
		cp.Levels[n] = &lv
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Registry 进程内任务注册表。jobs 与 target 索引由同一把锁保护：
// 注册表条目和索引条目必须作为一个整体创建与删除。
type Registry struct {
	mu            sync.Mutex
	jobs          map[string]*JobStatus
	index         map[string]string // target key -> jobID
	maxActiveJobs int
}

func NewRegistry(maxActiveJobs int) *Registry {
	if maxActiveJobs <= 0 {
		maxActiveJobs = 8
	}
	return &Registry{
		jobs:          make(map[string]*JobStatus),
		index:         make(map[string]string),
		maxActiveJobs: maxActiveJobs,
	}
}

// Create 登记新任务并建立 target 索引。层 1、2 立即置为 running，
// 层 3 为 pending（需等前两层产出），skipLevel3 时直接置 skipped。
func (r *Registry) Create(jobID string, target Target, skipLevel3 bool, cancel context.CancelFunc) (*JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, j := range r.jobs {
		if !j.Terminal() {
			active++
		}
	}
	if active >= r.maxActiveJobs {
		return nil, ErrTooManyJobs
	}

	level3 := LevelPending
	if skipLevel3 {
		level3 = LevelSkipped
	}

	job := &JobStatus{
		JobID:  jobID,
		Target: target,
		Status: StatusRunning,
		Levels: map[int]*LevelState{
			LevelQuick:     {Status: LevelRunning},
			LevelDeep:      {Status: LevelRunning},
			LevelSynthesis: {Status: level3},
		},
		Message:   "分析已启动",
		StartedAt: time.Now(),
		cancel:    cancel,
	}

	r.jobs[jobID] = job
	// 同一 target 重复触发不互斥，索引采用最近者胜
	r.index[target.Key()] = jobID

	return job.clone(), nil
}

// Get 按任务 ID 取状态快照
func (r *Registry) Get(jobID string) (*JobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// ActiveJobFor 按目标取当前活跃任务。索引指向的任务若已不在注册表中，
// 顺手删掉过期指针（自愈）。
func (r *Registry) ActiveJobFor(target Target) (*JobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := target.Key()
	jobID, ok := r.index[key]
	if !ok {
		return nil, false
	}
	job, ok := r.jobs[jobID]
	if !ok {
		delete(r.index, key)
		return nil, false
	}
	return job.clone(), true
}

// UpdateLevel 推进单个层级状态，返回更新后的快照。
// 层级只能沿 pending→running→终态 单向推进；skipped 不可再变。
func (r *Registry) UpdateLevel(jobID string, level int, status, message string) (*JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	ls, ok := job.Levels[level]
	if !ok {
		return nil, fmt.Errorf("%w: level %d", ErrBadTransition, level)
	}
	if !validTransition(ls.Status, status) {
		return nil, fmt.Errorf("%w: level %d %s -> %s", ErrBadTransition, level, ls.Status, status)
	}

	ls.Status = status
	ls.Message = message
	if message != "" {
		job.Message = message
	}
	return job.clone(), nil
}

func validTransition(from, to string) bool {
	if from == to {
		// 消息更新允许重复置同一状态
		return from == LevelRunning || from == LevelPending
	}
	switch from {
	case LevelPending:
		return to == LevelRunning || to == LevelFailed || to == LevelCancelled
	case LevelRunning:
		return to == LevelCompleted || to == LevelFailed || to == LevelCancelled
	}
	// 终态与 skipped 不可再转换
	return false
}

// Complete 将层 1..completedLevel 以及综合层（未跳过时）置为 completed，
// 整体置 completed，摘除 target 索引。
func (r *Registry) Complete(jobID string, completedLevel int, message string, result interface{}) (*JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Terminal() {
		return nil, ErrJobTerminal
	}

	for _, ls := range job.Levels {
		if !levelTerminal(ls.Status) {
			ls.Status = LevelCompleted
		}
	}

	job.Status = StatusCompleted
	job.CompletedLevel = completedLevel
	job.Message = message
	job.Result = result
	now := time.Now()
	job.CompletedAt = &now

	r.unindexLocked(job)
	return job.clone(), nil
}

// Fail 将所有未到终态的层置为 failed，整体置 failed，摘除索引。
func (r *Registry) Fail(jobID string, errMsg string) (*JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Terminal() {
		return nil, ErrJobTerminal
	}

	for _, ls := range job.Levels {
		if !levelTerminal(ls.Status) {
			ls.Status = LevelFailed
		}
	}

	job.Status = StatusFailed
	job.Error = errMsg
	job.Message = "分析失败"
	now := time.Now()
	job.CompletedAt = &now

	r.unindexLocked(job)
	return job.clone(), nil
}

// Cancel 将所有未到终态的层置为 cancelled，整体置 cancelled，摘除索引，
// 并触发任务级 context cancel。已到终态时返回 ErrJobTerminal（幂等由调用方处理）。
func (r *Registry) Cancel(jobID string) (*JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Terminal() {
		return nil, ErrJobTerminal
	}

	for _, ls := range job.Levels {
		if !levelTerminal(ls.Status) {
			ls.Status = LevelCancelled
		}
	}

	job.Status = StatusCancelled
	job.Message = "已被用户取消"
	now := time.Now()
	job.CompletedAt = &now

	if job.cancel != nil {
		job.cancel()
	}

	r.unindexLocked(job)
	return job.clone(), nil
}

// unindexLocked 摘除 target 索引。三条终态路径都会走到这里，
// 只在索引仍指向本任务时删除，保证恰好删一次。
func (r *Registry) unindexLocked(job *JobStatus) {
	key := job.Target.Key()
	if r.index[key] == job.JobID {
		delete(r.index, key)
	}
}

// ActiveCount 当前非终态任务数
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, j := range r.jobs {
		if !j.Terminal() {
			n++
		}
	}
	return n
}

// PruneTerminal 清理到达终态超过 retention 的任务，返回清理数量。
// 注册表不持久化，Run 记录才是终态任务的长期事实。
func (r *Registry) PruneTerminal(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	pruned := 0
	for id, job := range r.jobs {
		if job.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			r.unindexLocked(job)
			pruned++
		}
	}
	return pruned
}
