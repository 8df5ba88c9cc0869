package analyzer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/pkg/jobs"
	"github.com/qs3c/review_go_server/internal/pkg/procs"
)

// 分析器子进程的行协议：stdout 上每行一条 JSON
type cliLine struct {
	Type          string       `json:"type"` // progress 或 result
	Message       string       `json:"message,omitempty"`
	Suggestions   []Suggestion `json:"suggestions,omitempty"`
	FilesAnalyzed int          `json:"files_analyzed,omitempty"`
	Summary       string       `json:"summary,omitempty"`
}

// CLIAnalyzer 通过外部分析器进程执行各层分析。
// 层 1、2 各起一个进程并发跑，综合层在两者落定后再起一个。
// 所有子进程都登记到 Tracker，取消时由协调器统一杀掉。
type CLIAnalyzer struct {
	cfg     *config.AnalyzerConfig
	tracker *procs.Tracker
}

func NewCLIAnalyzer(cfg *config.AnalyzerConfig, tracker *procs.Tracker) *CLIAnalyzer {
	return &CLIAnalyzer{
		cfg:     cfg,
		tracker: tracker,
	}
}

func (a *CLIAnalyzer) Analyze(ctx context.Context, req *Request, sink ProgressSink) (*Result, error) {
	if a.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	// 层 1、2 并发执行
	outputs := make([]*cliLine, jobs.NumLevels+1)
	g, gctx := errgroup.WithContext(ctx)
	for _, level := range []int{jobs.LevelQuick, jobs.LevelDeep} {
		level := level
		g.Go(func() error {
			out, err := a.runLevel(gctx, req, level, "", sink)
			if err != nil {
				return err
			}
			outputs[level] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, a.classify(ctx, err)
	}

	result := &Result{CompletedLevel: jobs.LevelDeep}
	for _, level := range []int{jobs.LevelQuick, jobs.LevelDeep} {
		out := outputs[level]
		result.Suggestions = append(result.Suggestions, tagLevel(out.Suggestions, level)...)
		if out.FilesAnalyzed > result.FilesAnalyzed {
			result.FilesAnalyzed = out.FilesAnalyzed
		}
	}

	if req.SkipLevel3 {
		return result, nil
	}

	// 综合层：把前两层的建议喂给子进程
	sink.Report(jobs.LevelSynthesis, jobs.LevelRunning, "正在综合各层分析结果")
	seed, err := json.Marshal(result.Suggestions)
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis input: %w", err)
	}
	out, err := a.runLevel(ctx, req, jobs.LevelSynthesis, string(seed), sink)
	if err != nil {
		return nil, a.classify(ctx, err)
	}

	result.CompletedLevel = jobs.LevelSynthesis
	result.Suggestions = append(result.Suggestions, tagLevel(out.Suggestions, jobs.LevelSynthesis)...)
	result.Summary = out.Summary
	if out.FilesAnalyzed > result.FilesAnalyzed {
		result.FilesAnalyzed = out.FilesAnalyzed
	}
	return result, nil
}

// runLevel 跑一层分析子进程，流式读取行协议
func (a *CLIAnalyzer) runLevel(ctx context.Context, req *Request, level int, stdin string, sink ProgressSink) (*cliLine, error) {
	args := []string{
		"--level", strconv.Itoa(level),
		"--repo", fmt.Sprintf("%s/%s", req.RepoOwner, req.RepoName),
		"--pr", strconv.Itoa(req.PRNumber),
		"--provider", req.Provider,
		"--model", req.Model,
	}
	if req.Tier != "" {
		args = append(args, "--tier", req.Tier)
	}
	if req.HeadSHA != "" {
		args = append(args, "--head-sha", req.HeadSHA)
	}
	if req.RepoInstructions != "" {
		args = append(args, "--repo-instructions", req.RepoInstructions)
	}
	if req.RequestInstructions != "" {
		args = append(args, "--instructions", req.RequestInstructions)
	}

	cmd := exec.CommandContext(ctx, a.cfg.BinPath, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start analyzer level %d: %w", level, err)
	}

	handle := procs.OSHandle{Process: cmd.Process}
	a.tracker.Register(req.JobID, handle)
	defer a.tracker.Unregister(req.JobID, handle)

	var result *cliLine
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line cliLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			// 非协议输出当日志透传
			log.Printf("Job %s level %d: %s", req.JobID, level, scanner.Text())
			continue
		}
		switch line.Type {
		case "progress":
			sink.Report(level, jobs.LevelRunning, line.Message)
		case "result":
			l := line
			result = &l
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("analyzer level %d: %w", level, err)
	}
	if result == nil {
		return nil, fmt.Errorf("analyzer level %d exited without result", level)
	}

	// 层级的 completed 终态统一由编排层在收尾时落，这里只报运行中消息
	sink.Report(level, jobs.LevelRunning, fmt.Sprintf("第 %d 层分析已出结果", level))
	return result, nil
}

// classify 把 ctx 取消引起的进程被杀归类为取消信号，超时归类为失败，其余原样返回
func (a *CLIAnalyzer) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return ErrCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("分析超时: %w", err)
	}
	return err
}

func tagLevel(list []Suggestion, level int) []Suggestion {
	for i := range list {
		if list[i].Level == 0 {
			list[i].Level = level
		}
	}
	return list
}
