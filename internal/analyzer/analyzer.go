package analyzer

import (
	"context"
	"errors"
)

// ErrCancelled 取消信号，与普通失败区分：调用方据此走取消收尾而非失败收尾
var ErrCancelled = errors.New("分析已取消")

// ProgressSink 分析器向编排层回报层级进度的回调口
type ProgressSink interface {
	Report(level int, status, message string)
}

// Request 一次分析请求的完整参数
type Request struct {
	JobID     string
	ReviewID  int64
	RepoOwner string
	RepoName  string
	PRNumber  int
	HeadSHA   string

	Provider string
	Model    string
	Tier     string

	// 仓库级与请求级指令分开传递
	RepoInstructions    string
	RequestInstructions string

	SkipLevel3 bool
}

// Suggestion 分析器产出的一条建议
type Suggestion struct {
	Level    int    `json:"level"`
	FilePath string `json:"file_path,omitempty"`
	Line     int    `json:"line,omitempty"`
	Severity string `json:"severity,omitempty"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
}

// Result 一次分析的最终产出
type Result struct {
	// 实际产出可用结果的最高层级：跳过综合层时为 2，否则为 3
	CompletedLevel int          `json:"completed_level"`
	Suggestions    []Suggestion `json:"suggestions"`
	FilesAnalyzed  int          `json:"files_analyzed"`
	Summary        string       `json:"summary,omitempty"`
}

// Analyzer 外部分析能力。实现必须在 ctx 取消后尽快返回 ErrCancelled。
type Analyzer interface {
	Analyze(ctx context.Context, req *Request, sink ProgressSink) (*Result, error)
}
