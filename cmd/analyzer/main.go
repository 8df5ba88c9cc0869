package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"
)

// 本地联调用的分析器桩：按行协议输出进度和结果。
// 真实部署时 analyzer.bin_path 指向实际的分析器。
var (
	level    = flag.Int("level", 1, "Analysis level to run (1-3)")
	repo     = flag.String("repo", "", "owner/name of the repository")
	pr       = flag.Int("pr", 0, "Pull request number")
	provider = flag.String("provider", "", "LLM provider")
	model    = flag.String("model", "", "Model name")
	tier     = flag.String("tier", "", "Analysis tier")
	headSHA  = flag.String("head-sha", "", "Head commit SHA")
	repoIns  = flag.String("repo-instructions", "", "Repository level instructions")
	reqIns   = flag.String("instructions", "", "Request level instructions")
	delayMS  = flag.Int("delay-ms", 200, "Delay between progress lines")
	failMode = flag.Bool("fail", false, "Exit with an error instead of a result")
)

type line struct {
	Type          string       `json:"type"`
	Message       string       `json:"message,omitempty"`
	Suggestions   []suggestion `json:"suggestions,omitempty"`
	FilesAnalyzed int          `json:"files_analyzed,omitempty"`
	Summary       string       `json:"summary,omitempty"`
}

type suggestion struct {
	Level    int    `json:"level"`
	FilePath string `json:"file_path,omitempty"`
	Line     int    `json:"line,omitempty"`
	Severity string `json:"severity,omitempty"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
}

func emit(l line) {
	data, err := json.Marshal(l)
	if err != nil {
		log.Fatalf("marshal line: %v", err)
	}
	fmt.Println(string(data))
}

func main() {
	flag.Parse()

	if *failMode || os.Getenv("ANALYZER_FAIL") == "1" {
		fmt.Fprintln(os.Stderr, "analyzer: simulated failure")
		os.Exit(1)
	}

	delay := time.Duration(*delayMS) * time.Millisecond

	emit(line{Type: "progress", Message: fmt.Sprintf("第 %d 层：正在读取 %s#%d 的变更 (%s)", *level, *repo, *pr, *headSHA)})
	time.Sleep(delay)
	emit(line{Type: "progress", Message: fmt.Sprintf("第 %d 层：正在用 %s/%s 分析（档位 %s）", *level, *provider, *model, *tier)})
	if *repoIns != "" || *reqIns != "" {
		emit(line{Type: "progress", Message: fmt.Sprintf("第 %d 层：应用自定义指令（仓库级 %d 字，请求级 %d 字）", *level, len(*repoIns), len(*reqIns))})
	}
	time.Sleep(delay)

	switch *level {
	case 3:
		emit(line{
			Type:          "result",
			FilesAnalyzed: 0,
			Summary:       "综合评审：整体变更合理，注意错误处理与并发访问",
			Suggestions: []suggestion{
				{Level: 3, Severity: "info", Title: "综合评审摘要", Body: "建议优先处理标记为 warning 的条目"},
			},
		})
	default:
		emit(line{
			Type:          "result",
			FilesAnalyzed: 3,
			Suggestions: []suggestion{
				{
					Level:    *level,
					FilePath: "internal/example/example.go",
					Line:     42,
					Severity: "warning",
					Title:    fmt.Sprintf("第 %d 层发现的示例问题", *level),
					Body:     "桩分析器的示例输出",
				},
			},
		})
	}
}
