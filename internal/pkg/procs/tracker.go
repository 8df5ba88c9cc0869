package procs

import (
	"log"
	"os"
	"sync"
)

// Handle 可被终止的外部进程。*os.Process 经 OSHandle 适配。
type Handle interface {
	Pid() int
	Kill() error
}

// OSHandle 包装真实 OS 进程
type OSHandle struct {
	Process *os.Process
}

func (h OSHandle) Pid() int {
	return h.Process.Pid
}

func (h OSHandle) Kill() error {
	return h.Process.Kill()
}

// Tracker 跟踪每个任务派生出的外部进程，取消时一把杀掉。
// 同一任务的多个并发层各自注册自己的进程。
type Tracker struct {
	mu    sync.Mutex
	procs map[string][]Handle
}

func NewTracker() *Tracker {
	return &Tracker{
		procs: make(map[string][]Handle),
	}
}

// Register 登记一个任务派生的进程
func (t *Tracker) Register(jobID string, h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[jobID] = append(t.procs[jobID], h)
}

// Unregister 进程正常退出后移除登记
func (t *Tracker) Unregister(jobID string, h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.procs[jobID]
	for i, cur := range list {
		if cur == h {
			t.procs[jobID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(t.procs[jobID]) == 0 {
		delete(t.procs, jobID)
	}
}

// KillAll 向该任务登记的所有进程发送终止信号并清空登记，
// 返回实际送达信号的进程数。进程已退出不算错误，计数为零效果。
func (t *Tracker) KillAll(jobID string) int {
	t.mu.Lock()
	list := t.procs[jobID]
	delete(t.procs, jobID)
	t.mu.Unlock()

	killed := 0
	for _, h := range list {
		if err := h.Kill(); err != nil {
			// 多半是进程已经退出
			log.Printf("Job %s: kill pid %d: %v", jobID, h.Pid(), err)
			continue
		}
		killed++
	}
	return killed
}

// Count 当前某任务登记的进程数
func (t *Tracker) Count(jobID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs[jobID])
}
