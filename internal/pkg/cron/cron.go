package cron

import (
	"log"
	"time"

	"github.com/qs3c/review_go_server/internal/pkg/jobs"
)

// Service 后台清扫：周期性清理内存注册表里过期的终态任务。
// 注册表不持久化，清掉的任务仍可从运行记录表查到。
type Service struct {
	registry  *jobs.Registry
	retention time.Duration
	interval  time.Duration
	stopChan  chan struct{}
}

func NewService(registry *jobs.Registry, retention time.Duration) *Service {
	return &Service{
		registry:  registry,
		retention: retention,
		interval:  5 * time.Minute,
		stopChan:  make(chan struct{}),
	}
}

// Start 启动定时清扫
func (s *Service) Start() {
	go s.runPrune()
	log.Println("Cron service started (registry prune)")
}

// Stop 停止定时清扫
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

func (s *Service) runPrune() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if n := s.registry.PruneTerminal(s.retention); n > 0 {
				log.Printf("Registry prune: removed %d terminal job(s)", n)
			}
		}
	}
}
