package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/review_go_server/internal/pkg/jobs"
)

const ChannelAnalysisProgress = "analysis_progress"

// ProgressMessage 跨实例转发的进度消息：完整的任务状态快照
type ProgressMessage struct {
	Type   string          `json:"type"`
	JobID  string          `json:"job_id"`
	Status *jobs.JobStatus `json:"status"`
}

// Publisher 把本实例的进度快照镜像到 Redis 频道，
// 供其他实例或外部工具订阅
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度快照
func (p *Publisher) PublishProgress(ctx context.Context, status *jobs.JobStatus) error {
	msg := &ProgressMessage{
		Type:   "job_progress",
		JobID:  status.JobID,
		Status: status,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelAnalysisProgress, data).Err()
}

// Subscriber 订阅进度频道，把远端实例的快照桥接进本地广播器
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 持续消费进度消息，ctx 取消后返回
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelAnalysisProgress)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
