package jobs

import (
	"errors"
	"log"
	"sync"
)

// 单个订阅通道的缓冲，写满即丢帧，绝不阻塞发布方
const observerBuffer = 16

var ErrTooManyObservers = errors.New("该任务的进度订阅者已达上限")

// Broadcaster 按任务 ID 扇出进度快照。订阅可以早于任务创建；
// 订阅时立刻补发当前快照（含已终态的任务），避免错过终态事件。
type Broadcaster struct {
	registry     *Registry
	mu           sync.Mutex
	observers    map[string]map[chan *JobStatus]struct{}
	maxObservers int
}

func NewBroadcaster(registry *Registry, maxObservers int) *Broadcaster {
	if maxObservers <= 0 {
		maxObservers = 32
	}
	return &Broadcaster{
		registry:     registry,
		observers:    make(map[string]map[chan *JobStatus]struct{}),
		maxObservers: maxObservers,
	}
}

// Attach 注册一个观察通道。若任务已存在，第一条消息就是当前快照。
func (b *Broadcaster) Attach(jobID string) (chan *JobStatus, error) {
	b.mu.Lock()
	if len(b.observers[jobID]) >= b.maxObservers {
		b.mu.Unlock()
		return nil, ErrTooManyObservers
	}
	ch := make(chan *JobStatus, observerBuffer)
	if b.observers[jobID] == nil {
		b.observers[jobID] = make(map[chan *JobStatus]struct{})
	}
	b.observers[jobID][ch] = struct{}{}
	b.mu.Unlock()

	// 补发快照在注册之后进行：任务不存在时通道留着等后续事件
	if snapshot, ok := b.registry.Get(jobID); ok {
		ch <- snapshot
	}
	return ch, nil
}

// Detach 注销观察通道；该任务的订阅集合空了就整体回收
func (b *Broadcaster) Detach(jobID string, ch chan *JobStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.observers[jobID]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(b.observers, jobID)
	}
}

// Publish 向该任务的所有观察者投递快照。尽力而为：
// 通道满了直接丢帧，慢订阅者不能拖住发布路径。
func (b *Broadcaster) Publish(status *JobStatus) {
	if status == nil {
		return
	}

	b.mu.Lock()
	set := b.observers[status.JobID]
	chans := make([]chan *JobStatus, 0, len(set))
	for ch := range set {
		chans = append(chans, ch)
	}
	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- status:
		default:
			log.Printf("Job %s: observer channel full, dropping frame", status.JobID)
		}
	}
}

// ObserverCount 当前某任务的订阅者数量
func (b *Broadcaster) ObserverCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers[jobID])
}
