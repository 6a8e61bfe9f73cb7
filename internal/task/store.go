// Package task 提供转换任务的状态存储与 HTTP 服务。
package task

import (
	"sync"
	"time"

	"github.com/doc2md/agent/internal/pipeline"
	"github.com/doc2md/agent/pkg/providers/usage"
)

// 任务状态
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"
)

// MaxTaskEvents 单个任务保留的事件上限，超出后丢弃最旧的
const MaxTaskEvents = 400

// Task 单个转换任务的状态快照
type Task struct {
	ID       string `json:"task_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`

	CurrentChunk int `json:"current_chunk"`
	TotalChunks  int `json:"total_chunks"`

	Provider         string `json:"provider,omitempty"`
	Model            string `json:"model,omitempty"`
	LLMCallsTotal    int    `json:"llm_calls_total"`
	LLMCallsFinished int    `json:"llm_calls_finished"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Usage  *usage.Summary   `json:"usage,omitempty"`
	Events []pipeline.Event `json:"events"`

	Degraded          bool   `json:"degraded,omitempty"`
	FallbackChunks    int    `json:"fallback_chunks,omitempty"`
	ValidationWarning string `json:"validation_warning,omitempty"`

	OutputFile  string `json:"output_file,omitempty"`
	ArchiveFile string `json:"archive_file,omitempty"`
	SourceName  string `json:"source_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Store 任务存储。实现必须并发安全，Get 返回的快照与内部状态隔离。
type Store interface {
	Create(t *Task)
	Get(id string) (*Task, bool)
	// Update 在持锁状态下原地修改任务并刷新 UpdatedAt
	Update(id string, fn func(*Task))
	AppendEvent(id string, ev pipeline.Event)

	// RequestCancel 置终止标记，任务不存在时返回 false
	RequestCancel(id string) bool
	// CancelRequested 流水线终止谓词轮询此标记
	CancelRequested(id string) bool
}

// MemoryStore 内存任务存储
type MemoryStore struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	cancelled map[string]bool
}

// NewMemoryStore 创建内存任务存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[string]*Task),
		cancelled: make(map[string]bool),
	}
}

func (s *MemoryStore) Create(t *Task) {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
}

func (s *MemoryStore) Get(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	snapshot := *t
	snapshot.Events = append([]pipeline.Event(nil), t.Events...)
	if t.Usage != nil {
		u := *t.Usage
		snapshot.Usage = &u
	}
	return &snapshot, true
}

func (s *MemoryStore) Update(id string, fn func(*Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
}

func (s *MemoryStore) AppendEvent(id string, ev pipeline.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	t.Events = append(t.Events, ev)
	if len(t.Events) > MaxTaskEvents {
		t.Events = t.Events[len(t.Events)-MaxTaskEvents:]
	}
	t.UpdatedAt = time.Now().UTC()
}

func (s *MemoryStore) RequestCancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	s.cancelled[id] = true
	return true
}

func (s *MemoryStore) CancelRequested(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled[id]
}
