package pipeline

import "time"

// Kind 事件类型，闭集
type Kind string

const (
	EventPipelineStarted       Kind = "pipeline_started"
	EventPreprocessCompleted   Kind = "preprocess_completed"
	EventAnalyzeCompleted      Kind = "analyze_completed"
	EventLLMPlan               Kind = "llm_plan"
	EventChunkStarted          Kind = "chunk_started"
	EventChunkValidationFailed Kind = "chunk_validation_failed"
	EventChunkRepaired         Kind = "chunk_repaired"
	EventChunkFallbackUsed     Kind = "chunk_fallback_used"
	EventChunkCompleted        Kind = "chunk_completed"
	EventLLMCallStarted        Kind = "llm_call_started"
	EventLLMCallCompleted      Kind = "llm_call_completed"
	EventLLMCallFailed         Kind = "llm_call_failed"
	EventTOCFallback           Kind = "toc_fallback"
	EventValidationWarning     Kind = "validation_warning"
	EventPipelineCompleted     Kind = "pipeline_completed"
	EventPipelineStopped       Kind = "pipeline_stopped"
)

// Event 流水线事件。Kind、Message、Time 必填，其余字段按事件类型选填。
type Event struct {
	Kind    Kind      `json:"type"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`

	ChunkIndex  int    `json:"chunk_index,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`
	SectionID   string `json:"section_id,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`

	CallID           string        `json:"call_id,omitempty"`
	Provider         string        `json:"provider,omitempty"`
	Model            string        `json:"model,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	FinishReason     string        `json:"finish_reason,omitempty"`
	Truncated        bool          `json:"truncated,omitempty"`
	Cost             float64       `json:"cost,omitempty"`
	Elapsed          time.Duration `json:"elapsed,omitempty"`

	LLMCalls int    `json:"llm_calls,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Sink 事件接收函数，按发生顺序逐条调用，可为 nil
type Sink func(Event)

func (s Sink) emit(ev Event) {
	if s == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s(ev)
}
