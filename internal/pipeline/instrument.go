package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/doc2md/agent/pkg/providers"
	"github.com/doc2md/agent/pkg/providers/usage"
)

// instrumentedProvider 包装真实后端：每次调用前轮询终止谓词，
// 调用后记账并发出 llm_call_* 事件。
type instrumentedProvider struct {
	inner   providers.Provider
	tracker *usage.Tracker
	events  Sink
	stopped func() bool
	seq     atomic.Int64
}

func newInstrumentedProvider(inner providers.Provider, tracker *usage.Tracker, events Sink, stopped func() bool) *instrumentedProvider {
	return &instrumentedProvider{
		inner:   inner,
		tracker: tracker,
		events:  events,
		stopped: stopped,
	}
}

func (ip *instrumentedProvider) Invoke(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if ip.stopped() {
		return nil, ErrStopped
	}

	callID := fmt.Sprintf("call-%d", ip.seq.Add(1))
	ip.events.emit(Event{Kind: EventLLMCallStarted,
		CallID:   callID,
		Provider: ip.inner.GetName(),
		Model:    ip.inner.GetModel(),
		Message:  "模型调用开始"})

	resp, err := ip.inner.Invoke(ctx, req)
	if err != nil {
		ip.events.emit(Event{Kind: EventLLMCallFailed,
			CallID:   callID,
			Provider: ip.inner.GetName(),
			Model:    ip.inner.GetModel(),
			Err:      err.Error(),
			Message:  "模型调用失败：" + err.Error()})
		return nil, err
	}

	cost := ip.tracker.Record(resp.PromptTokens, resp.CompletionTokens)
	ip.events.emit(Event{Kind: EventLLMCallCompleted,
		CallID:           callID,
		Provider:         ip.inner.GetName(),
		Model:            resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		FinishReason:     resp.FinishReason,
		Truncated:        resp.Truncated,
		Cost:             cost.TotalCost,
		Elapsed:          resp.Elapsed,
		Message:          "模型调用完成"})
	return resp, nil
}

func (ip *instrumentedProvider) GetName() string  { return ip.inner.GetName() }
func (ip *instrumentedProvider) GetModel() string { return ip.inner.GetModel() }

func (ip *instrumentedProvider) HealthCheck(ctx context.Context) error {
	return ip.inner.HealthCheck(ctx)
}
