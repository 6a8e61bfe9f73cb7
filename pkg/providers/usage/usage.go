// Package usage 统计后端调用的 token 用量与费用。
// 价格按各提供商公开报价（每百万 token），未收录的组合费用计为零。
package usage

import (
	"fmt"
	"sync"
)

// Pricing 某个提供商/模型组合的报价
type Pricing struct {
	InputPerMillion  float64 // 每百万输入 token
	OutputPerMillion float64 // 每百万输出 token
	Currency         string  // $ 或 ¥
}

type modelKey struct {
	provider string
	model    string
}

var pricingTable = map[modelKey]Pricing{
	{"openai", "gpt-4o"}:                          {2.50, 10.00, "$"},
	{"openai", "gpt-4o-mini"}:                     {0.15, 0.60, "$"},
	{"deepseek", "deepseek-chat"}:                 {2.0, 3.0, "¥"},
	{"deepseek", "deepseek-reasoner"}:             {2.0, 3.0, "¥"},
	{"anthropic", "claude-sonnet-4-20250514"}:     {3.0, 15.0, "$"},
	{"zhipu", "glm-4-plus"}:                       {50, 50, "¥"},
	{"qwen", "qwen-max"}:                          {20, 60, "¥"},
}

// Lookup 查询报价。ollama 本地推理免费；未收录的组合返回零价
func Lookup(provider, model string) Pricing {
	if provider == "ollama" {
		return Pricing{Currency: "$"}
	}
	if p, ok := pricingTable[modelKey{provider, model}]; ok {
		return p
	}
	return Pricing{Currency: "$"}
}

// CallCost 单次调用的费用
type CallCost struct {
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
}

// Tracker 跨调用累计用量，可并发使用
type Tracker struct {
	mu      sync.Mutex
	pricing Pricing

	calls            int
	promptTokens     int
	completionTokens int
	inputCost        float64
	outputCost       float64
}

// NewTracker 按提供商/模型创建用量统计器
func NewTracker(provider, model string) *Tracker {
	return &Tracker{pricing: Lookup(provider, model)}
}

// Record 记录一次调用并返回该次费用
func (t *Tracker) Record(promptTokens, completionTokens int) CallCost {
	inputCost := float64(promptTokens) * t.pricing.InputPerMillion / 1_000_000
	outputCost := float64(completionTokens) * t.pricing.OutputPerMillion / 1_000_000

	t.mu.Lock()
	t.calls++
	t.promptTokens += promptTokens
	t.completionTokens += completionTokens
	t.inputCost += inputCost
	t.outputCost += outputCost
	t.mu.Unlock()

	return CallCost{
		InputCost:  inputCost,
		OutputCost: outputCost,
		TotalCost:  inputCost + outputCost,
	}
}

// Summary 累计用量汇总
type Summary struct {
	LLMCalls         int     `json:"llm_calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	InputCost        float64 `json:"input_cost"`
	OutputCost       float64 `json:"output_cost"`
	TotalCost        float64 `json:"total_cost"`
	Currency         string  `json:"currency"`
}

// Summarize 返回当前累计汇总
func (t *Tracker) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summary{
		LLMCalls:         t.calls,
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		TotalTokens:      t.promptTokens + t.completionTokens,
		InputCost:        t.inputCost,
		OutputCost:       t.outputCost,
		TotalCost:        t.inputCost + t.outputCost,
		Currency:         t.pricing.Currency,
	}
}

// FormatCost 带币种格式化费用
func (s Summary) FormatCost() string {
	return fmt.Sprintf("%s%.4f", s.Currency, s.TotalCost)
}
