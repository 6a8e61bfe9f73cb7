// Package providers 定义生成式文本后端的统一接口。
// 核心流水线把后端当作黑盒：可能很慢、可能截断、可能返回损坏的结构化内容，
// 凡涉保真的内容（JSON、枚举）必须经过校验，不能直接信任。
package providers

import (
	"context"
	"time"
)

// BaseConfig 基础配置
type BaseConfig struct {
	// API 配置
	APIKey      string `json:"api_key,omitempty"`
	APIEndpoint string `json:"api_endpoint,omitempty"`
	Model       string `json:"model"`

	// 生成参数
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`

	// 超时和重试
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`

	// 自定义头部
	Headers map[string]string `json:"headers,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() BaseConfig {
	return BaseConfig{
		Temperature: 0.1,
		MaxTokens:   8192,
		Timeout:     5 * time.Minute, // 长文档片段的模型调用可能很慢
		MaxRetries:  3,
		RetryDelay:  time.Second,
		Headers:     make(map[string]string),
	}
}

// Request 一次生成调用的输入
type Request struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Metadata     map[string]string `json:"metadata,omitempty"` // 操作标识等观测用字段
}

// Response 一次生成调用的输出
type Response struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	FinishReason     string        `json:"finish_reason"`
	Truncated        bool          `json:"truncated"` // finish_reason 表明输出被长度上限截断
	Elapsed          time.Duration `json:"elapsed"`
}

// Provider 生成式文本后端
type Provider interface {
	// Invoke 执行一次生成调用
	Invoke(ctx context.Context, req *Request) (*Response, error)

	// GetName 提供商名称
	GetName() string

	// GetModel 当前使用的模型
	GetModel() string

	// HealthCheck 健康检查
	HealthCheck(ctx context.Context) error
}

// Error 提供商错误
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// IsRetryable 判断错误是否可重试
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case "rate_limit", "timeout", "server_error", "network_error":
		return true
	default:
		return false
	}
}

// NewError 创建提供商错误
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithDetails 添加错误详情
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// truncatedFinishReasons 表明输出被截断的结束原因
var truncatedFinishReasons = map[string]bool{
	"length":     true,
	"max_tokens": true,
}

// IsTruncatedFinishReason finish_reason 是否表明长度截断
func IsTruncatedFinishReason(reason string) bool {
	return truncatedFinishReasons[reason]
}
