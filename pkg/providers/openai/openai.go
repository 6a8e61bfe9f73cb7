// Package openai 实现 OpenAI 兼容后端，覆盖
// openai / deepseek / qwen / zhipu / ollama 以及自定义端点。
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/doc2md/agent/pkg/providers"
	"github.com/doc2md/agent/pkg/providers/retry"
)

// 各提供商的 OpenAI 兼容端点
var defaultBaseURLs = map[string]string{
	"openai":    "https://api.openai.com/v1",
	"deepseek":  "https://api.deepseek.com/v1",
	"qwen":      "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"zhipu":     "https://open.bigmodel.cn/api/paas/v4",
	"ollama":    "http://localhost:11434/v1",
	"anthropic": "https://api.anthropic.com/v1",
}

// Config OpenAI 兼容后端配置
type Config struct {
	providers.BaseConfig
	ProviderName string       `json:"provider_name"`
	RetryConfig  retry.Config `json:"retry_config"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BaseConfig:   providers.DefaultConfig(),
		ProviderName: "openai",
		RetryConfig:  retry.DefaultConfig(),
	}
}

// Provider OpenAI 兼容提供商
type Provider struct {
	config  Config
	client  *goopenai.Client
	retrier *retry.Retrier
}

// New 创建 OpenAI 兼容提供商
func New(config Config) (*Provider, error) {
	baseURL := config.APIEndpoint
	if baseURL == "" {
		baseURL = defaultBaseURLs[config.ProviderName]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("未知提供商 %q 且未指定 api_endpoint", config.ProviderName)
	}
	if config.APIKey == "" && config.ProviderName != "ollama" {
		return nil, fmt.Errorf("提供商 %s 缺少 API key", config.ProviderName)
	}

	if config.RetryConfig == (retry.Config{}) {
		config.RetryConfig = retry.DefaultConfig()
		if config.MaxRetries > 0 {
			config.RetryConfig.MaxRetries = config.MaxRetries
		}
	}

	clientConfig := goopenai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(baseURL, "/")

	return &Provider{
		config:  config,
		client:  goopenai.NewClientWithConfig(clientConfig),
		retrier: retry.New(config.RetryConfig),
	}, nil
}

// GetName 提供商名称
func (p *Provider) GetName() string { return p.config.ProviderName }

// GetModel 当前模型
func (p *Provider) GetModel() string { return p.config.Model }

// Invoke 执行一次生成调用，网络级错误按退避重试
func (p *Provider) Invoke(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	chatReq := goopenai.ChatCompletionRequest{
		Model:       p.config.Model,
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	}

	start := time.Now()
	var chatResp goopenai.ChatCompletionResponse
	err := p.retrier.Do(ctx, func() error {
		callCtx := ctx
		if p.config.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
			defer cancel()
		}
		var callErr error
		chatResp, callErr = p.client.CreateChatCompletion(callCtx, chatReq)
		return callErr
	})
	if err != nil {
		return nil, providers.NewError("network_error",
			fmt.Sprintf("%s 调用失败: %v", p.config.ProviderName, err))
	}
	if len(chatResp.Choices) == 0 {
		return nil, providers.NewError("server_error", "后端返回空的 choices")
	}

	choice := chatResp.Choices[0]
	finishReason := string(choice.FinishReason)
	if finishReason == "" {
		finishReason = "unknown"
	}

	return &providers.Response{
		Content:          choice.Message.Content,
		Model:            chatResp.Model,
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
		FinishReason:     finishReason,
		Truncated:        providers.IsTruncatedFinishReason(finishReason),
		Elapsed:          time.Since(start),
	}, nil
}

// HealthCheck 用一条最小请求探活
func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     p.config.Model,
		MaxTokens: 1,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	if err != nil {
		return fmt.Errorf("健康检查失败: %w", err)
	}
	return nil
}

// MaskAPIKey 日志中掩码展示密钥
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
