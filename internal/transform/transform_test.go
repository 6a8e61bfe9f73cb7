package transform

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/doc2md/agent/internal/chunk"
	"github.com/doc2md/agent/pkg/providers"
)

// scriptedProvider 按顺序返回预置的响应，便于验证重试路径
type scriptedProvider struct {
	responses []*providers.Response
	requests  []*providers.Request
}

func (p *scriptedProvider) Invoke(_ context.Context, req *providers.Request) (*providers.Response, error) {
	p.requests = append(p.requests, req)
	if len(p.requests) > len(p.responses) {
		return p.responses[len(p.responses)-1], nil
	}
	return p.responses[len(p.requests)-1], nil
}

func (p *scriptedProvider) GetName() string  { return "scripted" }
func (p *scriptedProvider) GetModel() string { return "test-model" }
func (p *scriptedProvider) HealthCheck(context.Context) error {
	return nil
}

func respond(content string) *providers.Response {
	return &providers.Response{Content: content, FinishReason: "stop"}
}

func newTransformer(p providers.Provider, opts Options) *Transformer {
	return New(p, `{"title":"测试文档"}`, opts, zap.NewNop())
}

func TestTransformAcceptsValidOutput(t *testing.T) {
	job := chunk.Job{
		Content:         "## 1 概述\n\n本接口用于查询订单。",
		SectionID:       "1",
		SectionHeading:  "1 概述",
		AllowedHeadings: []string{"1 概述"},
		ChunkHasHeading: true,
	}
	p := &scriptedProvider{responses: []*providers.Response{
		respond("## 1 概述\n\n本接口用于查询订单。"),
	}}

	result, err := newTransformer(p, DefaultOptions()).Transform(context.Background(), job, 0, 1, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.FallbackUsed)
	assert.Contains(t, result.Text, "## 1 概述")
}

func TestTransformRetriesWithFeedback(t *testing.T) {
	job := chunk.Job{
		Content:         "## 1 概述\n\n本接口用于查询订单。",
		SectionID:       "1",
		AllowedHeadings: []string{"1 概述"},
		ChunkHasHeading: true,
	}
	p := &scriptedProvider{responses: []*providers.Response{
		{Content: "## 1 概述\n\n本接口", FinishReason: "length", Truncated: true},
		respond("## 1 概述\n\n本接口用于查询订单。"),
	}}

	var failedReasons []string
	cb := Callbacks{OnValidationFailed: func(attempt int, reason string) {
		failedReasons = append(failedReasons, reason)
	}}

	result, err := newTransformer(p, DefaultOptions()).Transform(context.Background(), job, 0, 1, cb)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	require.Len(t, failedReasons, 1)
	assert.Contains(t, failedReasons[0], "截断")

	// 第二次请求必须携带上一次的失败原因
	require.Len(t, p.requests, 2)
	assert.NotContains(t, p.requests[0].UserPrompt, "未通过校验")
	assert.Contains(t, p.requests[1].UserPrompt, "未通过校验")
	assert.Contains(t, p.requests[1].UserPrompt, "截断")
}

func TestTransformRejectsForeignErrorCodes(t *testing.T) {
	source := "错误码说明\n\n| 错误码 | 说明 |\n| --- | --- |\n| 10001 | 参数缺失 |\n| 10003 | 签名错误 |"
	bad := "**错误码：**\n\n| 错误码 | 说明 |\n| --- | --- |\n| 10001 | 参数缺失 |\n| 100000 | 系统繁忙 |"

	job := chunk.Job{Content: source, SectionID: "3"}
	p := &scriptedProvider{responses: []*providers.Response{respond(bad)}}

	var fallbackReason string
	cb := Callbacks{OnFallback: func(reason string) { fallbackReason = reason }}

	result, err := newTransformer(p, DefaultOptions()).Transform(context.Background(), job, 0, 1, cb)
	require.NoError(t, err)
	assert.True(t, result.FallbackUsed)
	assert.Contains(t, fallbackReason, "100000")
	assert.Contains(t, result.FallbackReason, "不存在的错误码")
	// 回退文本来自源分片，不含伪造错误码
	assert.NotContains(t, result.Text, "100000")
	assert.Contains(t, result.Text, "10003")
}

func TestTransformRejectsHallucinatedJSON(t *testing.T) {
	job := chunk.Job{Content: "请求说明：按订单号查询。", SectionID: "2"}
	p := &scriptedProvider{responses: []*providers.Response{
		respond("请求说明：按订单号查询。\n\n```json\n{\"orderId\": \"123\"}\n```"),
		respond("请求说明：按订单号查询。"),
	}}

	result, err := newTransformer(p, DefaultOptions()).Transform(context.Background(), job, 0, 1, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	assert.NotContains(t, result.Text, "```json")
}

func TestTransformReplacesJSONWithSource(t *testing.T) {
	source := "响应示例：\n\n```json\n{\"code\": \"0000\", \"orderId\": \"20240101\"}\n```"
	// 模型篡改了 JSON 内容，必须被源块覆盖
	job := chunk.Job{Content: source, SectionID: "2"}
	p := &scriptedProvider{responses: []*providers.Response{
		respond("**响应示例：**\n\n```json\n{\"code\": \"9999\", \"orderId\": \"tampered\"}\n```"),
	}}

	result, err := newTransformer(p, DefaultOptions()).Transform(context.Background(), job, 0, 1, Callbacks{})
	require.NoError(t, err)
	assert.Contains(t, result.Text, `"code": "0000"`)
	assert.NotContains(t, result.Text, "tampered")
}

func TestTransformAppendsMissingJSONBlocks(t *testing.T) {
	source := "响应示例：\n\n```json\n{\"code\": \"0000\"}\n```"
	job := chunk.Job{Content: source, SectionID: "2"}
	p := &scriptedProvider{responses: []*providers.Response{
		respond("**响应示例：** 见下。"),
	}}

	result, err := newTransformer(p, DefaultOptions()).Transform(context.Background(), job, 0, 1, Callbacks{})
	require.NoError(t, err)
	assert.Contains(t, result.Text, "```json")
	assert.Contains(t, result.Text, `"code": "0000"`)
}

func TestTransformRejectsContinuationHeadings(t *testing.T) {
	job := chunk.Job{
		Content:          "接着上文继续描述参数。",
		SectionID:        "2",
		ContinuationMode: true,
	}
	p := &scriptedProvider{responses: []*providers.Response{
		respond("## 2 接口说明\n\n接着上文继续描述参数。"),
		respond("接着上文继续描述参数。"),
	}}

	var failedReasons []string
	cb := Callbacks{OnValidationFailed: func(attempt int, reason string) {
		failedReasons = append(failedReasons, reason)
	}}

	result, err := newTransformer(p, DefaultOptions()).Transform(context.Background(), job, 0, 2, cb)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	assert.False(t, result.FallbackUsed)
	require.Len(t, failedReasons, 1)
	assert.Contains(t, failedReasons[0], "标题")
	assert.NotContains(t, result.Text, "##")
}

func TestTransformEmptyOutputFallsBack(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxChunkRetries = 1

	job := chunk.Job{
		Content:         "## 1 概述\n\n本接口提供订单状态查询能力，支持按订单号批量查询。",
		SectionID:       "1",
		SectionHeading:  "1 概述",
		AllowedHeadings: []string{"1 概述"},
		ChunkHasHeading: true,
	}
	p := &scriptedProvider{responses: []*providers.Response{respond("")}}

	var fallbackReason string
	cb := Callbacks{OnFallback: func(reason string) { fallbackReason = reason }}

	result, err := newTransformer(p, opts).Transform(context.Background(), job, 0, 1, cb)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	assert.True(t, result.FallbackUsed)
	assert.Contains(t, fallbackReason, "输出为空")
	// 空输出不能被接受成只剩标题的分片，回退必须保住正文
	assert.Contains(t, result.Text, "## 1 概述")
	assert.Contains(t, result.Text, "批量查询")
}

func TestTransformRequiresSectionHeading(t *testing.T) {
	job := chunk.Job{
		Content:         "## 2 接口说明\n\n请求方式为 POST。",
		SectionID:       "2",
		AllowedHeadings: []string{"2 接口说明"},
		ChunkHasHeading: true,
	}
	p := &scriptedProvider{responses: []*providers.Response{
		respond("请求方式为 POST。"),
		respond("## 2 接口说明\n\n请求方式为 POST。"),
	}}

	var failedReasons []string
	cb := Callbacks{OnValidationFailed: func(attempt int, reason string) {
		failedReasons = append(failedReasons, reason)
	}}

	result, err := newTransformer(p, DefaultOptions()).Transform(context.Background(), job, 0, 1, cb)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	require.Len(t, failedReasons, 1)
	assert.Contains(t, failedReasons[0], "缺少")
	assert.Contains(t, result.Text, "## 2 接口说明")
}

func TestTransformForcesHeadingDepth(t *testing.T) {
	job := chunk.Job{
		Content:         "### 1.2 请求参数\n\n字段见下表。",
		SectionID:       "1.2",
		AllowedHeadings: []string{"1.2 请求参数"},
		ChunkHasHeading: true,
	}
	p := &scriptedProvider{responses: []*providers.Response{
		respond("# 1.2 请求参数\n\n字段见下表。"),
	}}

	result, err := newTransformer(p, DefaultOptions()).Transform(context.Background(), job, 0, 1, Callbacks{})
	require.NoError(t, err)
	assert.True(t, result.HeadingForced)
	assert.True(t, strings.HasPrefix(result.Text, "### 1.2 请求参数"))
}

func TestTransformHardFailureWithoutPartial(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowPartialOnChunkFailure = false
	opts.MaxChunkRetries = 1

	job := chunk.Job{Content: "正常内容。", SectionID: "4"}
	p := &scriptedProvider{responses: []*providers.Response{respond("")}}

	_, err := newTransformer(p, opts).Transform(context.Background(), job, 3, 5, Callbacks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "分片 4/5")
	assert.Contains(t, err.Error(), "章节 4")
	assert.Contains(t, err.Error(), "2 次尝试")
}

func TestTransformRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := chunk.Job{Content: "内容。", SectionID: "1"}
	p := &scriptedProvider{responses: []*providers.Response{respond("内容。")}}

	_, err := newTransformer(p, DefaultOptions()).Transform(ctx, job, 0, 1, Callbacks{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.requests)
}
