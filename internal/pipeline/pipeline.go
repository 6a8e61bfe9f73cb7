// Package pipeline 串联完整的转换流程：
// 预处理 → 结构分析 → 分片规划 → 逐片转换 → 组装与校验。
// 支持轮询式协作终止，终止时打包已完成分片的整理结果。
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/doc2md/agent/internal/assemble"
	"github.com/doc2md/agent/internal/chunk"
	"github.com/doc2md/agent/internal/prompts"
	"github.com/doc2md/agent/internal/structure"
	"github.com/doc2md/agent/internal/transform"
	"github.com/doc2md/agent/pkg/providers"
	"github.com/doc2md/agent/pkg/providers/usage"
)

// ErrStopped 转换被用户主动终止
var ErrStopped = errors.New("转换已被用户终止")

// Source 提供预处理完成的 Markdown 文本与图片路径映射
type Source interface {
	Extract(ctx context.Context) (rawMarkdown string, imageMapping map[string]string, err error)
}

// RawSource 直接以内存文本作为输入源
type RawSource struct {
	Text   string
	Images map[string]string
}

func (s RawSource) Extract(context.Context) (string, map[string]string, error) {
	return s.Text, s.Images, nil
}

// Progress 阶段进度回调，可为 nil
type Progress func(stage string, current, total int, message string)

// Options 流水线行为配置
type Options struct {
	// ChunkSize 单个分片的字符预算
	ChunkSize int
	// ChunkStrategy "section" 按章节对齐，"size" 纯尺寸切分
	ChunkStrategy string
	// AnalyzeWithModel 规则结构提取失败时允许回退模型分析
	AnalyzeWithModel bool
	// AllowPartialOnValidationFailure 整篇校验失败时降级为警告
	AllowPartialOnValidationFailure bool

	Transform transform.Options
	Assemble  assemble.Options
}

// DefaultOptions 返回默认流水线配置
func DefaultOptions() Options {
	return Options{
		ChunkSize:                       8000,
		ChunkStrategy:                   "section",
		AllowPartialOnValidationFailure: true,
		Transform:                       transform.DefaultOptions(),
		Assemble:                        assemble.DefaultOptions(),
	}
}

// Result 一次转换的产出与账目
type Result struct {
	// Markdown 最终文本；终止时为已完成分片的整理结果
	Markdown string
	// Stopped 转换被终止，Markdown 为半成品
	Stopped bool

	Usage usage.Summary

	// Degraded 结果存在任何形式的降级
	Degraded bool
	// FallbackChunks 重试耗尽后使用源回退的分片数
	FallbackChunks int
	// ValidationWarning 整篇校验降级为警告时的问题描述
	ValidationWarning string
	// TOCFallback 模型目录退回了确定性目录
	TOCFallback bool
}

// Config 流水线装配参数
type Config struct {
	Provider providers.Provider
	Options  Options
	Logger   *zap.Logger

	// Events 事件接收器，可为 nil
	Events Sink
	// Progress 进度回调，可为 nil
	Progress Progress
	// Stopped 终止谓词，每个阶段、每个分片、每次模型调用前轮询，可为 nil
	Stopped func() bool
}

// Pipeline 文档转换流水线，单次转换单实例
type Pipeline struct {
	provider providers.Provider
	tracker  *usage.Tracker
	opts     Options
	logger   *zap.Logger

	events   Sink
	progress Progress
	stopped  func() bool
}

// New 创建流水线
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stopped := cfg.Stopped
	if stopped == nil {
		stopped = func() bool { return false }
	}
	return &Pipeline{
		provider: cfg.Provider,
		tracker:  usage.NewTracker(cfg.Provider.GetName(), cfg.Provider.GetModel()),
		opts:     cfg.Options,
		logger:   logger,
		events:   cfg.Events,
		progress: cfg.Progress,
		stopped:  stopped,
	}
}

func (p *Pipeline) report(stage string, current, total int, message string) {
	if p.progress != nil {
		p.progress(stage, current, total, message)
	}
}

// Run 执行完整转换。终止时返回携带半成品的 Result 和 ErrStopped。
func (p *Pipeline) Run(ctx context.Context, source Source) (*Result, error) {
	p.events.emit(Event{Kind: EventPipelineStarted, Message: "转换开始"})

	instrumented := newInstrumentedProvider(p.provider, p.tracker, p.events, p.stopped)
	asm := assemble.New(instrumented, p.opts.Assemble, p.logger)

	p.report("preprocess", 0, 1, "预处理中：提取文档内容")
	raw, images, err := source.Extract(ctx)
	if err != nil {
		return nil, fmt.Errorf("预处理失败: %w", err)
	}
	p.events.emit(Event{Kind: EventPreprocessCompleted,
		Message: fmt.Sprintf("预处理完成，共 %d 个字符", len(raw))})
	p.report("preprocess", 1, 1, "预处理完成")

	if p.stopped() {
		return p.stopResult(asm, nil, 0, images)
	}

	p.report("analyze", 0, 1, "分析文档结构")
	expected := structure.ExtractExpectedHeadings(raw)
	doc := p.analyze(ctx, instrumented, raw, expected)
	p.events.emit(Event{Kind: EventAnalyzeCompleted,
		Message: fmt.Sprintf("结构分析完成：%s，共 %d 个章节", doc.Title, len(doc.Sections))})
	p.report("analyze", 1, 1, "结构分析完成")

	body := raw[structure.FindContentStart(raw):]
	var jobs []chunk.Job
	if p.opts.ChunkStrategy == "size" {
		jobs = chunk.PlanFlat(body, p.opts.ChunkSize)
	} else {
		jobs = chunk.Plan(body, expected, p.opts.ChunkSize)
	}

	plannedCalls := len(jobs)
	if p.opts.Assemble.GenerateTOC && !p.opts.Assemble.DeterministicTOC {
		plannedCalls++
	}
	p.events.emit(Event{Kind: EventLLMPlan, TotalChunks: len(jobs), LLMCalls: plannedCalls,
		Message: fmt.Sprintf("分片规划完成：%d 个分片，预计 %d 次模型调用", len(jobs), plannedCalls)})

	structureJSON, _ := json.Marshal(doc)
	tr := transform.New(instrumented, string(structureJSON), p.opts.Transform, p.logger)

	converted := make([]string, 0, len(jobs))
	fallbackChunks := 0

	for i, job := range jobs {
		if p.stopped() {
			return p.stopResult(asm, converted, fallbackChunks, images)
		}

		p.events.emit(Event{Kind: EventChunkStarted,
			ChunkIndex: i + 1, TotalChunks: len(jobs), SectionID: job.SectionID,
			Message: fmt.Sprintf("开始转换第 %d/%d 个分片", i+1, len(jobs))})
		p.report("convert", i, len(jobs),
			fmt.Sprintf("AI 转换中：第 %d/%d 个分片", i+1, len(jobs)))

		res, err := tr.Transform(ctx, job, i, len(jobs), p.chunkCallbacks(i, len(jobs), job.SectionID))
		if err != nil {
			if errors.Is(err, ErrStopped) {
				return p.stopResult(asm, converted, fallbackChunks, images)
			}
			return nil, err
		}
		if res.FallbackUsed {
			fallbackChunks++
		}
		converted = append(converted, res.Text)

		p.events.emit(Event{Kind: EventChunkCompleted,
			ChunkIndex: i + 1, TotalChunks: len(jobs), SectionID: job.SectionID, Attempt: res.Attempts,
			Message: fmt.Sprintf("第 %d/%d 个分片完成", i+1, len(jobs))})
		p.report("convert", i+1, len(jobs),
			fmt.Sprintf("AI 转换中：已完成第 %d/%d 个分片", i+1, len(jobs)))
	}

	if p.stopped() {
		return p.stopResult(asm, converted, fallbackChunks, images)
	}

	p.report("toc", 0, 1, "后处理中：组装文档")
	text, report, err := asm.Assemble(ctx, converted, images, raw, expected)
	if err != nil {
		return nil, err
	}
	if report.TOCFallback {
		p.events.emit(Event{Kind: EventTOCFallback,
			Message: "目录生成失败，已切换简单目录策略：" + report.TOCFallbackReason})
	}
	p.report("toc", 1, 1, "后处理完成")

	result := &Result{
		Markdown:       text,
		Usage:          p.tracker.Summarize(),
		FallbackChunks: fallbackChunks,
		TOCFallback:    report.TOCFallback,
	}

	if len(report.ValidationIssues) > 0 {
		vErr := &assemble.ValidationError{Issues: report.ValidationIssues}
		if !p.opts.AllowPartialOnValidationFailure {
			return nil, vErr
		}
		result.ValidationWarning = vErr.Error()
		p.logger.Warn("整篇校验未通过，按配置降级为警告", zap.Strings("issues", report.ValidationIssues))
		p.events.emit(Event{Kind: EventValidationWarning, Message: result.ValidationWarning})
	}
	result.Degraded = fallbackChunks > 0 || result.ValidationWarning != "" || result.TOCFallback

	p.report("done", 1, 1, "转换完成")
	p.events.emit(Event{Kind: EventPipelineCompleted, LLMCalls: result.Usage.LLMCalls,
		Message: fmt.Sprintf("转换完成，共 %d 次模型调用", result.Usage.LLMCalls)})
	return result, nil
}

// chunkCallbacks 把转换器回调翻译为事件
func (p *Pipeline) chunkCallbacks(index, total int, sectionID string) transform.Callbacks {
	return transform.Callbacks{
		OnValidationFailed: func(attempt int, reason string) {
			p.events.emit(Event{Kind: EventChunkValidationFailed,
				ChunkIndex: index + 1, TotalChunks: total, SectionID: sectionID, Attempt: attempt,
				Message: fmt.Sprintf("第 %d 个分片第 %d 次输出未通过校验：%s", index+1, attempt, reason)})
		},
		OnRepaired: func(res *transform.Result) {
			p.events.emit(Event{Kind: EventChunkRepaired,
				ChunkIndex: index + 1, TotalChunks: total, SectionID: sectionID,
				Message: fmt.Sprintf("第 %d 个分片校验通过后仍做了确定性修正（改首标题 %v，修复 JSON %d 个）",
					index+1, res.HeadingForced, res.JSONBlocksRepaired)})
		},
		OnFallback: func(reason string) {
			p.events.emit(Event{Kind: EventChunkFallbackUsed,
				ChunkIndex: index + 1, TotalChunks: total, SectionID: sectionID,
				Message: fmt.Sprintf("第 %d 个分片重试耗尽，已回退为源内容整理结果：%s", index+1, reason)})
		},
	}
}

// analyze 构建文档结构。模型模式任何失败都退回规则法，不会中断转换。
func (p *Pipeline) analyze(ctx context.Context, provider providers.Provider, raw string, expected []string) *structure.DocumentStructure {
	doc := structure.BuildRuleBased(raw, expected)
	if len(doc.Sections) > 0 || !p.opts.AnalyzeWithModel {
		return doc
	}
	p.logger.Warn("规则结构提取失败，回退模型分析")

	sample := raw
	if len(sample) > analyzeSampleLimit {
		cut := analyzeSampleLimit
		for cut > 0 && !utf8.RuneStart(sample[cut]) {
			cut--
		}
		sample = sample[:cut]
	}
	resp, err := provider.Invoke(ctx, &providers.Request{
		SystemPrompt: prompts.AnalyzeSystem,
		UserPrompt:   prompts.AnalyzeUser(sample),
		Metadata:     map[string]string{"operation": "analyze_structure"},
	})
	if err != nil {
		p.logger.Warn("模型结构分析失败，退回规则法", zap.Error(err))
		return doc
	}
	parsed, err := structure.ParseModelStructure(resp.Content)
	if err != nil {
		p.logger.Warn("模型结构输出不可解析，退回规则法", zap.Error(err))
		return doc
	}
	return parsed
}

// analyzeSampleLimit 结构分析只取文档开头，避免超出上下文
const analyzeSampleLimit = 12000

// stopResult 终止时打包半成品并返回 ErrStopped
func (p *Pipeline) stopResult(asm *assemble.Assembler, converted []string, fallbackChunks int, images map[string]string) (*Result, error) {
	partial := ""
	if len(converted) > 0 {
		partial = asm.PostprocessPartial(strings.Join(converted, "\n\n"), images)
	}
	p.logger.Info("转换被终止，打包已完成分片",
		zap.Int("completed_chunks", len(converted)))
	p.events.emit(Event{Kind: EventPipelineStopped,
		Message: fmt.Sprintf("转换已终止，保留 %d 个已完成分片", len(converted))})

	return &Result{
		Markdown:       partial,
		Stopped:        true,
		Degraded:       true,
		FallbackChunks: fallbackChunks,
		Usage:          p.tracker.Summarize(),
	}, ErrStopped
}
