// Package transform 实现单个分片的转换状态机：
// 调用模型、确定性后处理、规则校验，失败时带反馈重试，
// 重试耗尽后按配置回退为源分片的确定性整理结果。
package transform

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/doc2md/agent/internal/chunk"
	"github.com/doc2md/agent/internal/fidelity"
	"github.com/doc2md/agent/internal/jsonrepair"
	"github.com/doc2md/agent/internal/prompts"
	"github.com/doc2md/agent/internal/textrepair"
	"github.com/doc2md/agent/pkg/providers"
)

// Options 分片转换行为配置
type Options struct {
	// MaxChunkRetries 首次调用之外允许的重试次数
	MaxChunkRetries int
	// AllowPartialOnChunkFailure 重试耗尽后是否回退为源分片整理结果
	AllowPartialOnChunkFailure bool
	// Fidelity 内容保真度阈值
	Fidelity fidelity.Thresholds
}

// DefaultOptions 返回默认的转换配置
func DefaultOptions() Options {
	return Options{
		MaxChunkRetries:            2,
		AllowPartialOnChunkFailure: true,
		Fidelity:                   fidelity.DefaultThresholds(),
	}
}

// Result 单个分片的转换结果与处理痕迹
type Result struct {
	Text string

	// Attempts 实际发起的模型调用次数（回退时为全部失败的次数）
	Attempts int

	// FallbackUsed 表示重试耗尽后使用了源分片回退
	FallbackUsed bool
	// FallbackReason 回退时记录最后一次校验失败原因
	FallbackReason string

	// HeadingsStripped 续写分片回退文本中被剥除的标题行数
	HeadingsStripped int
	// HeadingForced 首个标题被改写或补插
	HeadingForced bool

	JSONBlocksSeen       int
	JSONBlocksRepaired   int
	JSONBlocksDowngraded int
}

// Callbacks 转换过程中的回调，全部可为 nil
type Callbacks struct {
	// OnValidationFailed 某次尝试的输出未通过校验
	OnValidationFailed func(attempt int, reason string)
	// OnRepaired 输出通过校验后仍被确定性修正（改首标题或修 JSON）
	OnRepaired func(result *Result)
	// OnFallback 重试耗尽、使用源分片回退
	OnFallback func(reason string)
}

// Transformer 驱动分片的「尝试-校验-重试-回退」循环
type Transformer struct {
	provider providers.Provider
	logger   *zap.Logger
	opts     Options

	// structureJSON 喂给提示词的文档结构概要
	structureJSON string
}

// New 创建分片转换器
func New(provider providers.Provider, structureJSON string, opts Options, logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{
		provider:      provider,
		logger:        logger,
		opts:          opts,
		structureJSON: structureJSON,
	}
}

// Transform 转换一个分片。模型调用本身出错视为致命错误直接返回；
// 输出未通过校验则带失败原因重试，耗尽后按配置回退或报错。
func (t *Transformer) Transform(ctx context.Context, job chunk.Job, index, total int, cb Callbacks) (*Result, error) {
	var lastReason string
	attempts := 0

	for attempt := 0; attempt <= t.opts.MaxChunkRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := &providers.Request{
			SystemPrompt: prompts.ConvertSystem,
			UserPrompt: prompts.ConvertUser(prompts.ConvertJob{
				StructureJSON:    t.structureJSON,
				SectionID:        job.SectionID,
				SectionHeading:   job.SectionHeading,
				ContinuationMode: job.ContinuationMode,
				ChunkHasHeading:  job.ChunkHasHeading,
				AllowedHeadings:  job.AllowedHeadings,
				PreviousHeading:  job.PreviousHeading,
				NextHeading:      job.NextHeading,
				ChunkIndex:       index + 1,
				TotalChunks:      total,
				Content:          job.Content,
				Feedback:         lastReason,
			}),
			Metadata: map[string]string{
				"operation":   "convert_chunk",
				"chunk_index": strconv.Itoa(index + 1),
				"section_id":  job.SectionID,
				"attempt":     strconv.Itoa(attempt + 1),
			},
		}

		resp, err := t.provider.Invoke(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("分片 %d/%d 模型调用失败: %w", index+1, total, err)
		}
		attempts++

		stats := &jsonStats{}
		text := textrepair.StripOuterFence(resp.Content)
		text = replaceJSONBlocksWithSource(job.Content, text, stats)
		text = repairOutputJSONBlocks(text, stats)
		text = strings.TrimSpace(text)

		if ok, reason := t.validate(job, text, resp.Truncated); ok {
			result := &Result{Attempts: attempts}
			result.Text = t.settleHeadings(job, text, result)
			result.JSONBlocksSeen = stats.seen
			result.JSONBlocksRepaired = stats.repaired
			result.JSONBlocksDowngraded = stats.downgraded
			if result.HeadingForced || result.JSONBlocksRepaired > 0 || result.JSONBlocksDowngraded > 0 {
				if cb.OnRepaired != nil {
					cb.OnRepaired(result)
				}
			}
			return result, nil
		} else {
			lastReason = reason
		}

		t.logger.Warn("分片输出未通过校验",
			zap.Int("chunk", index+1),
			zap.Int("total", total),
			zap.String("section", job.SectionID),
			zap.Int("attempt", attempt+1),
			zap.String("reason", lastReason))
		if cb.OnValidationFailed != nil {
			cb.OnValidationFailed(attempt+1, lastReason)
		}
	}

	if !t.opts.AllowPartialOnChunkFailure {
		return nil, fmt.Errorf("分片 %d/%d（章节 %s）经 %d 次尝试仍未通过校验: %s",
			index+1, total, job.SectionID, attempts, lastReason)
	}

	t.logger.Warn("分片重试耗尽，回退为源内容整理结果",
		zap.Int("chunk", index+1),
		zap.String("section", job.SectionID),
		zap.String("reason", lastReason))
	if cb.OnFallback != nil {
		cb.OnFallback(lastReason)
	}

	result := t.fallback(job)
	result.Attempts = attempts
	result.FallbackUsed = true
	result.FallbackReason = lastReason
	return result, nil
}

// settleHeadings 对已通过校验的文本做标题收敛：续写分片剥掉残留标题，
// 非续写分片把首个标题对齐到允许集合首项的文本与层级。
func (t *Transformer) settleHeadings(job chunk.Job, text string, result *Result) string {
	if job.ContinuationMode {
		stripped, n := textrepair.StripHeadingsOutsideCode(text)
		result.HeadingsStripped = n
		return strings.TrimSpace(stripped)
	}
	if len(job.AllowedHeadings) > 0 && job.ChunkHasHeading {
		heading := job.AllowedHeadings[0]
		depth := textrepair.HeadingDepthForID(headingID(heading))
		forced, changed := textrepair.ForceFirstHeading(text, heading, depth)
		result.HeadingForced = changed
		return strings.TrimSpace(forced)
	}
	return text
}

// fallback 不经模型，直接对源分片做同一套确定性整理
func (t *Transformer) fallback(job chunk.Job) *Result {
	result := &Result{}
	stats := &jsonStats{}

	text := textrepair.Repair(job.Content)
	text = repairOutputJSONBlocks(text, stats)

	result.Text = t.settleHeadings(job, strings.TrimSpace(text), result)
	result.JSONBlocksSeen = stats.seen
	result.JSONBlocksRepaired = stats.repaired
	result.JSONBlocksDowngraded = stats.downgraded
	return result
}

// validate 按固定顺序检查输出，返回首个失败原因
func (t *Transformer) validate(job chunk.Job, text string, truncated bool) (bool, string) {
	if truncated {
		return false, "输出被截断（finish_reason 为 length），请缩短输出或保持原有换行"
	}
	if strings.TrimSpace(text) == "" {
		return false, "输出为空"
	}

	if job.ContinuationMode {
		if textrepair.HasHeadingOutsideCode(text) {
			return false, "续写分片不允许出现任何标题行"
		}
	} else {
		if ok, reason := t.validateHeadings(job, text); !ok {
			return false, reason
		}
	}

	sourceJSONCount := countJSONBlocks(job.Content)
	outputJSONCount := countJSONBlocks(text)
	if sourceJSONCount == 0 && outputJSONCount > 0 {
		return false, fmt.Sprintf("源分片没有 JSON 块，输出却出现了 %d 个，禁止虚构示例", outputJSONCount)
	}
	if outputJSONCount < sourceJSONCount {
		return false, fmt.Sprintf("源分片有 %d 个 JSON 块，输出只有 %d 个，存在遗漏", sourceJSONCount, outputJSONCount)
	}
	if ok, reason := validateJSONParses(text); !ok {
		return false, reason
	}

	if strings.Contains(job.Content, "错误码") {
		if ok, reason := validateErrorCodes(job.Content, text); !ok {
			return false, reason
		}
	}

	if ok, reason := fidelity.Check(job.Content, text, t.opts.Fidelity); !ok {
		return false, reason
	}
	return true, ""
}

// validateHeadings 检查非续写分片的编号标题是否落在允许集合内且不缺不超
func (t *Transformer) validateHeadings(job chunk.Job, text string) (bool, string) {
	refs := textrepair.ScanNumberedHeadings(text)

	if len(job.AllowedHeadings) == 0 {
		if len(refs) > 0 {
			return false, fmt.Sprintf("该分片不应产生编号标题，却出现了 %q", refs[0].ID+" "+refs[0].Title)
		}
		return true, ""
	}

	allowed := make(map[string]string, len(job.AllowedHeadings))
	for _, h := range job.AllowedHeadings {
		allowed[headingID(h)] = h
	}

	for _, ref := range refs {
		if _, ok := allowed[ref.ID]; !ok {
			return false, fmt.Sprintf("标题 %q 不在本分片允许的标题集合内", ref.ID+" "+ref.Title)
		}
	}
	if len(refs) > len(job.AllowedHeadings) {
		return false, fmt.Sprintf("编号标题数量超出允许范围：允许 %d 个，实际 %d 个", len(job.AllowedHeadings), len(refs))
	}

	required := headingID(job.AllowedHeadings[0])
	found := false
	for _, ref := range refs {
		if ref.ID == required {
			found = true
			break
		}
	}
	if !found {
		return false, fmt.Sprintf("缺少本分片必须保留的标题 %q", job.AllowedHeadings[0])
	}
	return true, ""
}

// validateJSONParses 要求输出里每个 ```json 块都能直接解析
func validateJSONParses(text string) (bool, string) {
	blocks := textrepair.ExtractJSONBlocks(text)
	for i, block := range blocks {
		if _, _, err := jsonrepair.Normalize(block); err != nil {
			return false, fmt.Sprintf("第 %d 个 JSON 块无法解析: %v", i+1, err)
		}
	}
	return true, ""
}

// validateErrorCodes 输出中的错误码必须是源分片错误码的子集
func validateErrorCodes(source, text string) (bool, string) {
	sourceCodes := textrepair.ExtractErrorCodes(source)
	if len(sourceCodes) == 0 {
		return true, ""
	}
	outputCodes := textrepair.ExtractErrorCodes(text)

	var extra []string
	for code := range outputCodes {
		if _, ok := sourceCodes[code]; !ok {
			extra = append(extra, code)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return false, fmt.Sprintf("输出出现了源分片中不存在的错误码: %s", strings.Join(extra, ", "))
	}
	return true, ""
}

// headingID 从形如 "1.2 请求参数" 的标题里取编号部分
func headingID(heading string) string {
	fields := strings.Fields(heading)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
