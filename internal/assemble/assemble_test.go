package assemble

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/doc2md/agent/pkg/providers"
)

// failingProvider 任何调用都失败，用于验证确定性回退路径
type failingProvider struct {
	calls int
}

func (p *failingProvider) Invoke(context.Context, *providers.Request) (*providers.Response, error) {
	p.calls++
	return nil, errors.New("backend unavailable")
}

func (p *failingProvider) GetName() string                  { return "failing" }
func (p *failingProvider) GetModel() string                 { return "none" }
func (p *failingProvider) HealthCheck(context.Context) error { return errors.New("down") }

const threeHeadingDoc = `# 产品接口说明书

## 1 Introduction

本文档描述产品对外接口。

### 1.1 Purpose

说明适用范围。

## 2 API

接口定义见后续章节。`

func TestAssembleInsertsDeterministicTOC(t *testing.T) {
	a := New(nil, DefaultOptions(), zap.NewNop())

	chunks := []string{
		"# 产品接口说明书\n\n## 1 Introduction\n\n本文档描述产品对外接口。\n\n### 1.1 Purpose\n\n说明适用范围。",
		"## 2 API\n\n接口定义见后续章节。",
	}
	expected := []string{"1 Introduction", "1.1 Purpose", "2 API"}

	text, report, err := a.Assemble(context.Background(), chunks, nil, threeHeadingDoc, expected)
	require.NoError(t, err)
	assert.Empty(t, report.ValidationIssues)
	assert.False(t, report.TOCFallback)

	assert.Contains(t, text, "## 目录")
	assert.Contains(t, text, "- [1 Introduction](#1-introduction)")
	assert.Contains(t, text, "  - [1.1 Purpose](#11-purpose)")
	assert.Contains(t, text, "- [2 API](#2-api)")

	// 目录必须插在文档标题之后、第一个章节标题之前
	tocPos := strings.Index(text, "## 目录")
	introPos := strings.Index(text, "## 1 Introduction")
	require.Greater(t, tocPos, strings.Index(text, "# 产品接口说明书"))
	assert.Less(t, tocPos, introPos)

	// 输出以单个换行结尾，且无三连以上空行
	assert.True(t, strings.HasSuffix(text, "\n"))
	assert.NotContains(t, text, "\n\n\n\n")
}

func TestAssembleModelTOCFallsBack(t *testing.T) {
	opts := DefaultOptions()
	opts.DeterministicTOC = false
	p := &failingProvider{}
	a := New(p, opts, zap.NewNop())

	text, report, err := a.Assemble(context.Background(), []string{threeHeadingDoc}, nil, threeHeadingDoc, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)
	assert.True(t, report.TOCFallback)
	assert.Contains(t, report.TOCFallbackReason, "backend unavailable")
	assert.Contains(t, text, "## 目录")
	assert.Contains(t, text, "(#11-purpose)")
}

func TestPostprocessPartialNeverCallsModel(t *testing.T) {
	opts := DefaultOptions()
	opts.DeterministicTOC = false
	p := &failingProvider{}
	a := New(p, opts, zap.NewNop())

	text := a.PostprocessPartial(threeHeadingDoc, nil)
	assert.Zero(t, p.calls)
	assert.Contains(t, text, "## 目录")
	assert.True(t, strings.HasSuffix(text, "\n"))
}

func TestAssembleRepairsDegradedChunks(t *testing.T) {
	a := New(nil, DefaultOptions(), zap.NewNop())

	// 回退分片中常见的残缺形态：裸编号标题、未加粗标签行、网格表格片段
	chunks := []string{
		"# 订单接口\n\n## 2 接口说明\n\n请求方式：POST",
		"2.1 请求参数\n\n+----------+----------+----------+\n| 参数名 | 类型 | 说明 |\n+==========+==========+==========+\n| records | Object[] | 记录列表 |\n+----------+----------+----------+",
	}

	text, report, err := a.Assemble(context.Background(), chunks, nil, strings.Join(chunks, "\n\n"), nil)
	require.NoError(t, err)
	assert.Empty(t, report.ValidationIssues)

	assert.Contains(t, text, "**请求方式：** POST")
	assert.Contains(t, text, "### 2.1 请求参数")
	assert.Contains(t, text, "| records | Object[] | 记录列表 |")
	assert.Contains(t, text, "| --- | --- | --- |")
	assert.NotContains(t, text, "+====")
}

func TestAssembleRegeneratesExistingTOC(t *testing.T) {
	a := New(nil, DefaultOptions(), zap.NewNop())

	// 分片里残留的旧目录必须被替换，而不是再叠加一份
	chunks := []string{
		"# 产品接口说明书\n\n## 目录\n\n- [1 概述](#1-概述)\n\n## 1 概述\n\n本文档描述产品对外接口。",
		"## 2 API\n\n接口定义见后续章节。",
	}

	text, _, err := a.Assemble(context.Background(), chunks, nil, strings.Join(chunks, "\n\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(text, "## 目录"))
	assert.Contains(t, text, "- [1 概述](#1-概述)")
	assert.Contains(t, text, "- [2 API](#2-api)")
}

func TestPostprocessPartialRepairsAndRegeneratesTOC(t *testing.T) {
	a := New(nil, DefaultOptions(), zap.NewNop())

	in := "# 标题\n\n## 目录\n\n- [1 概述](#1-概述)\n\n## 1 概述\n\n请求方式：POST\n\n1.1 请求参数\n\n字段见下表。"
	out := a.PostprocessPartial(in, nil)

	assert.Equal(t, 1, strings.Count(out, "## 目录"))
	assert.Contains(t, out, "**请求方式：** POST")
	assert.Contains(t, out, "### 1.1 请求参数")
	assert.Contains(t, out, "  - [1.1 请求参数](#11-请求参数)")
}

func TestFixImagePaths(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		mapping map[string]string
		want    string
	}{
		{
			name:    "映射表替换并剥除工作目录前缀",
			input:   "![图1](./.work/media/image1.png)",
			mapping: map[string]string{"media/image1.png": "images/image1.png"},
			want:    "![图1](images/image1.png)",
		},
		{
			name:  "media 双层目录折叠",
			input: "![](media/media/logo.png)",
			want:  "![](images/logo.png)",
		},
		{
			name:  "images 双层目录去重",
			input: "![](images/images/a.png)",
			want:  "![](images/a.png)",
		},
		{
			name:  "pandoc 尺寸属性剥除",
			input: `![图2](images/b.png){width="4.5in" height="2.1in"}`,
			want:  "![图2](images/b.png)",
		},
		{
			name:  "非图片语法中的路径不动",
			input: "参见 media/media/c.png 文件。",
			want:  "参见 media/media/c.png 文件。",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FixImagePaths(tt.input, tt.mapping, "images"))
		})
	}
}

func TestSpaceAdjacentBoldLines(t *testing.T) {
	in := "**请求参数：**\n**响应参数：**"
	out := SpaceAdjacentBoldLines(in)
	assert.Equal(t, "**请求参数：**\n\n**响应参数：**", out)

	// 带尾随文本的行不是独立加粗行，不处理
	mixed := "**请求方式：** POST\n**请求地址：** /api/v1/orders"
	assert.Equal(t, mixed, SpaceAdjacentBoldLines(mixed))
}

func TestValidateFinalHeadingCompleteness(t *testing.T) {
	raw := "# 标题\n\n## 1 概述\n\n### 1.1 目的\n\n## 2 接口"
	final := "# 标题\n\n## 1 概述\n\n## 2 接口\n\n## 2 接口"
	expected := []string{"1 概述", "1.1 目的", "2 接口"}

	issues := ValidateFinal(raw, final, expected, 8)
	require.Len(t, issues, 2)
	assert.Contains(t, issues[0], "缺失标题 1 个")
	assert.Contains(t, issues[0], "1.1目的")
	assert.Contains(t, issues[1], "新增/重复标题 1 个")
}

func TestValidateFinalDuplicateH1(t *testing.T) {
	final := "# 标题一\n\n正文。\n\n# 标题二\n\n正文。"
	issues := ValidateFinal(final, final, nil, 8)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "一级标题重复: 2 个")
}

func TestValidateFinalH1InsideFenceIgnored(t *testing.T) {
	final := "# 标题\n\n```bash\n# 这是注释不是标题\n```\n"
	assert.Empty(t, ValidateFinal(final, final, nil, 8))
}

func TestValidateFinalErrorCodeSubset(t *testing.T) {
	raw := "## 3 错误码\n\n| 错误码 | 说明 |\n| --- | --- |\n| 10001 | 参数缺失 |\n| 10003 | 签名错误 |"
	final := "## 3 错误码\n\n| 错误码 | 说明 |\n| --- | --- |\n| 10001 | 参数缺失 |\n| 100000 | 系统繁忙 |"

	issues := ValidateFinal(raw, final, nil, 8)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "第 1 节")
	assert.Contains(t, issues[0], "100000")
}

func TestValidateFinalInvalidJSONBlock(t *testing.T) {
	final := "## 1 示例\n\n```json\n{\"a\": }\n```"
	issues := ValidateFinal(final, final, nil, 8)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "JSON 代码块格式错误")
}

func TestErrorCodeSetsBySection(t *testing.T) {
	text := "## 1 查询接口\n\n说明。\n\n### 1.1 错误码\n\n| 10001 | 参数缺失 |\n\n## 2 下单接口\n\n### 2.1 错误码说明\n\n| 20001 | 余额不足 |\n| 20002 | 超限 |"

	sets := ErrorCodeSetsBySection(text)
	require.Len(t, sets, 2)
	assert.Contains(t, sets[0], "10001")
	assert.Contains(t, sets[1], "20001")
	assert.Contains(t, sets[1], "20002")
	assert.NotContains(t, sets[1], "10001")
}

func TestCleanOutputMergesBrokenJSONFences(t *testing.T) {
	in := "```markdown\n# 标题\n\n```json\n{\"a\": 1,\n```\n\n```json\n\"b\": 2}\n```\n\n\n\n\n正文\n```"
	out := CleanOutput(in)
	assert.False(t, strings.HasPrefix(out, "```markdown"))
	// 被拆成两半的 JSON 块重新并为一个
	assert.Equal(t, 1, strings.Count(out, "```json"))
	assert.Contains(t, out, "\"b\": 2}")
	assert.NotContains(t, out, "\n\n\n\n")
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.False(t, strings.HasSuffix(out, "\n\n"))
}
