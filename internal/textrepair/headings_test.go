package textrepair

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromoteBareHeadings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"二级编号", "2.1 查询接口", "### 2.1 查询接口"},
		{"一级编号", "3 附录", "## 3 附录"},
		{"有序列表不提升", "1. 第一项", "1. 第一项"},
		{"长编号不提升", "2023 年度报告", "2023 年度报告"},
		{"句末标点不提升", "3 这是一个完整的句子。", "3 这是一个完整的句子。"},
		{"表格行不提升", "| 1 值 |", "| 1 值 |"},
		{"已是标题不重复", "## 2.1 查询接口", "## 2.1 查询接口"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PromoteBareHeadings(tt.input))
		})
	}
}

func TestPromoteBareHeadingsSkipsFences(t *testing.T) {
	input := "```\n2.1 输出示例\n```"
	assert.Equal(t, input, PromoteBareHeadings(input))
}

func TestNormalizeHeadingDepths(t *testing.T) {
	input := "# 2.1.3 鉴权\n## 2 接口\n#### 3 附录"
	want := "#### 2.1.3 鉴权\n## 2 接口\n## 3 附录"
	assert.Equal(t, want, NormalizeHeadingDepths(input))
}

func TestNormalizeHeadingDepthsIdempotent(t *testing.T) {
	input := "# 2.1.3 鉴权\n正文\n## 2 接口"
	once := NormalizeHeadingDepths(input)
	assert.Equal(t, once, NormalizeHeadingDepths(once))
}

func TestHeadingDepthForID(t *testing.T) {
	assert.Equal(t, 2, HeadingDepthForID("1"))
	assert.Equal(t, 3, HeadingDepthForID("2.1"))
	assert.Equal(t, 4, HeadingDepthForID("2.1.3"))
	assert.Equal(t, 6, HeadingDepthForID("1.2.3.4.5.6.7"))
}

func TestStripHeadingsOutsideCode(t *testing.T) {
	input := "## 2.1 标题\n正文\n```\n# 代码里的注释\n```\n### 又一个标题"
	out, removed := StripHeadingsOutsideCode(input)
	assert.Equal(t, 2, removed)
	assert.NotContains(t, out, "## 2.1 标题")
	assert.Contains(t, out, "# 代码里的注释")
	assert.Contains(t, out, "正文")
}

func TestForceFirstHeading(t *testing.T) {
	t.Run("改写错误深度", func(t *testing.T) {
		out, changed := ForceFirstHeading("# 2.1 查询接口\n正文", "2.1 查询接口", 3)
		assert.True(t, changed)
		assert.True(t, strings.HasPrefix(out, "### 2.1 查询接口"))
	})
	t.Run("缺失时前插", func(t *testing.T) {
		out, changed := ForceFirstHeading("正文内容", "2.1 查询接口", 3)
		assert.True(t, changed)
		assert.True(t, strings.HasPrefix(out, "### 2.1 查询接口\n\n正文内容"))
	})
	t.Run("已正确不改写", func(t *testing.T) {
		_, changed := ForceFirstHeading("### 2.1 查询接口\n正文", "2.1 查询接口", 3)
		assert.False(t, changed)
	})
}

func TestScanNumberedHeadings(t *testing.T) {
	input := "## 1 简介\n```\n## 9 代码里的假标题\n```\n### 1.1 目的 {#purpose}"
	refs := ScanNumberedHeadings(input)
	assert.Len(t, refs, 2)
	assert.Equal(t, "1", refs[0].ID)
	assert.Equal(t, "1.1", refs[1].ID)
	assert.Equal(t, "目的", refs[1].Title)
	assert.Equal(t, 3, refs[1].Depth)
}

func TestExtractErrorCodes(t *testing.T) {
	input := "| 10001 | 参数错误 |\n| 10003 | 签名错误 |\n正文里的 2024 年份不算\n99999  系统异常"
	codes := ExtractErrorCodes(input)
	assert.Contains(t, codes, "10001")
	assert.Contains(t, codes, "10003")
	assert.Contains(t, codes, "99999")
	assert.NotContains(t, codes, "2024")
}
