package textrepair

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapCurlBlocks(t *testing.T) {
	input := strings.Join([]string{
		"请求示例：",
		"curl -X POST https://api.example.com/v1/query \\",
		"  -H 'Content-Type: application/json' \\",
		"",
		"  -d '{\"pageNo\":1}'",
		"",
		"上面是示例。",
	}, "\n")

	out := WrapCurlBlocks(input)
	require.Contains(t, out, "```bash")
	assert.Contains(t, out, "-d '{\"pageNo\":1}'")

	// 围栏内的三行命令连续，空行噪声被吸收
	start := strings.Index(out, "```bash")
	end := strings.Index(out[start:], "\n```\n")
	block := out[start : start+end]
	assert.Equal(t, 3, strings.Count(block, "\n"), "bash 围栏内应是连续三行命令")
}

func TestWrapCurlBlocksIdempotent(t *testing.T) {
	input := "```bash\ncurl -X GET https://example.com\n```"
	assert.Equal(t, input, WrapCurlBlocks(input))
}

func TestWrapCurlBlocksTagsBareFence(t *testing.T) {
	input := "```\ncurl -X GET https://example.com\n```"
	out := WrapCurlBlocks(input)
	assert.True(t, strings.HasPrefix(out, "```bash\n"))
}

func TestBoldLabelLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"未加粗", "请求方式：POST", "**请求方式：** POST"},
		{"加粗缺空格", "**请求地址**：/v1/query", "**请求地址：** /v1/query"},
		{"裸标签", "请求示例：", "**请求示例：**"},
		{"已规范不变", "**请求方式：** POST", "**请求方式：** POST"},
		{"非标签不动", "方式：POST", "方式：POST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BoldLabelLines(tt.input))
		})
	}
}

func TestStripOuterFence(t *testing.T) {
	input := "```markdown\n## 2.1 标题\n正文\n```"
	assert.Equal(t, "## 2.1 标题\n正文", StripOuterFence(input))

	plain := "## 2.1 标题\n正文"
	assert.Equal(t, plain, StripOuterFence(plain))
}

func TestMergeBrokenJSONBlocks(t *testing.T) {
	input := "```json\n{\n  \"a\": 1\n```\n\n```json\n}\n```"
	out := MergeBrokenJSONBlocks(input)
	assert.Equal(t, 1, strings.Count(out, "```json"))
}

func TestCollapseBlankRuns(t *testing.T) {
	assert.Equal(t, "a\n\n\nb", CollapseBlankRuns("a\n\n\n\n\n\nb"))
}

func TestStripHeadingAnchors(t *testing.T) {
	input := "## 1 简介 {#intro}\n正文 {#notouch}"
	out := StripHeadingAnchors(input)
	assert.Contains(t, out, "## 1 简介")
	assert.NotContains(t, out, "{#intro}")
	assert.Contains(t, out, "{#notouch}")
}

func TestStripImageAttrs(t *testing.T) {
	input := `![图](media/a.png){width="480" height="320"}`
	assert.Equal(t, "![图](media/a.png)", StripImageAttrs(input))
}

func TestRepairPipelineGridScenario(t *testing.T) {
	input := strings.Join([]string{
		"2.3 查询结果",
		"",
		"请求方式：POST",
		"",
		"+----------------+------------+----------------+",
		"| 参数名         | 类型       | 说明           |",
		"+================+============+================+",
		"| records        | Object[]   | 记录列表       |",
		"+----------------+------------+----------------+",
		"|                | userName   | 用户名         |",
		"+----------------+------------+----------------+",
		"|                | jobId      | 任务编号       |",
		"+----------------+------------+----------------+",
	}, "\n")

	out := Repair(input)
	assert.Contains(t, out, "### 2.3 查询结果")
	assert.Contains(t, out, "**请求方式：** POST")
	assert.Contains(t, out, "| 参数名 | 类型 | 说明 |")
	assert.Equal(t, 2, strings.Count(out, TreeGlyph))
}

func TestRepairIdempotent(t *testing.T) {
	input := strings.Join([]string{
		"## 1 简介",
		"",
		"**请求方式：** POST",
		"",
		"| 参数名 | 类型 | 说明 |",
		"| --- | --- | --- |",
		"| code | String | 应答码 |",
		"",
		"```json",
		"{\"code\": \"0000\"}",
		"```",
	}, "\n")

	once := Repair(input)
	assert.Equal(t, once, Repair(once))
}
