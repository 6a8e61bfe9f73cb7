package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBody = `# 1 简介 {#简介}

这里是简介正文。

# 1.1 目的

说明文档的目的。

# 2 接口定义

接口正文内容。`

func TestPlanAssignsSectionIdentity(t *testing.T) {
	expected := []string{"1 简介", "1.1 目的", "2 接口定义"}
	jobs := Plan(sampleBody, expected, 8000)
	require.Len(t, jobs, 3)

	assert.Equal(t, "1", jobs[0].SectionID)
	assert.Equal(t, "1 简介", jobs[0].SectionHeading)
	assert.Equal(t, []string{"1 简介"}, jobs[0].AllowedHeadings)
	assert.False(t, jobs[0].ContinuationMode)
	assert.True(t, jobs[0].ChunkHasHeading)

	assert.Equal(t, "1.1", jobs[1].SectionID)
	assert.Equal(t, "1 简介", jobs[1].PreviousHeading)
	assert.Equal(t, "2 接口定义", jobs[1].NextHeading)

	assert.Equal(t, "2", jobs[2].SectionID)
	assert.Equal(t, "", jobs[2].NextHeading)
}

func TestPlanLossless(t *testing.T) {
	expected := []string{"1 简介", "1.1 目的", "2 接口定义"}
	jobs := Plan(sampleBody, expected, 8000)

	var parts []string
	for _, j := range jobs {
		parts = append(parts, j.Content)
	}
	assert.Equal(t, sampleBody, strings.Join(parts, "\n"), "分片拼接应无损还原正文")
}

func TestPlanLosslessWithOversizedSection(t *testing.T) {
	long := strings.Repeat("很长的接口说明文字，超出预算后继续切分。\n", 50)
	body := "# 1 接口\n\n" + long
	jobs := Plan(body, []string{"1 接口"}, 400)
	require.Greater(t, len(jobs), 1)

	var parts []string
	for _, j := range jobs {
		parts = append(parts, j.Content)
	}
	assert.Equal(t, body, strings.Join(parts, "\n"))

	assert.False(t, jobs[0].ContinuationMode)
	for _, j := range jobs[1:] {
		assert.True(t, j.ContinuationMode, "同一章节的后续分片必须是续写模式")
		assert.Equal(t, "1", j.SectionID)
	}
}

func TestPlanPreamble(t *testing.T) {
	body := "没有标题的前言。\n\n# 1 简介\n\n正文。"
	jobs := Plan(body, []string{"1 简介"}, 8000)
	require.Len(t, jobs, 2)
	assert.True(t, strings.HasPrefix(jobs[0].SectionID, "preamble-"))
	assert.True(t, jobs[0].ContinuationMode, "无标题分片不允许输出标题")
	assert.Empty(t, jobs[0].AllowedHeadings)
	assert.Equal(t, "1 简介", jobs[0].NextHeading)
}

func TestPlanNoisyHeadingFallsBackByPosition(t *testing.T) {
	// 提取产物的标题文本有噪声，按位置而非文本配对
	body := "# 1simplejie 简介xx\n\n正文。"
	jobs := Plan(body, []string{"1 简介"}, 8000)
	require.Len(t, jobs, 1)
	assert.Equal(t, "1 简介", jobs[0].SectionHeading)
	assert.Equal(t, "1", jobs[0].SectionID)
}

func TestSplitBySizeRespectsCodeFence(t *testing.T) {
	fence := "```json\n" + strings.Repeat("{\"k\": \"v\"},\n", 60) + "```"
	text := "# 标题\n" + fence
	chunks := SplitBySize(text, 200)
	for _, c := range chunks {
		opens := strings.Count(c, "```")
		assert.Equal(t, 0, opens%2, "代码围栏不能被切断: %q", c[:min(40, len(c))])
	}
	assert.Equal(t, text, strings.Join(chunks, "\n"))
}

func TestSplitBySizeSmallInput(t *testing.T) {
	chunks := SplitBySize("短文本", 8000)
	assert.Equal(t, []string{"短文本"}, chunks)
}

func TestPlanFlat(t *testing.T) {
	body := strings.Repeat("无章节标记的内容行。\n", 100)
	jobs := PlanFlat(body, 500)
	require.Greater(t, len(jobs), 1)
	// 尺寸切分的各分片互相独立，后续分片也不是续写片
	for _, j := range jobs {
		assert.False(t, j.ContinuationMode)
		assert.Empty(t, j.AllowedHeadings)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
