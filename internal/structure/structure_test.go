package structure

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tocSample = `**某支付平台接口说明书**

[1 简介 [3](#简介)
[1.1 目的 [3](#目的)
[2 接口定义 [5](#接口定义)

# 1 简介 {#简介}
正文开始
`

func TestExtractExpectedHeadings(t *testing.T) {
	headings := ExtractExpectedHeadings(tocSample)
	assert.Equal(t, []string{"1 简介", "1.1 目的", "2 接口定义"}, headings)
}

func TestExtractExpectedHeadingsStopsAtBody(t *testing.T) {
	raw := "# 1 简介\n[2 接口 [5](#接口)\n"
	assert.Empty(t, ExtractExpectedHeadings(raw), "正文开始后的行不再当作目录")
}

func TestBuildRuleBased(t *testing.T) {
	ds := BuildRuleBased(tocSample, []string{"1 简介", "1.1 目的", "2 接口定义"})

	assert.Equal(t, "某支付平台接口说明书", ds.Title)
	assert.Equal(t, "api_doc", ds.DocType)
	assert.True(t, ds.HasTOC)
	require.Len(t, ds.Sections, 3)
	assert.Equal(t, Section{ID: "1", Title: "简介", Depth: 2}, ds.Sections[0])
	assert.Equal(t, Section{ID: "1.1", Title: "目的", Depth: 3}, ds.Sections[1])
	assert.Equal(t, 2, ds.HeadingMapping["2"])
}

func TestBuildRuleBasedNoTOC(t *testing.T) {
	ds := BuildRuleBased("没有目录的文档", nil)
	assert.False(t, ds.HasTOC)
	assert.Empty(t, ds.Sections)
}

func TestParseModelStructure(t *testing.T) {
	out := "```json\n" + `{
  "title": "接口说明书",
  "doc_type": "api_doc",
  "sections": [
    {"id": "1", "title": "简介", "level": 2},
    {"id": "1.1", "title": "目的", "level": 0}
  ]
}` + "\n```"

	ds, err := ParseModelStructure(out)
	require.NoError(t, err)
	assert.Equal(t, "接口说明书", ds.Title)
	require.Len(t, ds.Sections, 2)
	assert.Equal(t, 3, ds.Sections[1].Depth, "缺失深度按编号推导")
	assert.Equal(t, 2, ds.HeadingMapping["1"])
}

func TestParseModelStructureBadJSON(t *testing.T) {
	_, err := ParseModelStructure("这不是 JSON")
	assert.Error(t, err)
}

func TestFindContentStart(t *testing.T) {
	pos := FindContentStart(tocSample)
	assert.Greater(t, pos, 0)
	assert.True(t, strings.HasPrefix(tocSample[pos:], "\n# 1 简介"))
}

func TestFindContentStartFallbackZero(t *testing.T) {
	assert.Equal(t, 0, FindContentStart("没有任何标题"))
}

func TestSectionID(t *testing.T) {
	assert.Equal(t, "2.1", SectionID("2.1 查询接口"))
	assert.Equal(t, "", SectionID("无编号标题"))
}

func TestNormalizeHeading(t *testing.T) {
	assert.Equal(t, NormalizeHeading("2.1  查询接口"), NormalizeHeading("2.1 查询接口"))
}
