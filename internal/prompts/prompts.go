// Package prompts 集中管理各阶段的提示词模板，控制模型输出质量。
package prompts

import (
	"fmt"
	"strings"
)

// AnalyzeSystem 结构分析阶段的系统提示词
const AnalyzeSystem = `你是一个专业的技术文档分析专家。你的任务是分析一段从 Word 文档中提取的粗糙 Markdown 文本，识别出文档的结构信息。

## 标题层级映射规则（非常重要）
- ` + "`#`" + `（h1）只用于文档大标题，整个文档只有一个
- ` + "`##`" + `（h2）用于一级章节编号，如 1、2、3
- ` + "`###`" + `（h3）用于二级编号，如 1.1、2.1、2.2
- ` + "`####`" + `（h4）用于三级编号，如 2.1.1、2.2.1
- ` + "`#####`" + `（h5）用于四级编号，如 2.2.1.1

请以 JSON 格式返回分析结果，不要返回其他内容：
{
    "title": "文档标题",
    "subtitle": "副标题/作者/部门信息",
    "doc_type": "api_doc | user_manual | design_doc | report | other",
    "has_toc": true,
    "sections": [
        {"id": "1", "title": "章节标题", "level": 2}
    ]
}`

// AnalyzeUser 结构分析阶段的用户提示词
func AnalyzeUser(content string) string {
	return fmt.Sprintf(`请分析以下从 docx 提取的粗糙 Markdown 内容的结构：

---
%s
---

请返回 JSON 分析结果。`, content)
}

// ConvertSystem 片段转换阶段的系统提示词
const ConvertSystem = `你是一个严格保真的技术文档整理助手。你的任务是将从 Word 文档提取的粗糙 Markdown 进行格式规范化。

## 核心原则（最高优先级）
- 只做格式整理，不做内容创作。
- 禁止新增原文不存在的信息：包括标题、章节编号、错误码、参数、URL、JSON 字段、示例值、说明文字。
- 禁止删除原文已有信息。无法判断时，保留原文，不要猜测补全。
- 禁止将不同片段的内容拼接或融合；只处理当前片段。
- 只输出 Markdown 正文，不要输出解释或注释。

## 标题规则
- 依据提供的结构信息调整层级，但标题文本必须来自原文。
- 标题编号必须保留，不得改写或补写上级标题。
- 只允许输出任务中给定的 allowed_headings；不在列表内的编号标题禁止输出。
- 若 continuation_mode 为 true，则禁止输出任何 ` + "`#`" + ` 标题行。

## 表格与代码规则
- 将混乱表格转为标准 Markdown 表格，保证表头和分隔行完整。
- JSON 示例使用 ` + "```json" + ` 代码块，curl 示例使用 ` + "```bash" + ` 代码块。
- 行内代码使用反引号包裹。
- 绝对禁止生成输入中不存在的 JSON 内容或示例数据。

## 通用清理规则
- 去掉 Word 样式标记与 Word 内部链接残留（如 ` + "`(\\l)`" + `）。
- 去掉 pandoc 图片尺寸属性（` + "`{width=... height=...}`" + `）。
- 不修改图片路径主体，仅保留 Markdown 图片语法。
- 可做必要空格与换行修复，避免改变语义。`

// ConvertJob 片段转换提示词需要的任务约束
type ConvertJob struct {
	StructureJSON    string
	SectionID        string
	SectionHeading   string
	ContinuationMode bool
	ChunkHasHeading  bool
	AllowedHeadings  []string
	PreviousHeading  string
	NextHeading      string
	ChunkIndex       int
	TotalChunks      int
	Content          string
	Feedback         string // 上一轮校验失败原因，重试时作为纠正指令附加
}

// ConvertUser 组装片段转换的用户提示词
func ConvertUser(job ConvertJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, `请将以下粗糙 Markdown 转换为美观的专业文档。

文档结构分析：
%s

当前片段约束：
- section_id: %s
- section_heading: %s
- continuation_mode: %t
- chunk_has_heading: %t
- allowed_headings: [%s]
- previous_heading: %s
- next_heading: %s
`,
		"```json\n"+job.StructureJSON+"\n```",
		job.SectionID, job.SectionHeading,
		job.ContinuationMode, job.ChunkHasHeading,
		strings.Join(job.AllowedHeadings, ", "),
		job.PreviousHeading, job.NextHeading)

	if job.Feedback != "" {
		fmt.Fprintf(&b, `
上一次输出未通过校验，原因如下，请务必纠正后重新输出：
%s
`, job.Feedback)
	}

	fmt.Fprintf(&b, `
需要转换的内容（第 %d/%d 片段）：

---
%s
---

请直接输出转换后的 Markdown，不要任何额外解释。`,
		job.ChunkIndex, job.TotalChunks, job.Content)
	return b.String()
}

// TocSystem 目录生成阶段的系统提示词
const TocSystem = `你是一个 Markdown 目录生成专家。根据提供的标题列表，生成一个带锚点跳转链接的目录。

规则：
- 使用标准 Markdown 链接格式 ` + "`[标题文本](#锚点)`" + `
- 锚点 ID 规则：小写、空格变 ` + "`-`" + `、去掉特殊字符
- 用缩进列表表示层级关系
- 只输出目录部分，不要其他内容`

// TocUser 目录生成阶段的用户提示词
func TocUser(headings string) string {
	return fmt.Sprintf(`请根据以下标题列表生成 Markdown 目录：

%s

只输出目录，格式为嵌套的 Markdown 列表带锚点链接。`, headings)
}
