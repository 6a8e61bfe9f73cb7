package textrepair

import (
	"regexp"
	"strings"
)

// API 文档中固定出现的标签词表
var labelVocabulary = []string{
	"请求方式",
	"请求方法",
	"请求地址",
	"请求路径",
	"请求URL",
	"接口地址",
	"接口说明",
	"接口描述",
	"报文格式",
	"字符编码",
	"请求参数",
	"响应参数",
	"返回参数",
	"请求示例",
	"响应示例",
	"返回示例",
	"错误码",
}

var labelLineRe = buildLabelRe()

func buildLabelRe() *regexp.Regexp {
	escaped := make([]string, len(labelVocabulary))
	for i, l := range labelVocabulary {
		escaped[i] = regexp.QuoteMeta(l)
	}
	return regexp.MustCompile(`^(\s*)(?:\*\*)?(` + strings.Join(escaped, "|") + `)(?:\*\*)?\s*([:：])(?:\*\*)?\s*(.*)$`)
}

// BoldLabelLines 把标签行统一改写为 "**标签：** 值" 形式，
// 同时修正未加粗与加粗后缺空格的两种变体。标题行与围栏内不处理。
func BoldLabelLines(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false

	for i, line := range lines {
		if isFenceLine(line) {
			inFence = !inFence
			continue
		}
		if inFence || strings.HasPrefix(strings.TrimSpace(line), "#") ||
			strings.HasPrefix(strings.TrimSpace(line), "|") {
			continue
		}
		m := labelLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent, label, colon, value := m[1], m[2], m[3], strings.TrimSpace(m[4])
		if value == "" {
			// 裸标签行（如"请求示例："引导代码块）只统一加粗
			lines[i] = indent + "**" + label + colon + "**"
			continue
		}
		lines[i] = indent + "**" + label + colon + "** " + value
	}
	return strings.Join(lines, "\n")
}
