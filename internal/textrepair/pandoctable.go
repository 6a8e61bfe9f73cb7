package textrepair

import (
	"regexp"
	"strings"
)

// 单列表格边框：首尾各一个 +，中间全为 - / = / 对齐冒号
var singleColBorderRe = regexp.MustCompile(`^\+[=:\-]+\+$`)

// 单列表格行：| 内容 |
var singleColCellRe = regexp.MustCompile(`^\|\s?(.*?)\s*\|$`)

// ConvertSingleColumnTables 把提取产物中的单列边框表格还原为围栏代码块。
// Word 里的文本框或单格表格会被提取为
//
//	+-------+
//	| {     |
//	| "a":1 |
//	| }     |
//	+-------+
//
// 按内容判定语言：{ 或 [ 开头 → json，curl 开头 → bash，否则无语言标记。
func ConvertSingleColumnTables(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	i := 0

	for i < len(lines) {
		line := lines[i]
		if !singleColBorderRe.MatchString(strings.TrimSpace(line)) {
			result = append(result, line)
			i++
			continue
		}

		startIdx := i
		var cells []string
		parsed := true
		i++
		for i < len(lines) {
			row := lines[i]
			if singleColBorderRe.MatchString(strings.TrimSpace(row)) {
				i++
				break
			}
			if m := singleColCellRe.FindStringSubmatch(row); m != nil {
				cells = append(cells, strings.TrimRight(m[1], " "))
			} else if strings.TrimSpace(row) == "|" || strings.TrimSpace(row) == "" {
				cells = append(cells, "")
			} else {
				parsed = false
				break
			}
			i++
		}

		if !parsed {
			// 解析失败，回退到起始行之后重新处理，避免丢行
			result = append(result, lines[startIdx])
			i = startIdx + 1
			continue
		}

		var contentLines []string
		for _, c := range cells {
			if strings.TrimSpace(c) != "" {
				contentLines = append(contentLines, c)
			}
		}
		content := strings.Join(contentLines, "\n")
		content = strings.ReplaceAll(content, " ", " ")
		content = strings.ReplaceAll(content, `\"`, `"`)
		content = strings.ReplaceAll(content, `\[`, "[")
		content = strings.ReplaceAll(content, `\]`, "]")

		stripped := strings.TrimSpace(content)
		switch {
		case strings.HasPrefix(stripped, "{") || strings.HasPrefix(stripped, "["):
			result = append(result, "```json\n"+content+"\n```")
		case strings.HasPrefix(stripped, "curl ") || strings.HasPrefix(stripped, "curl\n"):
			result = append(result, "```bash\n"+content+"\n```")
		default:
			result = append(result, "```\n"+content+"\n```")
		}
	}

	return strings.Join(result, "\n")
}
