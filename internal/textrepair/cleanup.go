package textrepair

import (
	"regexp"
	"strings"
)

var (
	outerFenceOpenRe  = regexp.MustCompile("^```(?:markdown|md)?\\s*\n")
	outerFenceCloseRe = regexp.MustCompile("\n```\\s*$")
	imageAttrRe       = regexp.MustCompile(`\{width="[^"]*"\s*height="[^"]*"\}`)
	blankRunRe        = regexp.MustCompile(`\n{4,}`)
	brokenJSONJoinRe  = regexp.MustCompile("```\\s*\n\\s*\n*```json\\s*\n")
)

// StripOuterFence 去掉模型把整段输出包进去的外层 ```markdown 围栏
func StripOuterFence(text string) string {
	s := strings.TrimSpace(text)
	if !outerFenceOpenRe.MatchString(s) || !outerFenceCloseRe.MatchString(s) {
		return text
	}
	s = outerFenceOpenRe.ReplaceAllString(s, "")
	s = outerFenceCloseRe.ReplaceAllString(s, "")
	return s
}

// StripImageAttrs 去掉 pandoc 的图片宽高属性
func StripImageAttrs(text string) string {
	return imageAttrRe.ReplaceAllString(text, "")
}

// MergeBrokenJSONBlocks 合并被分片截断导致分裂的相邻 JSON 代码块：
// 闭围栏紧跟开围栏 ```json、中间只有空行时拼成一个块
func MergeBrokenJSONBlocks(text string) string {
	for brokenJSONJoinRe.MatchString(text) {
		text = brokenJSONJoinRe.ReplaceAllString(text, "\n")
	}
	return text
}

// CollapseBlankRuns 把 4 个以上连续换行压成 3 个
func CollapseBlankRuns(text string) string {
	return blankRunRe.ReplaceAllString(text, "\n\n\n")
}

// StripHeadingAnchors 去掉标题行尾残留的 {#xxx} 锚点属性
func StripHeadingAnchors(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false
	for i, line := range lines {
		if isFenceLine(line) {
			inFence = !inFence
			continue
		}
		if inFence || !strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines[i] = headingAttrRe.ReplaceAllString(line, "")
	}
	return strings.Join(lines, "\n")
}
