package textrepair

import (
	"regexp"
	"strings"
)

var curlStartRe = regexp.MustCompile(`^\s*curl\s`)

// curl 参数续行：反斜杠续行之后的选项或裸参数
var curlArgRe = regexp.MustCompile(`^\s*(-{1,2}\S|'|"|\S+\\$)`)

// WrapCurlBlocks 把围栏外的裸 curl 命令行包装为 bash 围栏块，
// 吸收反斜杠续行的参数行，跨过提取噪声引入的空行。
// 已在围栏内但缺语言标记、且内容以 curl 开头的块补上 bash 标记。
func WrapCurlBlocks(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	inFence := false
	i := 0

	for i < len(lines) {
		line := lines[i]
		if isFenceLine(line) {
			// 无语言标记且首行是 curl 的围栏块补 bash
			if !inFence && fenceLang(line) == "" {
				if first := firstFenceContentLine(lines, i); curlStartRe.MatchString(first) {
					line = strings.Replace(line, "```", "```bash", 1)
				}
			}
			inFence = !inFence
			result = append(result, line)
			i++
			continue
		}
		if inFence || !curlStartRe.MatchString(line) {
			result = append(result, line)
			i++
			continue
		}

		var block []string
		block = append(block, strings.TrimRight(line, " "))
		i++
		pending := strings.HasSuffix(block[len(block)-1], "\\")
		for i < len(lines) {
			next := lines[i]
			trimmed := strings.TrimSpace(next)
			if trimmed == "" {
				// 续行挂起时跨过空行噪声，否则命令结束
				if pending {
					i++
					continue
				}
				break
			}
			if isFenceLine(next) || (!pending && !curlArgRe.MatchString(next)) {
				break
			}
			block = append(block, strings.TrimRight(next, " "))
			pending = strings.HasSuffix(strings.TrimRight(next, " "), "\\")
			i++
		}

		result = append(result, "```bash")
		result = append(result, block...)
		result = append(result, "```")
	}

	return strings.Join(result, "\n")
}

// firstFenceContentLine 围栏开行之后的第一条非空内容行
func firstFenceContentLine(lines []string, fenceIdx int) string {
	for j := fenceIdx + 1; j < len(lines); j++ {
		if isFenceLine(lines[j]) {
			return ""
		}
		if strings.TrimSpace(lines[j]) != "" {
			return lines[j]
		}
	}
	return ""
}
