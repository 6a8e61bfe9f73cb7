package textrepair

import (
	"regexp"
	"strings"
)

// 管道表格分隔行，如 | --- | :---: |
var pipeSepRe = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

// pipeTable 文档中一张管道表格及其行号范围
type pipeTable struct {
	header    []string
	rows      [][]string
	startLine int // 表头所在行号
	endLine   int // 最后一条数据行所在行号
}

// nameColumn 名称列下标，找不到时取 0
func (t *pipeTable) nameColumn() int {
	if k := findColumn(t.header, nameHeaderRe); k >= 0 {
		return k
	}
	return 0
}

// typeColumn 类型列下标，找不到时返回 -1
func (t *pipeTable) typeColumn() int {
	return findColumn(t.header, typeHeaderRe)
}

// render 重新渲染为管道表格行
func (t *pipeTable) render() []string {
	width := len(t.header)
	out := make([]string, 0, len(t.rows)+2)
	out = append(out, "| "+strings.Join(t.header, " | ")+" |")
	sep := make([]string, width)
	for k := range sep {
		sep[k] = "---"
	}
	out = append(out, "| "+strings.Join(sep, " | ")+" |")
	for _, row := range t.rows {
		out = append(out, "| "+strings.Join(padCells(row, width), " | ")+" |")
	}
	return out
}

// isPipeRow 是否管道表格行
func isPipeRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") && len(trimmed) > 1
}

// scanPipeTables 扫描围栏外的全部管道表格
func scanPipeTables(lines []string) []pipeTable {
	var tables []pipeTable
	inFence := false

	for i := 0; i < len(lines); i++ {
		if isFenceLine(lines[i]) {
			inFence = !inFence
			continue
		}
		if inFence || !isPipeRow(lines[i]) {
			continue
		}
		if i+1 >= len(lines) || !pipeSepRe.MatchString(lines[i+1]) {
			continue
		}

		t := pipeTable{header: splitGridCells(strings.TrimSpace(lines[i])), startLine: i}
		j := i + 2
		for j < len(lines) && isPipeRow(lines[j]) && !pipeSepRe.MatchString(lines[j]) {
			t.rows = append(t.rows, splitGridCells(strings.TrimSpace(lines[j])))
			j++
		}
		t.endLine = j - 1
		tables = append(tables, t)
		i = j - 1
	}
	return tables
}

// replaceLines 用新行替换 [start, end] 区间，返回新切片
func replaceLines(lines []string, start, end int, repl []string) []string {
	out := make([]string, 0, len(lines)-(end-start+1)+len(repl))
	out = append(out, lines[:start]...)
	out = append(out, repl...)
	out = append(out, lines[end+1:]...)
	return out
}
