package textrepair

import (
	"regexp"
	"strings"
)

// 多列网格表格边框，如 +------+------+------+
var gridBorderRe = regexp.MustCompile(`^\+(?:[=:\-]+\+){2,}$`)

// 网格表格数据行
var gridRowRe = regexp.MustCompile(`^\|.*\|$`)

// 表头关键词 → 列角色
var (
	nameHeaderRe = regexp.MustCompile(`参数名|字段名|参数|字段|名称|(?i:name|field|parameter)`)
	typeHeaderRe = regexp.MustCompile(`类型|(?i:type)`)
	descHeaderRe = regexp.MustCompile(`说明|描述|含义|备注|(?i:desc|description)`)
)

// gridRow 网格表格中的一条逻辑行（边框之间的物理行按列合并）
type gridRow struct {
	cells []string
}

// FlattenGridTables 把提取残留的网格表格片段展平为标准管道表格。
// 同时识别完整边框的网格表格与缺上边框的残留片段；
// 仅有说明列的折行续行并入上一行；行首连续空单元格数推断嵌套深度，
// 子级字段名加树形前缀。
func FlattenGridTables(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	inFence := false
	i := 0

	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if isFenceLine(line) {
			inFence = !inFence
			result = append(result, line)
			i++
			continue
		}
		if inFence {
			result = append(result, line)
			i++
			continue
		}

		start := -1
		if gridBorderRe.MatchString(trimmed) {
			start = i
		} else if gridRowRe.MatchString(trimmed) && i+1 < len(lines) &&
			gridBorderRe.MatchString(strings.TrimSpace(lines[i+1])) {
			// 缺上边框的残留片段
			start = i
		}

		if start < 0 {
			result = append(result, line)
			i++
			continue
		}

		end := start
		for end < len(lines) {
			t := strings.TrimSpace(lines[end])
			if gridBorderRe.MatchString(t) || gridRowRe.MatchString(t) {
				end++
				continue
			}
			break
		}

		table, ok := flattenGridBlock(lines[start:end])
		if !ok {
			result = append(result, line)
			i++
			continue
		}
		result = append(result, table...)
		i = end
	}

	return strings.Join(result, "\n")
}

// flattenGridBlock 把一段网格表格行转换为管道表格行
func flattenGridBlock(block []string) ([]string, bool) {
	rows := parseGridRows(block)
	if len(rows) < 2 {
		return nil, false
	}

	header := rows[0].cells
	width := len(header)
	if width < 2 {
		return nil, false
	}

	descCol := findColumn(header, descHeaderRe)
	if descCol < 0 {
		descCol = width - 1
	}

	var data []gridRow
	for _, row := range rows[1:] {
		cells := padCells(row.cells, width)
		if isWrapContinuation(cells, descCol) && len(data) > 0 {
			prev := data[len(data)-1].cells
			prev[descCol] = strings.TrimSpace(prev[descCol] + " " + cells[descCol])
			continue
		}
		data = append(data, gridRow{cells: cells})
	}
	if len(data) == 0 {
		return nil, false
	}

	var out []string
	out = append(out, "| "+strings.Join(header, " | ")+" |")
	sep := make([]string, width)
	for k := range sep {
		sep[k] = "---"
	}
	out = append(out, "| "+strings.Join(sep, " | ")+" |")

	for _, row := range data {
		depth := leadingEmptyCells(row.cells)
		if depth >= width {
			continue
		}
		content := row.cells[depth:]
		cells := make([]string, width)
		cells[0] = RenderTreeName(content[0], depth)
		for k := 1; k < width; k++ {
			if k < len(content) {
				cells[k] = content[k]
			}
		}
		out = append(out, "| "+strings.Join(cells, " | ")+" |")
	}
	return out, true
}

// parseGridRows 把边框之间的物理行按列合并为逻辑行
func parseGridRows(block []string) []gridRow {
	var rows []gridRow
	var pending [][]string

	flush := func() {
		if len(pending) == 0 {
			return
		}
		width := 0
		for _, cells := range pending {
			if len(cells) > width {
				width = len(cells)
			}
		}
		merged := make([]string, width)
		for _, cells := range pending {
			for k, c := range cells {
				if c == "" {
					continue
				}
				merged[k] = strings.TrimSpace(merged[k] + " " + c)
			}
		}
		rows = append(rows, gridRow{cells: merged})
		pending = nil
	}

	for _, line := range block {
		trimmed := strings.TrimSpace(line)
		if gridBorderRe.MatchString(trimmed) {
			flush()
			continue
		}
		if gridRowRe.MatchString(trimmed) {
			pending = append(pending, splitGridCells(trimmed))
		}
	}
	flush()
	return rows
}

// splitGridCells 按竖线切出单元格并去边
func splitGridCells(row string) []string {
	inner := strings.TrimSuffix(strings.TrimPrefix(row, "|"), "|")
	parts := strings.Split(inner, "|")
	cells := make([]string, len(parts))
	for k, p := range parts {
		cells[k] = strings.TrimSpace(p)
	}
	return cells
}

func findColumn(header []string, re *regexp.Regexp) int {
	for k, h := range header {
		if re.MatchString(h) {
			return k
		}
	}
	return -1
}

func padCells(cells []string, width int) []string {
	out := make([]string, width)
	copy(out, cells)
	return out
}

// isWrapContinuation 仅说明列有内容的行视为上一行说明的折行续行
func isWrapContinuation(cells []string, descCol int) bool {
	if descCol >= len(cells) || strings.TrimSpace(cells[descCol]) == "" {
		return false
	}
	for k, c := range cells {
		if k != descCol && strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func leadingEmptyCells(cells []string) int {
	n := 0
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			break
		}
		n++
	}
	return n
}
