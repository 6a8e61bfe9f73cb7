package textrepair

import (
	"regexp"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/doc2md/agent/internal/jsonrepair"
)

// 子表引导行，如 "**records** 对象字段说明：" 或 "`data` 参数说明"
var childTableLabelRe = regexp.MustCompile(
	"^\\s*(?:\\*\\*)?`?([A-Za-z_][A-Za-z0-9_.]*)`?(?:\\*\\*)?\\s*(?:对象|Object|object)?\\s*(?:字段|参数|属性)说明[:：]?\\s*$")

// 对象/数组类型标记，用于无 JSON 示例时的深度推断
var objectTypeRe = regexp.MustCompile(`(?i)object|array|\[\]|对象|数组`)

// MergeHierarchicalTables 把父表之后由"<字段> 对象字段说明"引导的子表
// 并入父表：子表数据行插到父表对应字段行之后，深度加一并带树形前缀，
// 按归一化字段名去重。引导行与子表原位置删除。
func MergeHierarchicalTables(text string) string {
	for {
		merged, changed := mergeOneChildTable(text)
		if !changed {
			return merged
		}
		text = merged
	}
}

func mergeOneChildTable(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	tables := scanPipeTables(lines)
	if len(tables) < 2 {
		return text, false
	}

	for ti := 0; ti < len(tables)-1; ti++ {
		parent := tables[ti]
		// 父表之后、下一张表之前寻找引导行
		child := tables[ti+1]
		field := ""
		labelLine := -1
		for li := parent.endLine + 1; li < child.startLine; li++ {
			if m := childTableLabelRe.FindStringSubmatch(lines[li]); m != nil {
				field = m[1]
				labelLine = li
			}
		}
		if field == "" {
			continue
		}

		nameCol := parent.nameColumn()
		parentRow := -1
		parentDepth := 0
		want := strings.ToLower(field)
		for ri, row := range parent.rows {
			if nameCol >= len(row) {
				continue
			}
			if NormalizeFieldName(row[nameCol]) == want {
				parentRow = ri
				_, parentDepth = ParseTreeName(row[nameCol])
				break
			}
		}
		if parentRow < 0 {
			continue
		}

		existing := make(map[string]struct{}, len(parent.rows))
		for _, row := range parent.rows {
			if nameCol < len(row) {
				existing[NormalizeFieldName(row[nameCol])] = struct{}{}
			}
		}

		childNameCol := child.nameColumn()
		var spliced [][]string
		for _, row := range child.rows {
			if childNameCol >= len(row) {
				continue
			}
			name, relDepth := ParseTreeName(row[childNameCol])
			key := strings.ToLower(strings.Trim(name, "`*"))
			if _, dup := existing[key]; dup {
				continue
			}
			existing[key] = struct{}{}

			newRow := padCells(row, len(parent.header))
			newRow[nameCol] = RenderTreeName(name, parentDepth+1+relDepth)
			spliced = append(spliced, newRow)
		}

		merged := pipeTable{header: parent.header}
		merged.rows = append(merged.rows, parent.rows[:parentRow+1]...)
		merged.rows = append(merged.rows, spliced...)
		merged.rows = append(merged.rows, parent.rows[parentRow+1:]...)

		// 先删后面的区间，避免行号失效
		out := replaceLines(lines, labelLine, child.endLine, nil)
		out = replaceLines(out, parent.startLine, parent.endLine, merged.render())
		return strings.Join(out, "\n"), true
	}
	return text, false
}

// jsonSearchWindow 参数表之后向前搜索 JSON 示例的最大行数
const jsonSearchWindow = 40

// CorrectTableDepths 修正参数表中树形前缀的嵌套深度。
// 优先用表后窗口内第一个可解析的 JSON 示例：按深度优先序取键→深度序列，
// 顺序匹配每行字段名（精确、点/下划线后缀，最后模糊匹配）并改写该行深度。
// 没有可用示例时退化为对象/数组行启发式，且仅当表格当前完全平铺时生效。
func CorrectTableDepths(text string) string {
	lines := strings.Split(text, "\n")

	for {
		tables := scanPipeTables(lines)
		changed := false
		for _, t := range tables {
			if t.typeColumn() < 0 {
				continue
			}
			newTable, ok := correctOneTable(&t, lines)
			if ok {
				lines = replaceLines(lines, t.startLine, t.endLine, newTable)
				changed = true
				break // 行号已失效，重新扫描
			}
		}
		if !changed {
			return strings.Join(lines, "\n")
		}
	}
}

func correctOneTable(t *pipeTable, lines []string) ([]string, bool) {
	seq := nearbyKeyDepths(lines, t.endLine+1)
	if seq != nil {
		return correctByJSON(t, seq)
	}
	return correctByObjectHeuristic(t)
}

// nearbyKeyDepths 从给定行向后在窗口内找第一个可解析 JSON 块的键深度序列
func nearbyKeyDepths(lines []string, from int) []jsonrepair.KeyDepth {
	limit := from + jsonSearchWindow
	if limit > len(lines) {
		limit = len(lines)
	}
	for i := from; i < limit; i++ {
		if !isFenceLine(lines[i]) || !strings.EqualFold(fenceLang(lines[i]), "json") {
			continue
		}
		var content []string
		for j := i + 1; j < len(lines) && !isFenceLine(lines[j]); j++ {
			content = append(content, lines[j])
		}
		if seq := jsonrepair.KeyDepthSequence(strings.Join(content, "\n")); seq != nil {
			return seq
		}
	}
	return nil
}

func correctByJSON(t *pipeTable, seq []jsonrepair.KeyDepth) ([]string, bool) {
	nameCol := t.nameColumn()
	cursor := 0
	changed := false

	for ri, row := range t.rows {
		if nameCol >= len(row) {
			continue
		}
		name, curDepth := ParseTreeName(row[nameCol])
		key := strings.ToLower(strings.Trim(name, "`*"))
		if key == "" {
			continue
		}

		match := -1
		for si := cursor; si < len(seq); si++ {
			if keyMatchesField(seq[si].Key, key) {
				match = si
				break
			}
		}
		if match < 0 {
			continue
		}
		cursor = match + 1

		if depth := seq[match].Depth; depth != curDepth {
			t.rows[ri][nameCol] = RenderTreeName(name, depth)
			changed = true
		}
	}
	if !changed {
		return nil, false
	}
	return t.render(), true
}

// keyMatchesField JSON 键与表格字段名是否指同一字段
func keyMatchesField(key, field string) bool {
	k := strings.ToLower(key)
	if k == field {
		return true
	}
	// 表格里常见 "data.list" 这类带路径的写法，取末段比较
	if idx := strings.LastIndexAny(field, "._"); idx >= 0 && field[idx+1:] == k {
		return true
	}
	if idx := strings.LastIndexAny(k, "._"); idx >= 0 && k[idx+1:] == field {
		return true
	}
	return fuzzy.MatchFold(field, k) && len(field) >= 4 && len(k) <= len(field)+2
}

// correctByObjectHeuristic 无 JSON 示例时的保守推断：
// 表格完全平铺时，对象/数组类型行之后的行视为其子级（深度 1），
// 直到下一个对象/数组行。已有层级的表格不动，避免破坏正确结构。
func correctByObjectHeuristic(t *pipeTable) ([]string, bool) {
	nameCol := t.nameColumn()
	typeCol := t.typeColumn()

	for _, row := range t.rows {
		if nameCol < len(row) {
			if _, depth := ParseTreeName(row[nameCol]); depth > 0 {
				return nil, false
			}
		}
	}

	changed := false
	inObject := false
	for ri, row := range t.rows {
		if typeCol >= len(row) || nameCol >= len(row) {
			continue
		}
		if objectTypeRe.MatchString(row[typeCol]) {
			inObject = true
			continue
		}
		if inObject {
			name, _ := ParseTreeName(row[nameCol])
			t.rows[ri][nameCol] = RenderTreeName(name, 1)
			changed = true
		}
	}
	if !changed {
		return nil, false
	}
	return t.render(), true
}
