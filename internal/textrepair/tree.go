package textrepair

import "strings"

// TreeGlyph 表格里标记子级字段的统一树形符号
const TreeGlyph = "└─"

// treeGlyphVariants 提取产物与模型输出中出现过的树形符号变体
var treeGlyphVariants = []string{"├──", "└──", "├─", "└─", "|--", "|-"}

// RenderTreeName 按嵌套深度渲染字段名：深度 0 不加前缀，
// 深度 n 在名字前加 n-1 个全角空格缩进与一个树形符号。
func RenderTreeName(name string, depth int) string {
	if depth <= 0 {
		return name
	}
	return strings.Repeat("　", depth-1) + TreeGlyph + " " + name
}

// ParseTreeName 解析带树形前缀的字段名，返回裸名字与嵌套深度
func ParseTreeName(cell string) (string, int) {
	s := strings.TrimRight(cell, " ")
	indent := 0
	for strings.HasPrefix(s, "　") {
		s = strings.TrimPrefix(s, "　")
		indent++
	}
	s = strings.TrimLeft(s, " ")

	for _, glyph := range treeGlyphVariants {
		if strings.HasPrefix(s, glyph) {
			name := strings.TrimSpace(strings.TrimPrefix(s, glyph))
			return name, indent + 1
		}
	}
	if indent > 0 {
		return strings.TrimSpace(s), indent + 1
	}
	return strings.TrimSpace(s), 0
}

// NormalizeFieldName 字段名的比较键：去树形前缀、去反引号、转小写
func NormalizeFieldName(cell string) string {
	name, _ := ParseTreeName(cell)
	name = strings.Trim(name, "`*")
	return strings.ToLower(strings.TrimSpace(name))
}

// UnifyTreeGlyphs 把文本中的树形符号变体统一为标准符号
func UnifyTreeGlyphs(text string) string {
	replacer := strings.NewReplacer(
		"├──", TreeGlyph,
		"└──", TreeGlyph,
		"├─", TreeGlyph,
	)
	return replacer.Replace(text)
}
