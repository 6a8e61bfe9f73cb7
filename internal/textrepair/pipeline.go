package textrepair

// Repair 按固定顺序运行全部文档级修复。
// 顺序有依赖：先把网格/单列表格还原为标准形态，再做标题提升与深度归一，
// 然后做表格层级合并与深度修正，最后是逐行清理。各步均幂等。
func Repair(text string) string {
	s := ConvertSingleColumnTables(text)
	s = FlattenGridTables(s)
	s = PromoteBareHeadings(s)
	s = StripHeadingAnchors(s)
	s = NormalizeHeadingDepths(s)
	s = MergeHierarchicalTables(s)
	s = CorrectTableDepths(s)
	s = WrapCurlBlocks(s)
	s = BoldLabelLines(s)
	s = UnifyTreeGlyphs(s)
	s = StripImageAttrs(s)
	s = MergeBrokenJSONBlocks(s)
	s = CollapseBlankRuns(s)
	return s
}
