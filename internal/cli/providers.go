package cli

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// providerInfo providers 子命令展示的静态目录
type providerInfo struct {
	Name    string
	Model   string
	APIType string
	Note    string
}

var providerCatalog = []providerInfo{
	{"openai", "gpt-4o", "OpenAI", "OpenAI 官方"},
	{"anthropic", "claude-sonnet-4-20250514", "Anthropic", "Anthropic Claude"},
	{"deepseek", "deepseek-chat", "OpenAI 兼容", "深度求索，性价比高"},
	{"zhipu", "glm-4-plus", "OpenAI 兼容", "智谱 AI（GLM 系列）"},
	{"qwen", "qwen-max", "OpenAI 兼容", "通义千问"},
	{"ollama", "qwen2.5:32b", "OpenAI 兼容", "本地部署，无需 API Key"},
	{"custom", "自定义", "OpenAI 兼容", "任意 OpenAI 兼容接口"},
}

func newProvidersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "列出支持的 AI 提供商",
		Run: func(cmd *cobra.Command, args []string) {
			renderProvidersTable(os.Stdout)
			pterm.Println()
			pterm.Println("使用方式:")
			pterm.Println("  doc2md convert doc.docx -p deepseek")
			pterm.Println("  doc2md convert doc.docx -p ollama")
		},
	}
}

func renderProvidersTable(w io.Writer) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"名称", "默认模型", "API 格式", "说明"})
	for _, p := range providerCatalog {
		tw.AppendRow(table.Row{p.Name, p.Model, p.APIType, p.Note})
	}
	tw.SetStyle(table.StyleLight)
	tw.Render()
}
