// Package cli 提供 doc2md 的命令行入口。
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// 命令行标志变量
	cfgFile      string
	providerName string
	debugMode    bool
)

// 支持的提供商名（-p 标志的取值范围）
var knownProviders = []string{"openai", "anthropic", "deepseek", "zhipu", "qwen", "ollama", "custom"}

// NewRootCommand 创建根命令
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "doc2md",
		Short: "doc2md 是一个智能文档转 Markdown 工具",
		Long: `doc2md 把 docx/doc 文档转换为结构良好的 Markdown。
流程为 pandoc 提取、确定性预修复、按章节分片后交给大模型整理，
每个分片带校验与重试，失败时退回确定性修复结果，保证不丢内容。

支持的 AI 提供商:
  - openai: OpenAI 官方
  - anthropic: Anthropic Claude
  - deepseek: 深度求索（OpenAI 兼容）
  - zhipu: 智谱 AI（OpenAI 兼容）
  - qwen: 通义千问（OpenAI 兼容）
  - ollama: 本地部署，无需 API Key
  - custom: 任意 OpenAI 兼容接口`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "输出调试日志")

	rootCmd.AddCommand(newConvertCommand())
	rootCmd.AddCommand(newProvidersCommand())
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}
