package cli

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// 生成的起始配置，字段与 internal/config 的默认值一致
const starterConfig = `# doc2md 配置
provider: deepseek

providers:
  deepseek:
    api_key: "sk-xxx"
    base_url: "https://api.deepseek.com/v1"
    model: "deepseek-chat"
    max_tokens: 16000

conversion:
  chunk_size: 8000
  chunk_strategy: section
  generate_toc: true
  deterministic_toc: true
  strict_mode: true
  max_chunk_retries: 2

server:
  listen: ":8000"
  output_dir: output
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "生成默认配置文件",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit("config.yaml", force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "覆盖已存在的 config.yaml")
	return cmd
}

func runInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s 已存在，使用 --force 覆盖", path)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	pterm.Success.Printfln("已生成配置文件: %s", path)
	pterm.Println("请编辑 config.yaml 填入你的 API Key")
	return nil
}
