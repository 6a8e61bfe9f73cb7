package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/doc2md/agent/internal/archive"
	"github.com/doc2md/agent/internal/config"
	"github.com/doc2md/agent/internal/extract"
	"github.com/doc2md/agent/internal/logger"
	"github.com/doc2md/agent/internal/pipeline"
	"github.com/doc2md/agent/pkg/providers/openai"
	"github.com/doc2md/agent/pkg/providers/usage"
)

func newConvertCommand() *cobra.Command {
	var (
		outputDir string
		pack      bool
	)

	cmd := &cobra.Command{
		Use:   "convert input_file",
		Short: "转换 docx 文件为美观的 Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(args[0], outputDir, pack)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "输出目录（默认: ./output/<文件名>）")
	cmd.Flags().StringVarP(&providerName, "provider", "p", "",
		fmt.Sprintf("AI 提供商，覆盖配置文件（%s）", strings.Join(knownProviders, "/")))
	cmd.Flags().BoolVar(&pack, "pack", true, "转换完成后打包为 tar.gz")

	return cmd
}

func runConvert(inputFile, outputDir string, pack bool) error {
	if _, err := os.Stat(inputFile); err != nil {
		return fmt.Errorf("输入文件不可用: %w", err)
	}
	if outputDir == "" {
		outputDir = defaultOutputDir(inputFile)
	}
	stem := fileStem(inputFile)

	pterm.DefaultBox.WithTitle("文档智能转换").Println(
		fmt.Sprintf("输入: %s\n输出: %s", inputFile, outputDir))

	cfg, err := config.Load(cfgFile, providerName)
	if err != nil {
		return err
	}
	name, providerCfg, err := cfg.ActiveProvider()
	if err != nil {
		return err
	}
	pterm.Info.Printfln("AI 提供商: %s  模型: %s", name, providerCfg.Model)

	if missingAPIKey(name, providerCfg.APIKey) {
		pterm.Error.Println("未配置 API Key")
		pterm.Println("请在 config.yaml 中配置，或设置环境变量:")
		pterm.Println("  export DOC2MD_API_KEY='your-key-here'")
		return fmt.Errorf("提供商 %s 缺少 API Key", name)
	}

	log := logger.NewLogger(debugMode || cfg.Debug)
	defer func() {
		_ = log.Sync()
	}()

	provider, err := openai.New(openai.Config{
		BaseConfig:   providerCfg.BaseConfig(),
		ProviderName: name,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	// Ctrl-C 触发终止谓词，半成品照常落盘
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pre := extract.New(inputFile, filepath.Join(outputDir, ".work"), cfg.Conversion.ImageDir, log)
	defer pre.Cleanup()
	if err := pre.CheckPandoc(ctx); err != nil {
		return err
	}

	bar, _ := pterm.DefaultProgressbar.WithTotal(100).WithTitle("转换进度").Start()
	lastPercent := 0
	pl := pipeline.New(pipeline.Config{
		Provider: provider,
		Options:  cfg.PipelineOptions(),
		Logger:   log,
		Progress: func(stage string, current, total int, message string) {
			percent := stagePercent(stage, current, total)
			if bar != nil && percent > lastPercent {
				bar.Add(percent - lastPercent)
				lastPercent = percent
			}
			if bar != nil && message != "" {
				bar.UpdateTitle(message)
			}
		},
		Stopped: func() bool { return ctx.Err() != nil },
	})

	result, err := pl.Run(context.Background(), extract.NewSource(pre, outputDir))
	if bar != nil {
		_, _ = bar.Stop()
	}
	if err != nil && !errors.Is(err, pipeline.ErrStopped) {
		pterm.Error.Printfln("转换失败: %v", err)
		return err
	}

	outputFile := filepath.Join(outputDir, stem+".md")
	if writeErr := os.WriteFile(outputFile, []byte(result.Markdown), 0o644); writeErr != nil {
		return fmt.Errorf("写入输出文件失败: %w", writeErr)
	}

	if result.Stopped {
		pterm.Warning.Printfln("转换被终止，已保留部分结果: %s", outputFile)
	}
	reportDegradation(result)

	if pack {
		archivePath := filepath.Join(filepath.Dir(outputDir), stem+".tar.gz")
		if packErr := archive.Dir(outputDir, archivePath); packErr != nil {
			return fmt.Errorf("打包输出失败: %w", packErr)
		}
		pterm.Printfln("📦 打包完成: %s", archivePath)
	}

	renderUsageTable(os.Stdout, result.Usage)

	if !result.Stopped {
		pterm.Success.Printfln("转换成功！Markdown: %s", outputFile)
	}
	return nil
}

// defaultOutputDir 默认输出目录 ./output/<文件名去扩展>
func defaultOutputDir(inputFile string) string {
	return filepath.Join(".", "output", fileStem(inputFile))
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// missingAPIKey ollama 本地推理不需要密钥，占位密钥视为未配置
func missingAPIKey(provider, key string) bool {
	if provider == "ollama" {
		return false
	}
	return key == "" || strings.HasPrefix(key, "sk-xxx")
}

// stagePercent 各阶段在总进度条上占的固定区间
func stagePercent(stage string, current, total int) int {
	ratio := 0.0
	if total > 0 {
		ratio = float64(current) / float64(total)
	}
	switch stage {
	case "preprocess":
		return 8 + int(ratio*22)
	case "analyze":
		return 30 + int(ratio*10)
	case "convert":
		return 40 + int(ratio*48)
	case "toc":
		return 90 + int(ratio*8)
	case "done":
		return 100
	}
	return 5
}

func reportDegradation(result *pipeline.Result) {
	if result == nil || !result.Degraded {
		return
	}
	if result.FallbackChunks > 0 {
		pterm.Warning.Printfln("%d 个分片使用了确定性修复回退", result.FallbackChunks)
	}
	if result.TOCFallback {
		pterm.Warning.Println("模型目录生成失败，已退回确定性目录")
	}
	if result.ValidationWarning != "" {
		pterm.Warning.Printfln("整篇校验存在问题: %s", result.ValidationWarning)
	}
}

// renderUsageTable 输出 token 用量与费用估算表
func renderUsageTable(w io.Writer, summary usage.Summary) {
	if summary.TotalTokens == 0 {
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendRow(table.Row{"项目", "数值"})
	tw.AppendSeparator()
	tw.AppendRow(table.Row{"LLM 调用次数", summary.LLMCalls})
	tw.AppendRow(table.Row{"输入 tokens", summary.PromptTokens})
	tw.AppendRow(table.Row{"输出 tokens", summary.CompletionTokens})
	tw.AppendRow(table.Row{"总计 tokens", summary.TotalTokens})
	tw.AppendRow(table.Row{"费用估算", summary.FormatCost()})
	tw.SetStyle(table.StyleLight)
	tw.Render()
	pterm.Println("* 费用基于内置定价表估算，仅供参考")
}
