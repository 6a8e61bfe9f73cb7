// Package config 加载与合并应用配置：配置文件、默认值与环境变量覆盖。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/doc2md/agent/internal/assemble"
	"github.com/doc2md/agent/internal/fidelity"
	"github.com/doc2md/agent/internal/pipeline"
	"github.com/doc2md/agent/internal/transform"
	"github.com/doc2md/agent/pkg/providers"
)

// ProviderConfig 单个模型提供商的连接配置
type ProviderConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	Timeout     int     `mapstructure:"timeout"` // 秒
	MaxRetries  int     `mapstructure:"max_retries"`
}

// ConversionConfig 转换流程配置
type ConversionConfig struct {
	ChunkSize                       int     `mapstructure:"chunk_size"`
	ChunkStrategy                   string  `mapstructure:"chunk_strategy"`
	GenerateTOC                     bool    `mapstructure:"generate_toc"`
	DeterministicTOC                bool    `mapstructure:"deterministic_toc"`
	StrictMode                      bool    `mapstructure:"strict_mode"`
	MaxChunkRetries                 int     `mapstructure:"max_chunk_retries"`
	AllowPartialOnChunkFailure      bool    `mapstructure:"allow_partial_on_chunk_failure"`
	AllowPartialOnValidationFailure bool    `mapstructure:"allow_partial_on_validation_failure"`
	MinContentTokenCoverage         float64 `mapstructure:"min_content_token_coverage"`
	MinContentCharRatio             float64 `mapstructure:"min_content_char_ratio"`
	ContentGuardMinTokens           int     `mapstructure:"content_guard_min_tokens"`
	ImageDir                        string  `mapstructure:"image_dir"`
	MaxValidationReportItems        int     `mapstructure:"max_validation_report_items"`
	AnalyzeWithModel                bool    `mapstructure:"analyze_with_model"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Listen    string `mapstructure:"listen"`
	OutputDir string `mapstructure:"output_dir"`
	UploadDir string `mapstructure:"upload_dir"`
}

// Config 应用配置根
type Config struct {
	Provider   string                    `mapstructure:"provider"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Conversion ConversionConfig          `mapstructure:"conversion"`
	Server     ServerConfig              `mapstructure:"server"`
	Debug      bool                      `mapstructure:"debug"`
}

// Load 加载配置。configPath 为空时按固定顺序搜索；
// providerOverride 非空时覆盖默认提供商；DOC2MD_API_KEY 覆盖活动提供商密钥。
func Load(configPath, providerOverride string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	} else if found := searchConfigFile(); found != "" {
		v.SetConfigFile(found)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if providerOverride != "" {
		cfg.Provider = providerOverride
	}
	if key := os.Getenv("DOC2MD_API_KEY"); key != "" {
		if p, ok := cfg.Providers[cfg.Provider]; ok {
			p.APIKey = key
			cfg.Providers[cfg.Provider] = p
		} else {
			if cfg.Providers == nil {
				cfg.Providers = map[string]ProviderConfig{}
			}
			cfg.Providers[cfg.Provider] = ProviderConfig{APIKey: key}
		}
	}
	return &cfg, nil
}

// searchConfigFile 依次查找 config.yaml、config.yml、~/.doc2md/config.yaml
func searchConfigFile() string {
	candidates := []string{"config.yaml", "config.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".doc2md", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "deepseek")
	v.SetDefault("providers.deepseek.api_key", os.Getenv("DEEPSEEK_API_KEY"))
	v.SetDefault("providers.deepseek.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("providers.deepseek.model", "deepseek-chat")
	v.SetDefault("providers.deepseek.max_tokens", 16000)
	v.SetDefault("providers.deepseek.temperature", 0)

	v.SetDefault("conversion.chunk_size", 8000)
	v.SetDefault("conversion.chunk_strategy", "section")
	v.SetDefault("conversion.generate_toc", true)
	v.SetDefault("conversion.deterministic_toc", true)
	v.SetDefault("conversion.strict_mode", true)
	v.SetDefault("conversion.max_chunk_retries", 2)
	v.SetDefault("conversion.allow_partial_on_chunk_failure", true)
	v.SetDefault("conversion.allow_partial_on_validation_failure", true)
	v.SetDefault("conversion.min_content_token_coverage", 0.82)
	v.SetDefault("conversion.min_content_char_ratio", 0.62)
	v.SetDefault("conversion.content_guard_min_tokens", 20)
	v.SetDefault("conversion.image_dir", "images")
	v.SetDefault("conversion.max_validation_report_items", 8)
	v.SetDefault("conversion.analyze_with_model", false)

	v.SetDefault("server.listen", ":8000")
	v.SetDefault("server.output_dir", "output")
	v.SetDefault("server.upload_dir", "uploads")
}

// ActiveProvider 返回当前激活的提供商名与配置
func (c *Config) ActiveProvider() (string, ProviderConfig, error) {
	p, ok := c.Providers[c.Provider]
	if !ok {
		return "", ProviderConfig{}, fmt.Errorf("未配置提供商 %q", c.Provider)
	}
	return c.Provider, p, nil
}

// PipelineOptions 把转换配置映射为流水线选项
func (c *Config) PipelineOptions() pipeline.Options {
	conv := c.Conversion
	th := fidelity.DefaultThresholds()
	if conv.MinContentTokenCoverage > 0 {
		th.MinTokenCoverage = conv.MinContentTokenCoverage
	}
	if conv.MinContentCharRatio > 0 {
		th.MinCharRatio = conv.MinContentCharRatio
	}
	if conv.ContentGuardMinTokens > 0 {
		th.MinTokens = conv.ContentGuardMinTokens
	}

	return pipeline.Options{
		ChunkSize:                       conv.ChunkSize,
		ChunkStrategy:                   conv.ChunkStrategy,
		AnalyzeWithModel:                conv.AnalyzeWithModel,
		AllowPartialOnValidationFailure: conv.AllowPartialOnValidationFailure,
		Transform: transform.Options{
			MaxChunkRetries:            conv.MaxChunkRetries,
			AllowPartialOnChunkFailure: conv.AllowPartialOnChunkFailure,
			Fidelity:                   th,
		},
		Assemble: assemble.Options{
			ImageDir:         conv.ImageDir,
			GenerateTOC:      conv.GenerateTOC,
			DeterministicTOC: conv.DeterministicTOC,
			StrictMode:       conv.StrictMode,
			MaxReportItems:   conv.MaxValidationReportItems,
		},
	}
}

// BaseConfig 把提供商配置映射为后端基础配置，零值用默认补齐
func (p ProviderConfig) BaseConfig() providers.BaseConfig {
	base := providers.DefaultConfig()
	base.APIKey = p.APIKey
	base.APIEndpoint = p.BaseURL
	base.Model = p.Model
	base.Temperature = float32(p.Temperature)
	if p.MaxTokens > 0 {
		base.MaxTokens = p.MaxTokens
	}
	if p.Timeout > 0 {
		base.Timeout = time.Duration(p.Timeout) * time.Second
	}
	if p.MaxRetries > 0 {
		base.MaxRetries = p.MaxRetries
	}
	return base
}
