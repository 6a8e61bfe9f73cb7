// Package extract 负责文档提取：调用 pandoc 把 docx 转为粗糙 Markdown，
// .doc 先经 LibreOffice 转换，随后收集图片并整理到输出目录。
package extract

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/doc2md/agent/internal/textrepair"
)

// 图片扩展名白名单
var imageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".bmp": {}, ".svg": {}, ".webp": {},
}

// Preprocessor 单个文档的提取器，工作目录内产生中间产物
type Preprocessor struct {
	inputPath string
	workDir   string
	imageDir  string
	logger    *zap.Logger
}

// New 创建提取器。imageDir 为输出目录下的图片子目录名。
func New(inputPath, workDir, imageDir string, logger *zap.Logger) *Preprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if imageDir == "" {
		imageDir = "images"
	}
	return &Preprocessor{
		inputPath: inputPath,
		workDir:   workDir,
		imageDir:  imageDir,
		logger:    logger,
	}
}

// CheckPandoc 确认 pandoc 可用
func (p *Preprocessor) CheckPandoc(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "pandoc", "--version").Output()
	if err != nil {
		return fmt.Errorf("未找到 pandoc，请先安装: https://pandoc.org/installing.html: %w", err)
	}
	version, _, _ := strings.Cut(string(out), "\n")
	p.logger.Info("检测到 pandoc", zap.String("version", version))
	return nil
}

// Extract 提取粗糙 Markdown 与图片列表。
// 返回的文本已做单列表格转代码块的预处理。
func (p *Preprocessor) Extract(ctx context.Context) (string, []string, error) {
	if err := p.CheckPandoc(ctx); err != nil {
		return "", nil, err
	}
	if _, err := os.Stat(p.inputPath); err != nil {
		return "", nil, fmt.Errorf("输入文件不存在: %s: %w", p.inputPath, err)
	}
	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("创建工作目录失败: %w", err)
	}

	if strings.EqualFold(filepath.Ext(p.inputPath), ".doc") {
		p.logger.Info("检测到 .doc 格式，尝试用 LibreOffice 转换")
		if err := p.convertDocToDocx(ctx); err != nil {
			return "", nil, err
		}
	}

	p.logger.Info("正在提取", zap.String("input", p.inputPath))

	rawPath := filepath.Join(p.workDir, "raw_extract.md")
	cmd := exec.CommandContext(ctx, "pandoc",
		p.inputPath,
		"-t", "markdown",
		"--wrap=none",
		"--extract-media", p.pandocImageDir(),
		"-o", rawPath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", nil, fmt.Errorf("pandoc 提取失败: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	data, err := os.ReadFile(rawPath)
	if err != nil {
		return "", nil, fmt.Errorf("读取提取结果失败: %w", err)
	}
	raw := textrepair.ConvertSingleColumnTables(string(data))

	images := p.collectImages()
	p.logger.Info("提取完成",
		zap.Int("chars", len(raw)),
		zap.Int("lines", strings.Count(raw, "\n")),
		zap.Int("images", len(images)))
	return raw, images, nil
}

// Cleanup 删除工作目录及全部中间产物
func (p *Preprocessor) Cleanup() {
	if err := os.RemoveAll(p.workDir); err != nil {
		p.logger.Warn("清理工作目录失败", zap.String("dir", p.workDir), zap.Error(err))
	}
}

func (p *Preprocessor) pandocImageDir() string {
	return filepath.Join(p.workDir, "pandoc_images")
}

// convertDocToDocx 用 LibreOffice 把 .doc 转为 .docx 后改指输入
func (p *Preprocessor) convertDocToDocx(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "libreoffice", "--headless",
		"--convert-to", "docx",
		"--outdir", p.workDir,
		p.inputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf(".doc 转换失败，请安装 LibreOffice: %s: %w", strings.TrimSpace(string(out)), err)
	}

	base := strings.TrimSuffix(filepath.Base(p.inputPath), filepath.Ext(p.inputPath))
	p.inputPath = filepath.Join(p.workDir, base+".docx")
	return nil
}

// collectImages 收集 pandoc 抽出的全部图片，路径按字典序稳定
func (p *Preprocessor) collectImages() []string {
	var images []string
	root := p.pandocImageDir()
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if _, ok := imageExts[strings.ToLower(filepath.Ext(path))]; ok {
			images = append(images, path)
		}
		return nil
	})
	sort.Strings(images)
	return images
}

// OrganizeImages 把图片拷到输出目录的图片子目录下，重名加序号，
// 并返回旧引用形式到新相对路径的映射（含 media/media、media、裸名三种别名）。
func (p *Preprocessor) OrganizeImages(outputDir string, images []string) (map[string]string, error) {
	imgOutput := filepath.Join(outputDir, p.imageDir)
	if err := os.MkdirAll(imgOutput, 0o755); err != nil {
		return nil, fmt.Errorf("创建图片目录失败: %w", err)
	}

	mapping := make(map[string]string, len(images)*4)
	for _, imgPath := range images {
		name := filepath.Base(imgPath)
		dst := filepath.Join(imgOutput, name)

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		for counter := 1; ; counter++ {
			if _, err := os.Stat(dst); os.IsNotExist(err) {
				break
			}
			dst = filepath.Join(imgOutput, fmt.Sprintf("%s_%d%s", stem, counter, filepath.Ext(name)))
		}
		if err := copyFile(imgPath, dst); err != nil {
			return nil, fmt.Errorf("拷贝图片失败: %s: %w", name, err)
		}

		newRelative := p.imageDir + "/" + filepath.Base(dst)
		if rel, err := filepath.Rel(p.workDir, imgPath); err == nil && !strings.HasPrefix(rel, "..") {
			mapping[filepath.ToSlash(rel)] = newRelative
		}
		mapping[name] = newRelative
		mapping["media/media/"+name] = newRelative
		mapping["media/"+name] = newRelative
	}

	p.logger.Info("图片整理完成", zap.Int("count", len(images)), zap.String("dir", imgOutput))
	return mapping, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// DocumentSource 把提取器适配为流水线输入源，提取后顺带整理图片
type DocumentSource struct {
	pre       *Preprocessor
	outputDir string
}

// NewSource 创建文档输入源
func NewSource(pre *Preprocessor, outputDir string) *DocumentSource {
	return &DocumentSource{pre: pre, outputDir: outputDir}
}

func (s *DocumentSource) Extract(ctx context.Context) (string, map[string]string, error) {
	raw, images, err := s.pre.Extract(ctx)
	if err != nil {
		return "", nil, err
	}
	mapping, err := s.pre.OrganizeImages(s.outputDir, images)
	if err != nil {
		return "", nil, err
	}
	return raw, mapping, nil
}
