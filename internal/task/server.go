package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doc2md/agent/internal/archive"
	"github.com/doc2md/agent/internal/config"
	"github.com/doc2md/agent/internal/extract"
	"github.com/doc2md/agent/internal/pipeline"
	"github.com/doc2md/agent/pkg/providers"
	"github.com/doc2md/agent/pkg/providers/openai"
)

// 允许上传的文档格式
var allowedSuffixes = map[string]struct{}{".docx": {}, ".doc": {}}

// maxUploadBytes 上传体积上限
const maxUploadBytes = 100 << 20

// Server 转换任务的 HTTP 服务
type Server struct {
	cfg    *config.Config
	store  Store
	logger *zap.Logger
	router chi.Router

	// registry 已初始化的提供商客户端，跨任务复用
	registry *providers.Registry

	// outputRoot 任务产物根目录
	outputRoot string
}

// NewServer 创建 HTTP 服务
func NewServer(cfg *config.Config, store Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	outputRoot := filepath.Join(cfg.Server.OutputDir, "tasks")
	s := &Server{
		cfg:        cfg,
		store:      store,
		logger:     logger,
		registry:   providers.NewRegistry(),
		outputRoot: outputRoot,
	}
	s.setupRoutes()
	return s
}

// providerFor 按名取提供商客户端，首次使用时初始化并注册
func (s *Server) providerFor(name string, providerCfg config.ProviderConfig) (providers.Provider, error) {
	if p, err := s.registry.Get(name); err == nil {
		return p, nil
	}
	p, err := openai.New(openai.Config{
		BaseConfig:   providerCfg.BaseConfig(),
		ProviderName: name,
	})
	if err != nil {
		return nil, err
	}
	if err := s.registry.Register(name, p); err != nil {
		// 并发初始化撞车时用已注册的实例
		return s.registry.Get(name)
	}
	return p, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)
	r.Post("/api/convert", s.handleConvert)
	r.Get("/api/tasks/{taskID}", s.handleGetTask)
	r.Post("/api/tasks/{taskID}/cancel", s.handleCancel)
	r.Get("/api/tasks/{taskID}/download", s.handleDownload)
	r.Get("/api/tasks/{taskID}/preview", s.handlePreview)
	r.Get("/api/tasks/{taskID}/assets/*", s.handleAsset)
	r.Get("/api/config/providers", s.handleProviders)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConvert 接收上传文件，建任务并在后台启动转换
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "缺少上传文件", http.StatusBadRequest)
		return
	}
	defer file.Close()

	suffix := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := allowedSuffixes[suffix]; !ok {
		jsonError(w, "仅支持 .docx 或 .doc 文件", http.StatusBadRequest)
		return
	}

	taskID := strings.ReplaceAll(uuid.NewString(), "-", "")
	taskRoot := filepath.Join(s.outputRoot, taskID)
	inputDir := filepath.Join(taskRoot, "input")
	outputDir := filepath.Join(taskRoot, "result")
	for _, dir := range []string{inputDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			jsonError(w, "创建任务目录失败", http.StatusInternalServerError)
			return
		}
	}

	name := filepath.Base(header.Filename)
	if name == "." || name == "/" {
		name = "upload" + suffix
	}
	inputPath := filepath.Join(inputDir, name)
	dst, err := os.Create(inputPath)
	if err != nil {
		jsonError(w, "保存上传文件失败", http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		jsonError(w, "保存上传文件失败", http.StatusInternalServerError)
		return
	}
	dst.Close()

	s.store.Create(&Task{
		ID:         taskID,
		Status:     StatusQueued,
		Stage:      "queued",
		Message:    "等待处理",
		SourceName: name,
	})

	providerOverride := r.FormValue("provider")
	go s.runTask(taskID, inputPath, outputDir, providerOverride)

	respondJSON(w, http.StatusOK, map[string]string{"task_id": taskID})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.Get(chi.URLParam(r, "taskID"))
	if !ok {
		jsonError(w, "任务不存在", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleCancel 请求终止任务。流水线在下一个检查点停下并打包半成品。
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	t, ok := s.store.Get(taskID)
	if !ok {
		jsonError(w, "任务不存在", http.StatusNotFound)
		return
	}
	if t.Status != StatusQueued && t.Status != StatusRunning {
		jsonError(w, "任务已结束，无法终止", http.StatusConflict)
		return
	}
	s.store.RequestCancel(taskID)
	respondJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "cancelling"})
}

// handleDownload 下载任务产物压缩包，完成或终止的任务均可下载
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.Get(chi.URLParam(r, "taskID"))
	if !ok {
		jsonError(w, "任务不存在", http.StatusNotFound)
		return
	}
	if (t.Status != StatusCompleted && t.Status != StatusStopped) || t.ArchiveFile == "" {
		jsonError(w, "任务尚未完成，无法下载", http.StatusConflict)
		return
	}
	if _, err := os.Stat(t.ArchiveFile); err != nil {
		jsonError(w, "结果文件不存在", http.StatusNotFound)
		return
	}

	stem := strings.TrimSuffix(t.SourceName, filepath.Ext(t.SourceName))
	if stem == "" {
		stem = "result"
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s.tar.gz"`, stem))
	http.ServeFile(w, r, t.ArchiveFile)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	t, ok := s.store.Get(taskID)
	if !ok {
		jsonError(w, "任务不存在", http.StatusNotFound)
		return
	}
	if (t.Status != StatusCompleted && t.Status != StatusStopped) || t.OutputFile == "" {
		jsonError(w, "任务尚未完成，无法预览", http.StatusConflict)
		return
	}
	content, err := os.ReadFile(t.OutputFile)
	if err != nil {
		jsonError(w, "Markdown 文件不存在", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"content":        string(content),
		"usage":          t.Usage,
		"asset_base_url": "/api/tasks/" + taskID + "/assets",
	})
}

// handleAsset 提供任务输出目录下的静态资源，拒绝目录穿越
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.Get(chi.URLParam(r, "taskID"))
	if !ok {
		jsonError(w, "任务不存在", http.StatusNotFound)
		return
	}
	if (t.Status != StatusCompleted && t.Status != StatusStopped) || t.OutputFile == "" {
		jsonError(w, "任务尚未完成，无法访问资源", http.StatusConflict)
		return
	}

	assetPath := chi.URLParam(r, "*")
	root, err := filepath.Abs(filepath.Dir(t.OutputFile))
	if err != nil {
		jsonError(w, "非法路径", http.StatusForbidden)
		return
	}
	target, err := filepath.Abs(filepath.Join(root, filepath.FromSlash(assetPath)))
	if err != nil || (target != root && !strings.HasPrefix(target, root+string(os.PathSeparator))) {
		jsonError(w, "非法路径", http.StatusForbidden)
		return
	}
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		jsonError(w, "资源不存在", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, target)
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	type providerInfo struct {
		Name    string `json:"name"`
		Model   string `json:"model"`
		BaseURL string `json:"base_url"`
	}
	infos := make([]providerInfo, 0, len(s.cfg.Providers))
	for name, p := range s.cfg.Providers {
		infos = append(infos, providerInfo{Name: name, Model: p.Model, BaseURL: p.BaseURL})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"current_provider": s.cfg.Provider,
		"providers":        infos,
	})
}

// runTask 任务 goroutine：装配流水线、执行转换、写产物并打包
func (s *Server) runTask(taskID, inputPath, outputDir, providerOverride string) {
	providerName := s.cfg.Provider
	if providerOverride != "" {
		providerName = providerOverride
	}
	providerCfg, ok := s.cfg.Providers[providerName]
	if !ok {
		s.failTask(taskID, fmt.Errorf("未配置提供商 %q", providerName))
		return
	}

	provider, err := s.providerFor(providerName, providerCfg)
	if err != nil {
		s.failTask(taskID, err)
		return
	}

	s.store.Update(taskID, func(t *Task) {
		t.Status = StatusRunning
		t.Stage = "init"
		t.Progress = 5
		t.Message = "任务启动"
		t.Provider = providerName
		t.Model = providerCfg.Model
	})

	opts := s.cfg.PipelineOptions()
	pl := pipeline.New(pipeline.Config{
		Provider: provider,
		Options:  opts,
		Logger:   s.logger.With(zap.String("task_id", taskID)),
		Events:   func(ev pipeline.Event) { s.onEvent(taskID, ev) },
		Progress: func(stage string, current, total int, message string) {
			s.onProgress(taskID, stage, current, total, message)
		},
		Stopped: func() bool { return s.store.CancelRequested(taskID) },
	})

	pre := extract.New(inputPath, filepath.Join(outputDir, ".work"), opts.Assemble.ImageDir,
		s.logger.With(zap.String("task_id", taskID)))
	defer pre.Cleanup()

	result, err := pl.Run(context.Background(), extract.NewSource(pre, outputDir))

	switch {
	case errors.Is(err, pipeline.ErrStopped):
		s.finishTask(taskID, inputPath, outputDir, result, StatusStopped, "任务已终止，保留部分结果")
	case err != nil:
		s.failTask(taskID, err)
	default:
		s.finishTask(taskID, inputPath, outputDir, result, StatusCompleted, "转换完成")
	}
}

// finishTask 写出 Markdown、打包产物并落最终状态
func (s *Server) finishTask(taskID, inputPath, outputDir string, result *pipeline.Result, status, message string) {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputFile := filepath.Join(outputDir, stem+".md")
	if err := os.WriteFile(outputFile, []byte(result.Markdown), 0o644); err != nil {
		s.failTask(taskID, fmt.Errorf("写入输出文件失败: %w", err))
		return
	}

	archiveFile := outputDir + ".tar.gz"
	if err := archive.Dir(outputDir, archiveFile); err != nil {
		s.failTask(taskID, fmt.Errorf("打包输出失败: %w", err))
		return
	}

	usage := result.Usage
	s.store.Update(taskID, func(t *Task) {
		t.Status = status
		t.Stage = "done"
		t.Progress = 100
		t.Message = message
		t.Usage = &usage
		t.OutputFile = outputFile
		t.ArchiveFile = archiveFile
		t.Degraded = result.Degraded
		t.FallbackChunks = result.FallbackChunks
		t.ValidationWarning = result.ValidationWarning
		if usage.LLMCalls > t.LLMCallsTotal {
			t.LLMCallsTotal = usage.LLMCalls
		}
		if usage.LLMCalls > t.LLMCallsFinished {
			t.LLMCallsFinished = usage.LLMCalls
		}
	})
}

func (s *Server) failTask(taskID string, err error) {
	s.logger.Error("任务失败", zap.String("task_id", taskID), zap.Error(err))
	s.store.Update(taskID, func(t *Task) {
		t.Status = StatusFailed
		t.Stage = "error"
		t.Progress = 100
		t.Message = "转换失败"
		t.Error = err.Error()
	})
}

// onEvent 事件进存储，并由调用事件推进模型调用计数
func (s *Server) onEvent(taskID string, ev pipeline.Event) {
	s.store.AppendEvent(taskID, ev)

	switch ev.Kind {
	case pipeline.EventLLMPlan:
		s.store.Update(taskID, func(t *Task) {
			if ev.LLMCalls > t.LLMCallsTotal {
				t.LLMCallsTotal = ev.LLMCalls
			}
		})
	case pipeline.EventLLMCallStarted, pipeline.EventLLMCallCompleted, pipeline.EventLLMCallFailed:
		seq := callSeq(ev.CallID)
		s.store.Update(taskID, func(t *Task) {
			if seq > t.LLMCallsTotal {
				t.LLMCallsTotal = seq
			}
			if ev.Kind == pipeline.EventLLMCallCompleted && seq > t.LLMCallsFinished {
				t.LLMCallsFinished = seq
			}
		})
	}
}

// callSeq 从 "call-N" 里取序号
func callSeq(callID string) int {
	_, num, ok := strings.Cut(callID, "call-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0
	}
	return n
}

// onProgress 把阶段进度映射为任务百分比
func (s *Server) onProgress(taskID, stage string, current, total int, message string) {
	progress, stageMessage := progressFromStage(stage, current, total, message)
	if stage != "done" && progress > 99 {
		progress = 99
	}
	s.store.Update(taskID, func(t *Task) {
		t.Stage = stage
		t.Progress = progress
		t.Message = stageMessage
		t.CurrentChunk = current
		t.TotalChunks = total
	})
}

// progressFromStage 各阶段在总进度条上占的固定区间
func progressFromStage(stage string, current, total int, message string) (int, string) {
	ratio := 0.0
	if total > 0 {
		ratio = float64(current) / float64(total)
	}
	switch stage {
	case "preprocess":
		return 8 + int(ratio*22), defaultMessage(message, "文档预处理中")
	case "analyze":
		return 30 + int(ratio*10), defaultMessage(message, "结构分析中")
	case "convert":
		return 40 + int(ratio*48), defaultMessage(message, fmt.Sprintf("AI 转换中 %d/%d", current, total))
	case "toc":
		return 90 + int(ratio*8), defaultMessage(message, "生成目录中")
	case "done":
		return 100, defaultMessage(message, "转换完成")
	}
	return 5, defaultMessage(message, "任务启动")
}

func defaultMessage(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"detail": message})
}
