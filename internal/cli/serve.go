package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doc2md/agent/internal/config"
	"github.com/doc2md/agent/internal/logger"
	"github.com/doc2md/agent/internal/task"
)

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动转换任务 HTTP 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "监听地址，覆盖配置文件（默认 :8000）")
	return cmd
}

func runServe(listen string) error {
	cfg, err := config.Load(cfgFile, providerName)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	log := logger.NewLogger(debugMode || cfg.Debug)
	defer func() {
		_ = log.Sync()
	}()

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: task.NewServer(cfg, task.NewMemoryStore(), log),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP 服务启动",
			zap.String("listen", cfg.Server.Listen),
			zap.String("output_dir", cfg.Server.OutputDir))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("收到退出信号，正在关闭")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
