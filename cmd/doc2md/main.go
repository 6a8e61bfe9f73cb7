package main

import (
	"os"

	"github.com/doc2md/agent/internal/cli"
	"github.com/doc2md/agent/internal/logger"
	"go.uber.org/zap"
)

// Version information
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	log := logger.NewLogger(false)
	defer func() {
		_ = log.Sync()
	}()

	rootCmd := cli.NewRootCommand(Version, Commit, BuildDate)

	if err := rootCmd.Execute(); err != nil {
		log.Error("执行命令失败", zap.Error(err))
		os.Exit(1)
	}
}
