package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"VKSaver/config"
	"VKSaver/logger"
	"VKSaver/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 VKSaver HTTP 服务",
	Long:  `启动下载与代理管理 API，启动时恢复已启用的 VLESS 隧道。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	cfg := config.Load()
	initLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Error("[runServer] startup failed", logger.ErrorField(err))
		return err
	}

	if err := a.proxies.RestoreTunnels(ctx); err != nil {
		logger.Warn("[runServer] tunnel restore failed", logger.ErrorField(err))
	}

	h := server.NewAPIHandler(a.auth, a.downloads, a.proxies, cfg)
	var archives server.ArchiveReader
	if a.archives != nil {
		archives = a.archives
	}
	return server.Run(ctx, ":"+cfg.ServerPort, server.NewRouter(h, archives), a.Close)
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
