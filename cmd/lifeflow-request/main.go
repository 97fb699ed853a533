package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logpkg "lifeflow-request/common/logger"
	"lifeflow-request/internal/config"
	"lifeflow-request/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化日志
	log, err := logpkg.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting lifeflow-request service")

	// 创建服务
	svc, err := service.NewRequestService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create request service", zap.Error(err))
	}

	// 启动后台组件（截止时间清扫等）
	svc.Start()

	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 停止服务
	svc.Stop()
	log.Info("Service stopped")
}
