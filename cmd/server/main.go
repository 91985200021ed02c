// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NekoFlux/CyberCompanion/internal/api"
	"github.com/NekoFlux/CyberCompanion/internal/app"
	"github.com/NekoFlux/CyberCompanion/internal/config"
	"github.com/NekoFlux/CyberCompanion/internal/utils"
)

func main() {
	log.Println("启动 CyberCompanion 服务器...")

	// 1. 加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 2. 创建必要的目录
	createDirectories(baseConfig)

	// 3. 初始化日志
	logFile := filepath.Join(baseConfig.LogDir, fmt.Sprintf("server_%s.log", time.Now().Format("2006-01-02")))
	if err := utils.InitLogger(logFile); err != nil {
		log.Printf("无法初始化结构化日志: %v，继续使用标准输出", err)
	}

	// 4. 初始化配置系统（合并持久化设置）
	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		log.Fatalf("初始化配置系统失败: %v", err)
	}

	// 5. 初始化所有服务
	if err := app.InitServices(); err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}

	// 6. 设置路由
	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("设置路由失败: %v", err)
	}

	log.Printf("服务器启动在端口 %s", baseConfig.Port)
	setupGracefulShutdown(router, baseConfig.Port)
}

// createDirectories 创建数据与日志目录
func createDirectories(cfg *config.AppConfig) {
	for _, dir := range []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "sessions"),
		filepath.Join(cfg.DataDir, "characters"),
		cfg.LogDir,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("创建目录失败 %s: %v", dir, err)
		}
	}
}

// setupGracefulShutdown 启动服务器并等待信号优雅关闭
func setupGracefulShutdown(router *gin.Engine, port string) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("启动服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务器强制关闭: %v", err)
	}
	log.Println("服务器已退出")
}
