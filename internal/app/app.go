// internal/app/app.go
package app

import (
	"fmt"

	"github.com/NekoFlux/CyberCompanion/internal/config"
	"github.com/NekoFlux/CyberCompanion/internal/di"
	"github.com/NekoFlux/CyberCompanion/internal/services"
	"github.com/NekoFlux/CyberCompanion/internal/storage"

	// 触发各后端的注册
	_ "github.com/NekoFlux/CyberCompanion/internal/backend/custom"
	_ "github.com/NekoFlux/CyberCompanion/internal/backend/cyberchat"
	_ "github.com/NekoFlux/CyberCompanion/internal/backend/deepseek"
)

// InitServices 按依赖顺序初始化所有服务并注册到容器
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	fs, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	container.Register("storage", fs)

	manager, err := services.NewManager(cfg, fs)
	if err != nil {
		return fmt.Errorf("初始化会话管理器失败: %w", err)
	}
	container.Register("manager", manager)

	return nil
}
