// internal/services/manager.go
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/NekoFlux/CyberCompanion/internal/backend"
	"github.com/NekoFlux/CyberCompanion/internal/backend/cyberchat"
	"github.com/NekoFlux/CyberCompanion/internal/config"
	"github.com/NekoFlux/CyberCompanion/internal/models"
	"github.com/NekoFlux/CyberCompanion/internal/storage"
	"github.com/NekoFlux/CyberCompanion/internal/utils"
)

// Manager 按角色管理会话实例，并持有当前选中的聊天后端
// 切换后端只影响之后创建的请求，已有会话状态不受影响
type Manager struct {
	mu       sync.Mutex
	appCfg   *config.AppConfig
	fs       *storage.FileStorage
	prompts  *PromptService
	chat     backend.Backend
	cyber    *cyberchat.Client // 历史拉取与回合上报
	sessions map[string]*ChatService
}

// NewManager 根据应用配置装配后端与会话管理器
func NewManager(appCfg *config.AppConfig, fs *storage.FileStorage) (*Manager, error) {
	m := &Manager{
		appCfg:   appCfg,
		fs:       fs,
		prompts:  NewPromptService("", ""),
		sessions: make(map[string]*ChatService),
	}

	if err := m.switchBackendLocked(appCfg.APISetting); err != nil {
		// 密钥缺失等配置问题不阻止启动，回退到角色服务接口
		utils.GetLogger().Warn("聊天后端初始化失败，回退到角色服务接口", map[string]interface{}{
			"backend": appCfg.APISetting, "err": err.Error(),
		})
		if err := m.switchBackendLocked(config.BackendCyberChat); err != nil {
			return nil, err
		}
	}

	// 角色服务客户端与聊天后端相互独立，始终可用
	cyberCfg := appCfg.BackendConfig[config.BackendCyberChat]
	if cyberCfg == nil {
		cyberCfg = map[string]string{}
	}
	cyberBackend, err := backend.Get("cyberchat", cyberCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化角色服务客户端失败: %w", err)
	}
	client, ok := cyberBackend.(*cyberchat.Client)
	if !ok {
		return nil, fmt.Errorf("角色服务客户端类型不符")
	}
	m.cyber = client

	return m, nil
}

// SwitchBackend 切换当前聊天后端并重建会话实例
func (m *Manager) SwitchBackend(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.switchBackendLocked(name); err != nil {
		return err
	}
	// 会话状态保留在SessionService里，这里只替换编排层
	m.sessions = make(map[string]*ChatService)
	utils.GetLogger().Info("聊天后端已切换", map[string]interface{}{"backend": name})
	return nil
}

func (m *Manager) switchBackendLocked(name string) error {
	cfg := m.appCfg.BackendConfig[name]
	if cfg == nil {
		cfg = map[string]string{}
	}
	b, err := backend.Get(name, cfg)
	if err != nil {
		return fmt.Errorf("初始化聊天后端 %s 失败: %w", name, err)
	}
	m.chat = b
	m.appCfg.APISetting = name
	return nil
}

// BackendName 当前聊天后端名称
func (m *Manager) BackendName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chat.GetName()
}

// SessionFor 返回指定角色的会话编排服务，首次访问时创建
func (m *Manager) SessionFor(profile models.CharacterProfile) *ChatService {
	m.mu.Lock()
	defer m.mu.Unlock()

	if svc, exists := m.sessions[profile.SlID]; exists {
		return svc
	}

	svc := NewChatService(
		m.chat,
		NewSessionService(profile.SlID, m.fs),
		m.prompts,
		m.cyber,
		ChatConfig{
			Profile:   profile,
			UserName:  m.appCfg.UserName,
			UID:       m.appCfg.UID,
			ChatTable: m.appCfg.ChatTable,
			Streaming: m.appCfg.APISetting != config.BackendCyberChat,
		},
	)
	m.sessions[profile.SlID] = svc
	return svc
}

// HistoryFor 为指定角色创建分页器
func (m *Manager) HistoryFor(profile models.CharacterProfile, viewport Viewport) *HistoryService {
	svc := m.SessionFor(profile)
	fetcher := NewCyberHistoryFetcher(m.cyber, m.appCfg.UID, profile.SlID, m.appCfg.ChatTable)
	return NewHistoryService(fetcher, svc.Session(), viewport)
}

// LoadHistory 直接拉取指定角色最近 cnt 条历史回合
func (m *Manager) LoadHistory(ctx context.Context, slid string, cnt int) ([]models.ChatTurn, error) {
	return m.cyber.LoadChatLog(ctx, m.appCfg.UID, slid, cnt, m.appCfg.ChatTable)
}

// LoadProfile 读取本地保存的角色档案
func (m *Manager) LoadProfile(slid string) (models.CharacterProfile, error) {
	var profile models.CharacterProfile
	if err := m.fs.LoadJSONFile("characters", slid+".json", &profile); err != nil {
		return models.CharacterProfile{}, fmt.Errorf("读取角色档案失败: %w", err)
	}
	return profile, nil
}

// SaveProfile 保存角色档案
func (m *Manager) SaveProfile(profile models.CharacterProfile) error {
	if profile.SlID == "" {
		return fmt.Errorf("角色档案缺少sl_id")
	}
	return m.fs.SaveJSONFile("characters", profile.SlID+".json", profile)
}

// ListProfiles 列出全部本地角色档案
func (m *Manager) ListProfiles() ([]models.CharacterProfile, error) {
	names, err := m.fs.ListJSONFiles("characters")
	if err != nil {
		return nil, err
	}
	profiles := make([]models.CharacterProfile, 0, len(names))
	for _, name := range names {
		var p models.CharacterProfile
		if err := m.fs.LoadJSONFile("characters", name, &p); err != nil {
			utils.GetLogger().Warn("跳过损坏的角色档案", map[string]interface{}{
				"file": name, "err": err.Error(),
			})
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
