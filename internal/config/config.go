// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// 可选的聊天后端
const (
	BackendDeepSeek  = "deepseek"  // 主后端，流式
	BackendCyberChat = "cyberchat" // 角色服务自有接口，非流式
	BackendCustom    = "custom"    // 自定义OpenAI兼容端点
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig 包含客户端的所有配置
// APISetting 选择新消息走哪个后端，会话启动时读取一次，
// 之后显式传入引擎入口，引擎内部不读取全局状态
type AppConfig struct {
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// 会话身份
	UID       string `json:"uid"`
	UserName  string `json:"user_name"`
	ChatTable string `json:"chat_table"`

	// 后端选择与各后端配置
	APISetting    string                       `json:"api_setting"`
	BackendConfig map[string]map[string]string `json:"backend_config"`
}

// Load 从环境变量加载基础配置
func Load() (*AppConfig, error) {
	// .env 文件可选
	godotenv.Load()

	cfg := &AppConfig{
		Port:       getEnv("PORT", "8080"),
		DataDir:    getEnvPath("DATA_DIR", "data"),
		LogDir:     getEnvPath("LOG_DIR", "logs"),
		DebugMode:  getEnvBool("DEBUG_MODE", true),
		UID:        getEnv("CHAT_UID", ""),
		UserName:   getEnv("CHAT_USER_NAME", "用户"),
		ChatTable:  getEnv("CHAT_TABLE", "chat_log"),
		APISetting: getEnv("API_SETTING", BackendDeepSeek),
		BackendConfig: map[string]map[string]string{
			BackendDeepSeek: {
				"api_key":       getEnv("DEEPSEEK_API_KEY", ""),
				"base_url":      getEnv("DEEPSEEK_BASE_URL", ""),
				"default_model": getEnv("DEEPSEEK_MODEL", ""),
			},
			BackendCyberChat: {
				"base_url": getEnv("CYBERCHAT_BASE_URL", ""),
				"uid":      getEnv("CHAT_UID", ""),
			},
			BackendCustom: {
				"api_key":       getEnv("CUSTOM_API_KEY", ""),
				"base_url":      getEnv("CUSTOM_BASE_URL", ""),
				"default_model": getEnv("CUSTOM_MODEL", ""),
			},
		},
	}

	return cfg, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}
	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// InitConfig 初始化配置管理器
// 基础配置来自环境变量，后端选择等持久化字段合并自 data/config.json
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = baseConfig

	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				// 环境变量优先于文件中的基础字段，持久化的选择保留
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.LogDir = baseConfig.LogDir
				savedConfig.DebugMode = baseConfig.DebugMode
				if savedConfig.APISetting == "" {
					savedConfig.APISetting = baseConfig.APISetting
				}
				if savedConfig.BackendConfig == nil {
					savedConfig.BackendConfig = baseConfig.BackendConfig
				}
				currentConfig = &savedConfig
			}
		}
	}

	return saveLocked()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		baseConfig, _ := Load()
		return baseConfig
	}

	configCopy := *currentConfig
	return &configCopy
}

// UpdateAPISetting 更新后端选择并持久化
func UpdateAPISetting(setting string) error {
	switch setting {
	case BackendDeepSeek, BackendCyberChat, BackendCustom:
	default:
		return fmt.Errorf("无效的后端选择: %s", setting)
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}
	currentConfig.APISetting = setting
	return saveLocked()
}

// saveLocked 保存当前配置到文件，调用方需持有写锁
func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	return os.WriteFile(configFile, data, 0644)
}
