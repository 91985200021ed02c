// internal/backend/interface.go
package backend

import (
	"context"
	"errors"

	"github.com/NekoFlux/CyberCompanion/internal/models"
)

// 错误定义
var (
	ErrUnknownBackend        = errors.New("未知的聊天后端")
	ErrStreamingUnsupported  = errors.New("该后端不支持流式响应")
	ErrCompletionUnsupported = errors.New("该后端不支持非流式响应")
)

// ChatRequest 出站聊天请求的标准化参数
type ChatRequest struct {
	Messages    []models.PromptMessage `json:"messages"`
	Model       string                 `json:"model,omitempty"`
	Stream      bool                   `json:"stream"`
	Temperature float64                `json:"temperature,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
}

// StreamDelta 流式响应中的单个增量片段
// 随到随消费，不做保留
type StreamDelta struct {
	SequenceIndex int    `json:"sequence_index"`
	TextFragment  string `json:"text_fragment"`
}

// Usage token用量统计
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Account          string `json:"account,omitempty"`
}

// ChatResult 一次完成调用的最终结果
type ChatResult struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// DeltaFunc 每收到一个增量片段时回调，严格按网络到达顺序
type DeltaFunc func(delta StreamDelta)

// CompleteFunc 流正常结束时回调一次，参数为全部片段按序拼接的完整文本
// 它总是该流最后一次回调；流出错时不会被调用
type CompleteFunc func(result ChatResult)

// Backend 定义聊天后端必须实现的接口
type Backend interface {
	// 初始化后端，传入配置
	Initialize(config map[string]string) error

	// 获取后端名称
	GetName() string

	// 流式聊天：逐片段回调，结束后回调完整文本
	StreamChat(ctx context.Context, req ChatRequest, onDelta DeltaFunc, onComplete CompleteFunc) error

	// 非流式聊天：一次性返回完整结果
	CompleteChat(ctx context.Context, req ChatRequest) (*ChatResult, error)
}

// 注册表和工厂函数类型
type Factory func() Backend

var backends = make(map[string]Factory)

// Register 注册后端工厂
func Register(name string, factory Factory) {
	backends[name] = factory
}

// Get 创建指定名称的后端实例
func Get(name string, config map[string]string) (Backend, error) {
	factory, exists := backends[name]
	if !exists {
		return nil, ErrUnknownBackend
	}

	b := factory()
	if err := b.Initialize(config); err != nil {
		return nil, err
	}
	return b, nil
}

// List 返回所有已注册的后端名称
func List() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}
