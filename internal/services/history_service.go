// internal/services/history_service.go
package services

import (
	"context"
	"sync"

	"github.com/NekoFlux/CyberCompanion/internal/backend/cyberchat"
	"github.com/NekoFlux/CyberCompanion/internal/models"
	"github.com/NekoFlux/CyberCompanion/internal/utils"
)

// 每次向上翻页追加请求的回合数
const pageIncrement = 5

// 初始装载时为填满视口的自动加载上限
const autoLoadCeiling = 5

// HistoryFetcher 抽象历史接口：返回最近 count 条回合的完整窗口
type HistoryFetcher interface {
	FetchRecentTurns(ctx context.Context, count int) ([]models.ChatTurn, error)
}

// cyberHistoryFetcher 用角色服务的聊天记录接口实现 HistoryFetcher
type cyberHistoryFetcher struct {
	client    *cyberchat.Client
	uid       string
	slid      string
	chatTable string
}

// NewCyberHistoryFetcher 绑定角色服务历史接口的会话参数
func NewCyberHistoryFetcher(client *cyberchat.Client, uid, slid, chatTable string) HistoryFetcher {
	return &cyberHistoryFetcher{client: client, uid: uid, slid: slid, chatTable: chatTable}
}

func (f *cyberHistoryFetcher) FetchRecentTurns(ctx context.Context, count int) ([]models.ChatTurn, error) {
	return f.client.LoadChatLog(ctx, f.uid, f.slid, count, f.chatTable)
}

// Viewport 抽象展示层的滚动视口
// 分页器只关心锚点的捕获与恢复，不关心具体渲染
type Viewport interface {
	// TopAnchor 返回当前可见最顶部回合的ID，窗口为空时返回空串
	TopAnchor() string
	// AlignToAnchor 把指定回合滚动回可见顶部
	AlignToAnchor(turnID string)
	// AfterLayout 在下一次布局完成后执行回调
	AfterLayout(fn func())
	// HasOverflow 内容是否已超出视口（出现滚动条）
	HasOverflow() bool
}

// HistoryService 管理历史回合的向上分页
//
// 每次 LoadOlder 把请求窗口扩大5条，用返回结果整体替换
// 会话中的定稿回合，并在布局稳定后把原顶部回合对齐回视口，
// 避免加载后视野跳动
type HistoryService struct {
	fetcher  HistoryFetcher
	session  *SessionService
	viewport Viewport

	mu      sync.Mutex
	loaded  int
	hasMore bool
	loading bool
}

// NewHistoryService 创建分页器，尚未装载任何历史
func NewHistoryService(fetcher HistoryFetcher, session *SessionService, viewport Viewport) *HistoryService {
	return &HistoryService{
		fetcher:  fetcher,
		session:  session,
		viewport: viewport,
		hasMore:  true,
	}
}

// HasMore 是否还有更早的历史可以加载
func (h *HistoryService) HasMore() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hasMore
}

// Bootstrap 装载最近一页历史，并在内容不足以撑出滚动条时
// 自动继续向上加载，最多重试 autoLoadCeiling 次
func (h *HistoryService) Bootstrap(ctx context.Context) error {
	if _, err := h.LoadOlder(ctx); err != nil {
		return err
	}
	for i := 0; i < autoLoadCeiling; i++ {
		if !h.HasMore() || h.viewport.HasOverflow() {
			break
		}
		if _, err := h.LoadOlder(ctx); err != nil {
			return err
		}
	}
	return nil
}

// LoadOlder 向上加载一页历史
//
// 返回值表示窗口是否被替换。已有请求在途或没有更多历史时
// 直接返回false；接口出错时本地恢复，hasMore保持不变，
// 之后可以重试
func (h *HistoryService) LoadOlder(ctx context.Context) (bool, error) {
	h.mu.Lock()
	if h.loading || !h.hasMore {
		h.mu.Unlock()
		return false, nil
	}
	h.loading = true
	requested := h.loaded + pageIncrement
	h.mu.Unlock()

	anchor := h.viewport.TopAnchor()

	turns, err := h.fetcher.FetchRecentTurns(ctx, requested)

	h.mu.Lock()
	h.loading = false
	if err != nil {
		h.mu.Unlock()
		utils.GetLogger().Error("加载历史失败", map[string]interface{}{
			"requested": requested,
			"err":       err.Error(),
		})
		return false, err
	}
	h.loaded = requested
	h.hasMore = len(turns) >= requested
	h.mu.Unlock()

	if err := h.session.ReplaceWindow(turns); err != nil {
		return false, err
	}

	// 两次布局后再对齐锚点，等新增内容的高度完全稳定
	if anchor != "" {
		h.viewport.AfterLayout(func() {
			h.viewport.AfterLayout(func() {
				h.viewport.AlignToAnchor(anchor)
			})
		})
	}
	return true, nil
}
