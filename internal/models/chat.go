// internal/models/chat.go
package models

import (
	"fmt"
	"time"
)

// 对话角色
const (
	RoleHuman = "Human"
	RoleAI    = "AI"
)

// 消息内容类型
const (
	CTypeText      = "text"       // 普通文本
	CTypeChat      = "chat"       // AI回复
	CTypeGennerImg = "genner_img" // 生成的图片
)

// TurnState 表示回合的生命周期状态
type TurnState int

const (
	// TurnFinal 已定稿的回合，内容不再变化
	TurnFinal TurnState = iota
	// TurnPending 流式响应进行中的占位回合，完成后整体替换
	TurnPending
)

// ChatTurn 表示会话中的一个回合（人类或AI各一条）
// TurnID 按创建时间单调递增且唯一；定稿后不可修改
type ChatTurn struct {
	TurnID   string    `json:"chat_id"`
	LogTime  string    `json:"logtime"`
	Name     string    `json:"name"`
	Content  string    `json:"content"`
	Role     string    `json:"role"`
	CType    string    `json:"ctype"`
	ImgURL   string    `json:"img_url,omitempty"`
	State    TurnState `json:"-"`
	StreamID string    `json:"-"` // 仅Pending回合持有
}

// NewTurnID 以毫秒时间戳生成回合ID
func NewTurnID() string {
	return fmt.Sprintf("%d", time.Now().UnixMilli())
}

// NewHumanTurn 创建一条用户回合
func NewHumanTurn(id, userName, content string) ChatTurn {
	return ChatTurn{
		TurnID:  id,
		LogTime: time.Now().UTC().Format(time.RFC3339),
		Name:    userName,
		Content: content,
		Role:    RoleHuman,
		CType:   CTypeText,
		State:   TurnFinal,
	}
}

// NewPendingTurn 创建流式响应的占位回合
func NewPendingTurn(id, aiName, streamID string) ChatTurn {
	return ChatTurn{
		TurnID:   id,
		LogTime:  time.Now().UTC().Format(time.RFC3339),
		Name:     aiName,
		Role:     RoleAI,
		CType:    CTypeChat,
		State:    TurnPending,
		StreamID: streamID,
	}
}

// Finalize 将占位回合转为定稿回合
func (t ChatTurn) Finalize(content string) ChatTurn {
	t.Content = content
	t.State = TurnFinal
	t.StreamID = ""
	return t
}
