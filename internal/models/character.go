// internal/models/character.go
package models

// CharacterProfile 表示一个AI角色的人设信息
// 字段与角色服务返回的人设数据一一对应，空字段在组装提示词时回退为默认值
type CharacterProfile struct {
	SlID         string `json:"sl_id"`             // 角色ID
	NikName      string `json:"nik_name"`          // 角色昵称
	Intro        string `json:"sl_intro"`          // 简介
	Background   string `json:"mask_background"`   // 背景设定
	Character    string `json:"mask_character"`    // 性格
	Relationship string `json:"mask_relationship"` // 与用户的关系
	SpeechStyle  string `json:"yuyan"`             // 说话方式
	InitSpace    string `json:"changsuo"`          // 初始场所
	InitClothing string `json:"fushi"`             // 初始服饰
	Permission   string `json:"permission"`        // 内容权限级别
	VoiceType    string `json:"voice_type,omitempty"`
	LastWeibo    string `json:"last_weibo,omitempty"`
}

// PromptMessage 发往模型的单条消息
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptPayload 一次出站请求的完整消息载荷
// 每次调用前重新构建，不做持久化
type PromptPayload struct {
	SystemPrompt  string          `json:"system_prompt"`
	HistoryWindow []PromptMessage `json:"history_window"`
	UserContent   string          `json:"user_content"`
}

// Messages 按 system → 历史 → user 的顺序展开为消息数组
func (p PromptPayload) Messages() []PromptMessage {
	msgs := make([]PromptMessage, 0, len(p.HistoryWindow)+2)
	msgs = append(msgs, PromptMessage{Role: "system", Content: p.SystemPrompt})
	msgs = append(msgs, p.HistoryWindow...)
	msgs = append(msgs, PromptMessage{Role: "user", Content: p.UserContent})
	return msgs
}
