// internal/models/segments.go
package models

// SegmentKind 表示解析后内容片段的类型
type SegmentKind string

const (
	SegmentText          SegmentKind = "text"           // 普通文本
	SegmentSpeech        SegmentKind = "speech"         // 对话
	SegmentInnerThoughts SegmentKind = "inner_thoughts" // 心理活动
	SegmentFeature       SegmentKind = "feature"        // 姿态动作
	SegmentMem           SegmentKind = "mem"            // 记忆精炼
	SegmentSummary       SegmentKind = "summary"        // 回顾摘要
)

// ContentSegment 描述AI回复切分后的片段
// 片段按出现顺序排列，创建后不再修改
type ContentSegment struct {
	Kind SegmentKind `json:"kind"`
	Text string      `json:"text"`
}

// FieldUnspecified 场景字段缺失时的占位值
const FieldUnspecified = "未提及"

// SceneFields 从AI回复中提取的场景信息
// 缺失字段统一取 FieldUnspecified；发情程度/心动程度是自由文本，
// 可能但不保证能解析为整数
type SceneFields struct {
	Location    string `json:"location"`     // 场景
	Attire      string `json:"attire"`       // 服饰状态细节
	Posture     string `json:"posture"`      // 姿态动作
	EventDigest string `json:"event_digest"` // 事件信息提炼
	Arousal     string `json:"arousal"`      // 发情程度
	Affinity    string `json:"affinity"`     // 心动程度
}

// FeedbackState 一次角色会话期间维护的反馈缓冲
// 仅由已完成的AI回合更新，字段内不会出现占位值
type FeedbackState struct {
	Affinity     int    `json:"affinity"`      // 心动程度
	Arousal      int    `json:"arousal"`       // 发情程度
	MemoryDigest string `json:"memory_digest"` // 记忆精炼区内容
	ReviewDigest string `json:"review_digest"` // 回顾区内容
}
