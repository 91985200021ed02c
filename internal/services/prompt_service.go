// internal/services/prompt_service.go
package services

import (
	"fmt"
	"strings"

	"github.com/NekoFlux/CyberCompanion/internal/models"
)

// 历史窗口大小：最近10条定稿回合
const historyWindowSize = 10

// 记录区/记忆精炼区/回顾区的分区标题，替换时精确匹配
const (
	headerRecord = "#### 记录区（存放最近一次的心动和发情程度）"
	headerMemory = "#### 记忆精炼区（存放对话时的场所格局，规矩，称呼）"
	headerReview = "#### 回顾区（存放历史响应）"
)

// defaultSystemTemplate 默认系统提示词模板
// 占位符在组装时全部替换；三个分区标题在每轮对话前重新填充
const defaultSystemTemplate = `你将扮演{ai_name}，与{user_name}进行沉浸式对话。

#### 角色设定
背景：{ai_info}
性格：{ai_personality}
说话方式：{ai_way_speaking}
与{user_name}的关系：{ai_relationship}
初始场景：{ai_init_space}
初始服饰：{ai_init_clothing}

#### 输出格式要求
1. 口头说出的话放在<speech></speech>标签内
2. 内心活动放在<inner thoughts></inner thoughts>标签内
3. 动作与神态描写放在<feature></feature>标签内
4. 每次回复末尾用<summary></summary>标签总结当前状态，格式如下：
<summary>场景：xxx；服饰状态细节：xxx；姿态动作：xxx；事件信息提炼：xxx；发情程度:数字；心动程度:数字</summary>
5. 未涉及的字段填写"未提及"；发情程度与心动程度只填数字
6. 需要长期记住的信息（称呼、规矩、场所格局）放在<mem></mem>标签内

#### 记录区（存放最近一次的心动和发情程度）

#### 记忆精炼区（存放对话时的场所格局，规矩，称呼）

#### 回顾区（存放历史响应）
`

// defaultUserSuffix 附加在用户消息之后的隐藏指令
// {ai_name} 在组装时替换
const defaultUserSuffix = `（请以{ai_name}的身份继续对话，保持角色设定，并按格式要求输出标签与末尾总结）`

// PromptService 负责把角色档案、反馈缓冲和历史回合组装为完整提示词
type PromptService struct {
	systemTemplate string
	userSuffix     string
}

// NewPromptService 创建提示词组装器
// 模板为空时使用内置默认模板
func NewPromptService(systemTemplate, userSuffix string) *PromptService {
	if systemTemplate == "" {
		systemTemplate = defaultSystemTemplate
	}
	if userSuffix == "" {
		userSuffix = defaultUserSuffix
	}
	return &PromptService{systemTemplate: systemTemplate, userSuffix: userSuffix}
}

// Build 组装一次请求的完整提示词载荷
//
// history 传入定稿回合即可，窗口截取与角色映射在这里完成
func (p *PromptService) Build(profile models.CharacterProfile, userName string, feedback models.FeedbackState, history []models.ChatTurn, userMessage string) models.PromptPayload {
	system := p.renderSystem(profile, userName, feedback)

	window := history
	if len(window) > historyWindowSize {
		window = window[len(window)-historyWindowSize:]
	}
	messages := make([]models.PromptMessage, 0, len(window))
	for _, turn := range window {
		role := "assistant"
		if turn.Role == models.RoleHuman {
			role = "user"
		}
		messages = append(messages, models.PromptMessage{Role: role, Content: turn.Content})
	}

	suffix := strings.ReplaceAll(p.userSuffix, "{ai_name}", displayName(profile))
	return models.PromptPayload{
		SystemPrompt:  system,
		HistoryWindow: messages,
		UserContent:   userMessage + "\n\n" + suffix,
	}
}

func displayName(profile models.CharacterProfile) string {
	if profile.NikName != "" {
		return profile.NikName
	}
	return "AI"
}

// renderSystem 替换占位符并填充三个分区
func (p *PromptService) renderSystem(profile models.CharacterProfile, userName string, feedback models.FeedbackState) string {
	prompt := p.systemTemplate

	// 档案字段为空时回退到默认值，避免模板出现空洞
	replacements := []struct{ placeholder, value, fallback string }{
		{"{ai_name}", profile.NikName, "AI"},
		{"{user_name}", userName, "用户"},
		{"{ai_info}", profile.Background, "暂无背景信息"},
		{"{ai_personality}", profile.Character, "暂无性格信息"},
		{"{ai_way_speaking}", profile.SpeechStyle, "正常说话方式"},
		{"{ai_init_space}", profile.InitSpace, "普通房间"},
		{"{ai_init_clothing}", profile.InitClothing, "日常服饰"},
		{"{ai_relationship}", profile.Relationship, "朋友"},
	}
	for _, r := range replacements {
		v := r.value
		if v == "" {
			v = r.fallback
		}
		prompt = strings.ReplaceAll(prompt, r.placeholder, v)
	}

	// 记录区每轮都重写；记忆区和回顾区只在缓冲非空时填充
	record := fmt.Sprintf("* 心动程度：%d\n* 发情程度：%d", feedback.Affinity, feedback.Arousal)
	prompt = spliceRegion(prompt, headerRecord, record)
	if feedback.MemoryDigest != "" {
		prompt = spliceRegion(prompt, headerMemory, feedback.MemoryDigest)
	}
	if feedback.ReviewDigest != "" {
		prompt = spliceRegion(prompt, headerReview, feedback.ReviewDigest)
	}
	return prompt
}

// spliceRegion 用新内容替换标题之后到下一个"####"（或文本末尾）之间的部分
// 模板里找不到标题时原样返回，不报错
func spliceRegion(prompt, header, body string) string {
	start := strings.Index(prompt, header)
	if start < 0 {
		return prompt
	}
	rest := start + len(header)
	end := strings.Index(prompt[rest:], "####")
	if end < 0 {
		end = len(prompt)
	} else {
		end += rest
	}
	return prompt[:start] + header + "\n" + body + "\n" + prompt[end:]
}
