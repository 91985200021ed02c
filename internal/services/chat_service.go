// internal/services/chat_service.go
package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NekoFlux/CyberCompanion/internal/backend"
	"github.com/NekoFlux/CyberCompanion/internal/backend/cyberchat"
	"github.com/NekoFlux/CyberCompanion/internal/content"
	"github.com/NekoFlux/CyberCompanion/internal/models"
	"github.com/NekoFlux/CyberCompanion/internal/utils"
)

// TurnLogger 定稿回合的上报入口，失败不影响本地状态
type TurnLogger interface {
	InsertTurnLog(ctx context.Context, rec cyberchat.TurnLogRecord)
}

// ChatConfig 一次会话的固定参数
type ChatConfig struct {
	Profile     models.CharacterProfile
	UserName    string
	UID         string
	ChatTable   string
	Streaming   bool   // 后端支持流式时走流式通道
	Model       string // 为空时用后端默认模型
	Temperature float64
	MaxTokens   int
}

// ChatService 串联一轮完整交互：
// 追加用户回合、组装提示词、调用后端、定稿AI回合、
// 更新反馈缓冲、异步上报回合日志
type ChatService struct {
	chat    backend.Backend
	session *SessionService
	prompts *PromptService
	logger  TurnLogger // 可为nil
	cfg     ChatConfig
}

// NewChatService 创建对话编排服务
func NewChatService(chat backend.Backend, session *SessionService, prompts *PromptService, logger TurnLogger, cfg ChatConfig) *ChatService {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	return &ChatService{
		chat:    chat,
		session: session,
		prompts: prompts,
		logger:  logger,
		cfg:     cfg,
	}
}

// Session 暴露底层会话状态，供API层读取历史
func (c *ChatService) Session() *SessionService {
	return c.session
}

// SendMessage 发送一条用户消息并等待AI回复定稿
//
// 流式后端逐片段回调 onDelta（可为nil）；流中途出错时
// 丢弃占位回合，反馈缓冲不做任何更新，返回错误。
// 成功时返回定稿的AI回合
func (c *ChatService) SendMessage(ctx context.Context, text string, onDelta backend.DeltaFunc) (models.ChatTurn, error) {
	// 历史窗口在追加当前消息之前截取，当前消息只出现在末尾
	payload := c.prompts.Build(
		c.cfg.Profile,
		c.cfg.UserName,
		c.session.Feedback(),
		c.session.RecentWindow(historyWindowSize),
		text,
	)

	humanTurn := models.NewHumanTurn(c.session.NextTurnID(), c.cfg.UserName, text)
	if err := c.session.AppendTurn(humanTurn); err != nil {
		return models.ChatTurn{}, err
	}
	req := backend.ChatRequest{
		Messages:    payload.Messages(),
		Model:       c.cfg.Model,
		Stream:      c.cfg.Streaming,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	streamID := uuid.NewString()
	if err := c.session.BeginPending(c.session.NextTurnID(), c.displayName(), streamID); err != nil {
		return models.ChatTurn{}, err
	}

	result, err := c.invoke(ctx, req, onDelta)
	if err != nil {
		c.session.AbortPending(streamID)
		return models.ChatTurn{}, err
	}

	c.session.ApplyCompletedTurn(result.Text)
	final, err := c.session.ResolvePending(streamID, result.Text)
	if err != nil {
		return models.ChatTurn{}, err
	}

	go c.reportTurn(humanTurn, final, result)
	return final, nil
}

func (c *ChatService) displayName() string {
	if c.cfg.Profile.NikName != "" {
		return c.cfg.Profile.NikName
	}
	return "AI"
}

// invoke 按配置走流式或非流式通道，返回完整结果
func (c *ChatService) invoke(ctx context.Context, req backend.ChatRequest, onDelta backend.DeltaFunc) (backend.ChatResult, error) {
	if !c.cfg.Streaming {
		res, err := c.chat.CompleteChat(ctx, req)
		if err != nil {
			return backend.ChatResult{}, err
		}
		return *res, nil
	}

	if onDelta == nil {
		onDelta = func(backend.StreamDelta) {}
	}
	var result backend.ChatResult
	err := c.chat.StreamChat(ctx, req, onDelta, func(r backend.ChatResult) {
		result = r
	})
	if err != nil {
		return backend.ChatResult{}, err
	}
	return result, nil
}

// reportTurn 异步上报定稿回合，派生展示用的附加字段
func (c *ChatService) reportTurn(human, final models.ChatTurn, result backend.ChatResult) {
	if c.logger == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			utils.GetLogger().Error("回合上报异常", map[string]interface{}{"panic": r})
		}
	}()

	// speech标签内容汇总，没有标签时回退为完整回复
	speechJoined := strings.Join(content.SpeechSpans(result.Text), " ")
	if speechJoined == "" {
		speechJoined = result.Text
	}
	dongzuo, _ := content.TagSpan(result.Text, models.SegmentFeature)

	rec := cyberchat.TurnLogRecord{
		ChatID:               final.TurnID,
		UserInput:            human.Content,
		AIFeedback:           result.Text,
		AIFeedbackX:          speechJoined,
		SlID:                 c.cfg.Profile.SlID,
		SlName:               c.displayName(),
		UID:                  c.cfg.UID,
		UName:                c.cfg.UserName,
		CType:                models.CTypeChat,
		PromptTokensChat:     result.Usage.PromptTokens,
		CompletionTokensChat: result.Usage.CompletionTokens,
		ChatAccount:          result.Usage.Account,
		SexScore:             SexScoreOf(result.Text),
		DongzuoText:          dongzuo,
		Time:                 time.Now().Unix(),
		ChatTable:            c.cfg.ChatTable,
		TodayChatCnt:         "0",
		CreateType:           "chat",
	}
	c.logger.InsertTurnLog(context.Background(), rec)
}

// SexScoreOf 从一条回复文本派生发情程度数值，无法解析时为0
func SexScoreOf(fullText string) int {
	scene := content.ExtractScene(fullText)
	if scene.Arousal == models.FieldUnspecified {
		return 0
	}
	v, err := strconv.Atoi(scene.Arousal)
	if err != nil {
		return 0
	}
	return v
}
