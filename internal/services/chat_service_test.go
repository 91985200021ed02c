package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NekoFlux/CyberCompanion/internal/backend"
	"github.com/NekoFlux/CyberCompanion/internal/backend/cyberchat"
	"github.com/NekoFlux/CyberCompanion/internal/models"
)

// fakeBackend 按预设片段回放流式响应
type fakeBackend struct {
	fragments []string
	full      string
	streamErr error
	lastReq   backend.ChatRequest
	completes int
}

func (b *fakeBackend) Initialize(map[string]string) error { return nil }
func (b *fakeBackend) GetName() string                    { return "Fake" }

func (b *fakeBackend) StreamChat(_ context.Context, req backend.ChatRequest, onDelta backend.DeltaFunc, onComplete backend.CompleteFunc) error {
	b.lastReq = req
	for i, f := range b.fragments {
		onDelta(backend.StreamDelta{SequenceIndex: i, TextFragment: f})
	}
	if b.streamErr != nil {
		return b.streamErr
	}
	b.completes++
	onComplete(backend.ChatResult{Text: b.full, Usage: backend.Usage{PromptTokens: 12, CompletionTokens: 34}})
	return nil
}

func (b *fakeBackend) CompleteChat(_ context.Context, req backend.ChatRequest) (*backend.ChatResult, error) {
	b.lastReq = req
	if b.streamErr != nil {
		return nil, b.streamErr
	}
	return &backend.ChatResult{Text: b.full}, nil
}

// fakeTurnLogger 捕获上报记录
type fakeTurnLogger struct {
	ch chan cyberchat.TurnLogRecord
}

func newFakeTurnLogger() *fakeTurnLogger {
	return &fakeTurnLogger{ch: make(chan cyberchat.TurnLogRecord, 1)}
}

func (l *fakeTurnLogger) InsertTurnLog(_ context.Context, rec cyberchat.TurnLogRecord) {
	l.ch <- rec
}

func (l *fakeTurnLogger) wait(t *testing.T) cyberchat.TurnLogRecord {
	t.Helper()
	select {
	case rec := <-l.ch:
		return rec
	case <-time.After(time.Second):
		t.Fatal("等待回合上报超时")
		return cyberchat.TurnLogRecord{}
	}
}

const sampleReply = `<speech>你来啦</speech><feature>她抬头看向门口</feature><inner thoughts>终于等到了</inner thoughts>` +
	`<summary>场景：咖啡馆；服饰状态细节：针织衫；姿态动作：坐在窗边；事件信息提炼：见面；发情程度:5；心动程度:80</summary>`

func newTestChatService(b backend.Backend, logger TurnLogger, streaming bool) (*ChatService, *SessionService) {
	session := NewSessionService("sl_1", nil)
	prompts := NewPromptService("", "")
	svc := NewChatService(b, session, prompts, logger, ChatConfig{
		Profile:   testProfile(),
		UserName:  "阿明",
		UID:       "u_1",
		ChatTable: "chat_2024",
		Streaming: streaming,
	})
	return svc, session
}

func TestSendMessageStreaming(t *testing.T) {
	fb := &fakeBackend{
		fragments: []string{"<speech>你", "来啦</speech>"},
		full:      sampleReply,
	}
	logger := newFakeTurnLogger()
	svc, session := newTestChatService(fb, logger, true)

	var got []string
	final, err := svc.SendMessage(context.Background(), "我到了", func(d backend.StreamDelta) {
		got = append(got, d.TextFragment)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"<speech>你", "来啦</speech>"}, got)
	assert.Equal(t, sampleReply, final.Content)
	assert.Equal(t, models.TurnFinal, final.State)
	assert.Equal(t, models.RoleAI, final.Role)

	turns := session.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleHuman, turns[0].Role)
	assert.Equal(t, "我到了", turns[0].Content)
	assert.NotEqual(t, turns[0].TurnID, turns[1].TurnID)

	feedback := session.Feedback()
	assert.Equal(t, 80, feedback.Affinity)
	assert.Equal(t, 5, feedback.Arousal)
}

func TestSendMessageStreamErrorLeavesNoPending(t *testing.T) {
	fb := &fakeBackend{
		fragments: []string{"开头片段"},
		streamErr: errors.New("连接中断"),
	}
	svc, session := newTestChatService(fb, nil, true)
	session.ApplyCompletedTurn("心动程度:50")

	_, err := svc.SendMessage(context.Background(), "在吗", nil)
	assert.Error(t, err)

	turns := session.Turns()
	require.Len(t, turns, 1, "出错的流不留下AI回合")
	assert.Equal(t, models.RoleHuman, turns[0].Role)
	assert.Equal(t, 50, session.Feedback().Affinity, "出错时反馈缓冲不变")

	// 出错后可以正常重试
	fb.streamErr = nil
	fb.full = sampleReply
	_, err = svc.SendMessage(context.Background(), "还在吗", nil)
	require.NoError(t, err)
	assert.Len(t, session.Turns(), 3)
}

func TestSendMessageNonStreaming(t *testing.T) {
	fb := &fakeBackend{full: sampleReply}
	svc, session := newTestChatService(fb, nil, false)

	final, err := svc.SendMessage(context.Background(), "你好", nil)
	require.NoError(t, err)
	assert.Equal(t, sampleReply, final.Content)
	assert.False(t, fb.lastReq.Stream)
	assert.Equal(t, 0, fb.completes, "非流式不走StreamChat")
	assert.Len(t, session.Turns(), 2)
}

func TestSendMessagePromptCarriesHistoryAndSuffix(t *testing.T) {
	fb := &fakeBackend{full: sampleReply}
	svc, _ := newTestChatService(fb, nil, true)

	ctx := context.Background()
	_, err := svc.SendMessage(ctx, "第一句", nil)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, "第二句", nil)
	require.NoError(t, err)

	msgs := fb.lastReq.Messages
	require.GreaterOrEqual(t, len(msgs), 4)
	assert.Equal(t, "system", msgs[0].Role)
	// 历史窗口包含第一轮的两条定稿回合
	assert.Equal(t, "第一句", msgs[1].Content)
	assert.Equal(t, "assistant", msgs[2].Role)
	// 末尾是带隐藏后缀的当前消息
	last := msgs[len(msgs)-1]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Content, "第二句\n\n")
}

func TestSendMessageReportsTurnLog(t *testing.T) {
	fb := &fakeBackend{full: sampleReply}
	logger := newFakeTurnLogger()
	svc, _ := newTestChatService(fb, logger, true)

	final, err := svc.SendMessage(context.Background(), "我到了", nil)
	require.NoError(t, err)

	rec := logger.wait(t)
	assert.Equal(t, final.TurnID, rec.ChatID)
	assert.Equal(t, "我到了", rec.UserInput)
	assert.Equal(t, sampleReply, rec.AIFeedback)
	assert.Equal(t, "你来啦", rec.AIFeedbackX, "speech标签内容汇总")
	assert.Equal(t, "她抬头看向门口", rec.DongzuoText)
	assert.Equal(t, 5, rec.SexScore)
	assert.Equal(t, "sl_1", rec.SlID)
	assert.Equal(t, "阿明", rec.UName)
	assert.Equal(t, 12, rec.PromptTokensChat)
	assert.Equal(t, 34, rec.CompletionTokensChat)
}

func TestSendMessageNoSpeechFallsBackToFullText(t *testing.T) {
	fb := &fakeBackend{full: "没有任何标签的纯文本回复"}
	logger := newFakeTurnLogger()
	svc, _ := newTestChatService(fb, logger, true)

	_, err := svc.SendMessage(context.Background(), "在吗", nil)
	require.NoError(t, err)

	rec := logger.wait(t)
	assert.Equal(t, "没有任何标签的纯文本回复", rec.AIFeedbackX)
	assert.Equal(t, 0, rec.SexScore)
	assert.Empty(t, rec.DongzuoText)
}

func TestSexScoreOf(t *testing.T) {
	assert.Equal(t, 15, SexScoreOf("发情程度:15"))
	assert.Equal(t, 0, SexScoreOf("发情程度:中"))
	assert.Equal(t, 0, SexScoreOf("没有程度信息"))
}
