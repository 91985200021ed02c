package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NekoFlux/CyberCompanion/internal/models"
)

func testProfile() models.CharacterProfile {
	return models.CharacterProfile{
		SlID:         "sl_1",
		NikName:      "小雪",
		Background:   "大学二年级学生",
		Character:    "开朗爱笑",
		SpeechStyle:  "活泼带点撒娇",
		InitSpace:    "学校天台",
		InitClothing: "校服",
		Relationship: "青梅竹马",
	}
}

func TestBuildReplacesPlaceholders(t *testing.T) {
	p := NewPromptService("", "")
	payload := p.Build(testProfile(), "阿明", models.FeedbackState{}, nil, "你好")

	assert.Contains(t, payload.SystemPrompt, "小雪")
	assert.Contains(t, payload.SystemPrompt, "阿明")
	assert.Contains(t, payload.SystemPrompt, "大学二年级学生")
	assert.Contains(t, payload.SystemPrompt, "青梅竹马")
	assert.NotContains(t, payload.SystemPrompt, "{ai_", "所有占位符都应被替换")
	assert.NotContains(t, payload.SystemPrompt, "{user_name}")
}

func TestBuildPlaceholderDefaults(t *testing.T) {
	p := NewPromptService("", "")
	payload := p.Build(models.CharacterProfile{}, "", models.FeedbackState{}, nil, "你好")

	assert.Contains(t, payload.SystemPrompt, "暂无背景信息")
	assert.Contains(t, payload.SystemPrompt, "暂无性格信息")
	assert.Contains(t, payload.SystemPrompt, "正常说话方式")
	assert.Contains(t, payload.SystemPrompt, "普通房间")
	assert.Contains(t, payload.SystemPrompt, "日常服饰")
	assert.Contains(t, payload.SystemPrompt, "朋友")
}

func TestBuildRecordRegion(t *testing.T) {
	p := NewPromptService("", "")
	fb := models.FeedbackState{Affinity: 80, Arousal: 15}
	payload := p.Build(testProfile(), "阿明", fb, nil, "你好")

	assert.Contains(t, payload.SystemPrompt, "* 心动程度：80")
	assert.Contains(t, payload.SystemPrompt, "* 发情程度：15")
}

func TestBuildRegionSplicingBoundedByNextHeader(t *testing.T) {
	template := headerRecord + "\n旧的记录内容\n" +
		headerMemory + "\n旧的记忆\n" +
		headerReview + "\n"
	p := NewPromptService(template, "后缀")
	fb := models.FeedbackState{Affinity: 5, Arousal: 3, MemoryDigest: "称呼：哥哥", ReviewDigest: "上次在图书馆"}
	payload := p.Build(testProfile(), "阿明", fb, nil, "你好")

	assert.NotContains(t, payload.SystemPrompt, "旧的记录内容", "记录区每轮重写")
	assert.NotContains(t, payload.SystemPrompt, "旧的记忆")
	assert.Contains(t, payload.SystemPrompt, "称呼：哥哥")
	assert.Contains(t, payload.SystemPrompt, "上次在图书馆")
	// 三个标题本身保留
	assert.Contains(t, payload.SystemPrompt, headerRecord)
	assert.Contains(t, payload.SystemPrompt, headerMemory)
	assert.Contains(t, payload.SystemPrompt, headerReview)
}

func TestBuildEmptyDigestsLeaveRegionsAlone(t *testing.T) {
	template := headerRecord + "\n\n" +
		headerMemory + "\n保留的记忆占位\n" +
		headerReview + "\n保留的回顾占位\n"
	p := NewPromptService(template, "后缀")
	payload := p.Build(testProfile(), "阿明", models.FeedbackState{}, nil, "你好")

	assert.Contains(t, payload.SystemPrompt, "保留的记忆占位", "缓冲为空时不触碰记忆区")
	assert.Contains(t, payload.SystemPrompt, "保留的回顾占位")
}

func TestBuildMissingHeaderSilentlySkipped(t *testing.T) {
	template := "没有任何分区标题的模板 {ai_name}"
	p := NewPromptService(template, "后缀")
	fb := models.FeedbackState{Affinity: 9, MemoryDigest: "一些记忆"}

	var payload models.PromptPayload
	require.NotPanics(t, func() {
		payload = p.Build(testProfile(), "阿明", fb, nil, "你好")
	})
	assert.Equal(t, "没有任何分区标题的模板 小雪", payload.SystemPrompt)
}

func TestBuildHistoryWindow(t *testing.T) {
	p := NewPromptService("", "")

	var history []models.ChatTurn
	for i := 0; i < 14; i++ {
		id := fmt.Sprintf("%04d", i)
		if i%2 == 0 {
			history = append(history, models.NewHumanTurn(id, "阿明", "用户消息"+id))
		} else {
			turn := models.NewPendingTurn(id, "小雪", "s"+id).Finalize("AI回复" + id)
			history = append(history, turn)
		}
	}

	payload := p.Build(testProfile(), "阿明", models.FeedbackState{}, history, "最新消息")
	require.Len(t, payload.HistoryWindow, 10, "只取最近10条")
	assert.Equal(t, "用户消息0004", payload.HistoryWindow[0].Content)
	assert.Equal(t, "user", payload.HistoryWindow[0].Role)
	assert.Equal(t, "assistant", payload.HistoryWindow[1].Role)
	assert.Equal(t, "AI回复0013", payload.HistoryWindow[9].Content)
}

func TestBuildUserSuffix(t *testing.T) {
	p := NewPromptService("", "请记住你是{ai_name}")
	payload := p.Build(testProfile(), "阿明", models.FeedbackState{}, nil, "今天去哪玩？")

	assert.Equal(t, "今天去哪玩？\n\n请记住你是小雪", payload.UserContent)
}

func TestMessagesOrder(t *testing.T) {
	p := NewPromptService("", "")
	history := []models.ChatTurn{
		models.NewHumanTurn("1001", "阿明", "早安"),
	}
	payload := p.Build(testProfile(), "阿明", models.FeedbackState{}, history, "吃饭了吗")

	msgs := payload.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "早安", msgs[1].Content)
	assert.Equal(t, "user", msgs[2].Role)
	assert.True(t, strings.HasPrefix(msgs[2].Content, "吃饭了吗\n\n"))
}
