package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NekoFlux/CyberCompanion/internal/models"
	"github.com/NekoFlux/CyberCompanion/internal/storage"
)

func TestApplyCompletedTurnAdoptsScores(t *testing.T) {
	s := NewSessionService("sl_test", nil)

	fb := s.ApplyCompletedTurn("<summary>场景：卧室</summary>心动程度:80 发情程度:15")
	assert.Equal(t, 80, fb.Affinity)
	assert.Equal(t, 15, fb.Arousal)
}

func TestApplyCompletedTurnRetainsOnMissing(t *testing.T) {
	s := NewSessionService("sl_test", nil)
	s.ApplyCompletedTurn("心动程度:80 发情程度:15")

	// 程度字段缺失时保留原值，绝不清零
	fb := s.ApplyCompletedTurn("<speech>今天天气不错</speech>")
	assert.Equal(t, 80, fb.Affinity)
	assert.Equal(t, 15, fb.Arousal)
}

func TestApplyCompletedTurnRetainsOnUnparsable(t *testing.T) {
	s := NewSessionService("sl_test", nil)
	s.ApplyCompletedTurn("心动程度:42 发情程度:7")

	// "中" 等非数字程度词无法解析为整数，保留原值
	fb := s.ApplyCompletedTurn("心动程度:中 发情程度:高")
	assert.Equal(t, 42, fb.Affinity)
	assert.Equal(t, 7, fb.Arousal)
}

func TestApplyCompletedTurnAllowsDecrease(t *testing.T) {
	s := NewSessionService("sl_test", nil)
	s.ApplyCompletedTurn("心动程度:80")

	fb := s.ApplyCompletedTurn("心动程度:30")
	assert.Equal(t, 30, fb.Affinity)
}

func TestApplyAdoptsZeroScore(t *testing.T) {
	s := NewSessionService("sl_test", nil)
	s.ApplyCompletedTurn("心动程度:80 发情程度:15")

	// 0 是合法分值，采纳而非保留
	fb := s.ApplyCompletedTurn("心动程度:0 发情程度:0")
	assert.Equal(t, 0, fb.Affinity)
	assert.Equal(t, 0, fb.Arousal)
}

func TestApplyCompletedTurnReplacesDigests(t *testing.T) {
	s := NewSessionService("sl_test", nil)

	fb := s.ApplyCompletedTurn("<mem>称呼：小哥哥</mem><summary>在咖啡馆聊天</summary>")
	assert.Equal(t, "称呼：小哥哥", fb.MemoryDigest)
	assert.Equal(t, "在咖啡馆聊天", fb.ReviewDigest)

	// 整体替换而非拼接
	fb = s.ApplyCompletedTurn("<mem>称呼：主人</mem>")
	assert.Equal(t, "称呼：主人", fb.MemoryDigest)
	assert.Equal(t, "在咖啡馆聊天", fb.ReviewDigest)
}

func TestAppendTurnRejectsDuplicateID(t *testing.T) {
	s := NewSessionService("sl_test", nil)

	require.NoError(t, s.AppendTurn(models.NewHumanTurn("1001", "用户", "你好")))
	err := s.AppendTurn(models.NewHumanTurn("1001", "用户", "又来了"))
	assert.ErrorIs(t, err, ErrDuplicateTurn)
	assert.Len(t, s.Turns(), 1)
}

func TestAppendTurnRejectsPendingState(t *testing.T) {
	s := NewSessionService("sl_test", nil)

	err := s.AppendTurn(models.NewPendingTurn("1001", "小雪", "stream-1"))
	assert.Error(t, err)
}

func TestPendingLifecycle(t *testing.T) {
	s := NewSessionService("sl_test", nil)
	require.NoError(t, s.AppendTurn(models.NewHumanTurn("1001", "用户", "你好")))

	require.NoError(t, s.BeginPending("1002", "小雪", "stream-1"))
	assert.Len(t, s.Turns(), 2)
	assert.Len(t, s.RecentWindow(10), 1, "占位回合不进入定稿窗口")

	final, err := s.ResolvePending("stream-1", "<speech>你好呀</speech>")
	require.NoError(t, err)
	assert.Equal(t, "1002", final.TurnID)
	assert.Equal(t, "<speech>你好呀</speech>", final.Content)
	assert.Equal(t, models.TurnFinal, final.State)

	turns := s.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, final, turns[1], "定稿内容在原位置替换占位回合")
}

func TestBeginPendingRejectsSecond(t *testing.T) {
	s := NewSessionService("sl_test", nil)

	require.NoError(t, s.BeginPending("1001", "小雪", "stream-1"))
	err := s.BeginPending("1002", "小雪", "stream-2")
	assert.ErrorIs(t, err, ErrPendingExists)
}

func TestAbortPendingLeavesNoTrace(t *testing.T) {
	s := NewSessionService("sl_test", nil)
	require.NoError(t, s.AppendTurn(models.NewHumanTurn("1001", "用户", "你好")))
	require.NoError(t, s.BeginPending("1002", "小雪", "stream-1"))

	s.AbortPending("stream-1")
	assert.Len(t, s.Turns(), 1)

	// 丢弃后同一ID可以重新使用
	require.NoError(t, s.BeginPending("1002", "小雪", "stream-2"))
}

func TestResolvePendingWrongStream(t *testing.T) {
	s := NewSessionService("sl_test", nil)
	require.NoError(t, s.BeginPending("1001", "小雪", "stream-1"))

	_, err := s.ResolvePending("stream-other", "内容")
	assert.ErrorIs(t, err, ErrPendingMissing)
}

func TestReplaceWindowKeepsPending(t *testing.T) {
	s := NewSessionService("sl_test", nil)
	require.NoError(t, s.AppendTurn(models.NewHumanTurn("1001", "用户", "早")))
	require.NoError(t, s.BeginPending("1002", "小雪", "stream-1"))

	window := []models.ChatTurn{
		models.NewHumanTurn("0900", "用户", "昨天的消息"),
		models.NewHumanTurn("1001", "用户", "早"),
	}
	require.NoError(t, s.ReplaceWindow(window))

	turns := s.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "0900", turns[0].TurnID)
	assert.Equal(t, "1001", turns[1].TurnID)
	assert.Equal(t, models.TurnPending, turns[2].State, "占位回合保留在末尾")
}

func TestReplaceWindowDeduplicates(t *testing.T) {
	s := NewSessionService("sl_test", nil)

	window := []models.ChatTurn{
		models.NewHumanTurn("0900", "用户", "第一条"),
		models.NewHumanTurn("0900", "用户", "重复的第一条"),
		models.NewHumanTurn("0901", "用户", "第二条"),
	}
	require.NoError(t, s.ReplaceWindow(window))
	assert.Len(t, s.Turns(), 2)
}

func TestRecentWindowLimit(t *testing.T) {
	s := NewSessionService("sl_test", nil)
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("%04d", i)
		require.NoError(t, s.AppendTurn(models.NewHumanTurn(id, "用户", "第"+id+"条")))
	}

	window := s.RecentWindow(10)
	require.Len(t, window, 10)
	assert.Equal(t, "0005", window[0].TurnID)
	assert.Equal(t, "0014", window[9].TurnID)
}

func TestTurnOrderRetention(t *testing.T) {
	s := NewSessionService("sl_test", nil)

	ids := []string{"1001", "1002", "1003", "1004"}
	for _, id := range ids {
		require.NoError(t, s.AppendTurn(models.NewHumanTurn(id, "用户", "msg"+id)))
	}

	turns := s.Turns()
	require.Len(t, turns, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, turns[i].TurnID, "追加顺序保持不变")
	}
}

func TestSnapshotPersistence(t *testing.T) {
	dir := t.TempDir()
	fs, err := storage.NewFileStorage(dir)
	require.NoError(t, err)

	s := NewSessionService("sl_42", fs)
	s.ApplyCompletedTurn("<mem>喜欢喝拿铁</mem>心动程度:66")

	// 新实例从快照恢复
	restored := NewSessionService("sl_42", fs)
	fb := restored.Feedback()
	assert.Equal(t, 66, fb.Affinity)
	assert.Equal(t, "喜欢喝拿铁", fb.MemoryDigest)
}
