// internal/services/session_service.go
package services

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/NekoFlux/CyberCompanion/internal/content"
	"github.com/NekoFlux/CyberCompanion/internal/models"
	"github.com/NekoFlux/CyberCompanion/internal/storage"
	"github.com/NekoFlux/CyberCompanion/internal/utils"
)

var (
	ErrDuplicateTurn  = errors.New("回合ID已存在")
	ErrPendingExists  = errors.New("已有流式回合在进行中")
	ErrPendingMissing = errors.New("没有匹配的流式占位回合")
)

// SessionService 持有一次角色会话的全部可变状态：
// 三个反馈缓冲与回合历史。其他组件只拿到只读快照，
// 写入只经过 ApplyCompletedTurn / AppendTurn 等入口
type SessionService struct {
	mu       sync.Mutex
	slid     string
	feedback models.FeedbackState
	turns    []models.ChatTurn
	seen     map[string]bool
	storage  *storage.FileStorage // 可为nil，此时不做快照持久化
}

// NewSessionService 创建会话状态存储
// 传入storage时尝试恢复上次的反馈缓冲快照
func NewSessionService(slid string, fs *storage.FileStorage) *SessionService {
	s := &SessionService{
		slid:    slid,
		seen:    make(map[string]bool),
		storage: fs,
	}
	if fs != nil {
		var snapshot models.FeedbackState
		if err := fs.LoadJSONFile("sessions", slid+".json", &snapshot); err == nil {
			s.feedback = snapshot
		}
	}
	return s
}

// ApplyCompletedTurn 用一条已完成的AI回复更新反馈缓冲
//
// 心动/发情程度：提取值非占位且可解析为整数时采纳，否则保留原值，
// 解析失败不报错也绝不清零。<mem>/<summary> 标签内容存在时整体
// 替换对应缓冲（替换而非合并），缺失时保持不变。
// 返回更新后的快照
func (s *SessionService) ApplyCompletedTurn(fullText string) models.FeedbackState {
	scene := content.ExtractScene(fullText)

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := parseScore(scene.Affinity); ok {
		s.feedback.Affinity = v
	}
	if v, ok := parseScore(scene.Arousal); ok {
		s.feedback.Arousal = v
	}
	if mem, ok := content.TagSpan(fullText, models.SegmentMem); ok {
		s.feedback.MemoryDigest = mem
	}
	if summary, ok := content.TagSpan(fullText, models.SegmentSummary); ok {
		s.feedback.ReviewDigest = summary
	}

	s.persistLocked()
	return s.feedback
}

// parseScore 解析程度值，占位符或非整数视为"无更新"
// 0 和负数是合法分值，照常采纳（决策见 DESIGN.md 的分值采纳条目）
func parseScore(value string) (int, bool) {
	if value == models.FieldUnspecified {
		return 0, false
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NextTurnID 生成一个本会话内未用过的回合ID
// 毫秒时间戳冲突时逐一递增，保证同一次交互内人类与AI回合ID不同
func (s *SessionService) NextTurnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := models.NewTurnID()
	for s.seen[id] {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			break
		}
		id = strconv.FormatInt(n+1, 10)
	}
	return id
}

// Feedback 返回反馈缓冲的只读快照
func (s *SessionService) Feedback() models.FeedbackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedback
}

// AppendTurn 追加一条定稿回合
// 只增不改：回合ID必须唯一，已追加的回合不会被修改或移除
func (s *SessionService) AppendTurn(turn models.ChatTurn) error {
	if turn.State != models.TurnFinal {
		return fmt.Errorf("只能追加定稿回合，请使用 BeginPending")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(turn)
}

func (s *SessionService) appendLocked(turn models.ChatTurn) error {
	if s.seen[turn.TurnID] {
		return fmt.Errorf("%w: %s", ErrDuplicateTurn, turn.TurnID)
	}
	s.seen[turn.TurnID] = true
	s.turns = append(s.turns, turn)
	return nil
}

// BeginPending 安装流式响应的占位回合
// 同一时刻至多一个占位回合；完成后用 ResolvePending 原位替换
func (s *SessionService) BeginPending(turnID, aiName, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingIndexLocked() >= 0 {
		return ErrPendingExists
	}
	if s.seen[turnID] {
		return fmt.Errorf("%w: %s", ErrDuplicateTurn, turnID)
	}
	s.seen[turnID] = true
	s.turns = append(s.turns, models.NewPendingTurn(turnID, aiName, streamID))
	return nil
}

// ResolvePending 用定稿内容在原位置整体替换占位回合
func (s *SessionService) ResolvePending(streamID, fullText string) (models.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.pendingIndexLocked()
	if idx < 0 || s.turns[idx].StreamID != streamID {
		return models.ChatTurn{}, ErrPendingMissing
	}
	s.turns[idx] = s.turns[idx].Finalize(fullText)
	return s.turns[idx], nil
}

// AbortPending 丢弃占位回合，出错的流不留下任何AI回合
func (s *SessionService) AbortPending(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.pendingIndexLocked()
	if idx < 0 || s.turns[idx].StreamID != streamID {
		return
	}
	delete(s.seen, s.turns[idx].TurnID)
	s.turns = append(s.turns[:idx], s.turns[idx+1:]...)
}

func (s *SessionService) pendingIndexLocked() int {
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].State == models.TurnPending {
			return i
		}
	}
	return -1
}

// ReplaceWindow 用历史接口返回的完整窗口替换已定稿的回合列表
// 由分页器调用；进行中的占位回合保留在末尾，不参与替换
func (s *SessionService) ReplaceWindow(turns []models.ChatTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []models.ChatTurn
	if idx := s.pendingIndexLocked(); idx >= 0 {
		pending = append(pending, s.turns[idx])
	}

	seen := make(map[string]bool, len(turns)+1)
	replaced := make([]models.ChatTurn, 0, len(turns)+1)
	for _, turn := range turns {
		if seen[turn.TurnID] {
			utils.GetLogger().Warn("历史窗口包含重复回合，已去重", map[string]interface{}{
				"chat_id": turn.TurnID,
			})
			continue
		}
		turn.State = models.TurnFinal
		seen[turn.TurnID] = true
		replaced = append(replaced, turn)
	}
	for _, p := range pending {
		seen[p.TurnID] = true
		replaced = append(replaced, p)
	}

	s.turns = replaced
	s.seen = seen
	return nil
}

// Turns 返回全部回合的副本
func (s *SessionService) Turns() []models.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ChatTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

// RecentWindow 返回最近 n 条定稿回合，按创建顺序
func (s *SessionService) RecentWindow(n int) []models.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	finals := make([]models.ChatTurn, 0, len(s.turns))
	for _, turn := range s.turns {
		if turn.State == models.TurnFinal {
			finals = append(finals, turn)
		}
	}
	if len(finals) > n {
		finals = finals[len(finals)-n:]
	}
	return finals
}

// persistLocked 保存反馈缓冲快照，失败只记录日志
func (s *SessionService) persistLocked() {
	if s.storage == nil {
		return
	}
	if err := s.storage.SaveJSONFile("sessions", s.slid+".json", s.feedback); err != nil {
		utils.GetLogger().Warn("保存会话快照失败", map[string]interface{}{
			"slid": s.slid,
			"err":  err.Error(),
		})
	}
}
