// internal/backend/cyberchat/cyberchat.go
package cyberchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/NekoFlux/CyberCompanion/internal/backend"
	"github.com/NekoFlux/CyberCompanion/internal/models"
	"github.com/NekoFlux/CyberCompanion/internal/utils"
)

func init() {
	backend.Register("cyberchat", func() backend.Backend {
		return &Client{
			baseURL: "https://cyberchat.vip/chat2/assets/data",
		}
	})
}

// Client 访问角色服务自有接口的非流式后端
// 除聊天外还承担历史记录拉取与回合日志上报
type Client struct {
	baseURL string
	uid     string
	client  *http.Client
}

func (c *Client) Initialize(config map[string]string) error {
	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	c.uid = config["uid"]
	c.client = &http.Client{}
	return nil
}

func (c *Client) GetName() string {
	return "CyberChat"
}

// StreamChat 角色服务接口只有整体响应，不支持流式
func (c *Client) StreamChat(ctx context.Context, req backend.ChatRequest, onDelta backend.DeltaFunc, onComplete backend.CompleteFunc) error {
	return backend.ErrStreamingUnsupported
}

// deepResponse post_chat_deep 接口的响应体
type deepResponse struct {
	Response         string `json:"response"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	Account          string `json:"account"`
	Time             int64  `json:"time"`
}

// CompleteChat 以表单方式提交整组消息，返回完整回复
func (c *Client) CompleteChat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResult, error) {
	text, err := json.Marshal(req.Messages)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("text", string(text))
	form.Set("type", "low")
	form.Set("today_chat_cnt", "0")

	body, err := c.postForm(ctx, "/post_chat_deep.php", form)
	if err != nil {
		return nil, err
	}

	var resp deepResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析聊天响应失败: %w", err)
	}
	if resp.Response == "" {
		return nil, errors.New("角色服务返回空响应")
	}

	return &backend.ChatResult{
		Text: resp.Response,
		Usage: backend.Usage{
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			Account:          resp.Account,
		},
	}, nil
}

// LoadChatLog 拉取最近 cnt 条回合，响应内按从旧到新排列
// 该接口返回完整窗口（包含已见过的回合），不是游标式分页
func (c *Client) LoadChatLog(ctx context.Context, uid, slid string, cnt int, chatTable string) ([]models.ChatTurn, error) {
	form := url.Values{}
	form.Set("uid", uid)
	form.Set("slid", slid)
	form.Set("from", "load_chat_his")
	form.Set("cnt", fmt.Sprintf("%d", cnt))
	form.Set("chat_table", chatTable)

	body, err := c.postForm(ctx, "/load_chat_log.php", form)
	if err != nil {
		return nil, err
	}

	var turns []models.ChatTurn
	if err := json.Unmarshal(body, &turns); err != nil {
		return nil, fmt.Errorf("解析聊天记录失败: %w", err)
	}
	for i := range turns {
		if turns[i].CType == models.CTypeGennerImg {
			turns[i].ImgURL = c.resolveImgURL(turns[i].ImgURL)
		}
	}
	return turns, nil
}

// resolveImgURL 日志里的 img_url 可能只存文件名，补全为完整资源地址
func (c *Client) resolveImgURL(v string) string {
	if v == "" || strings.Contains(v, "/") {
		return v
	}
	return c.ImgURL("chat_photo_genner_small", v)
}

// TurnLogRecord 定稿回合的上报记录
type TurnLogRecord struct {
	ChatID               string `json:"chat_id"`
	UserInput            string `json:"user_input"`
	AIFeedback           string `json:"ai_feedback"`
	AIFeedbackX          string `json:"ai_feedback_x"` // speech内容汇总
	SlID                 string `json:"sl_id"`
	SlName               string `json:"sl_name"`
	UID                  string `json:"uid"`
	UName                string `json:"uname"`
	CType                string `json:"ctype"`
	PromptTokensChat     int    `json:"prompt_tokens_chat"`
	CompletionTokensChat int    `json:"completion_tokens_chat"`
	ChatAccount          string `json:"chat_account"`
	SexScore             int    `json:"sex_score"`
	DongzuoText          string `json:"dongzuo_text"` // feature标签内容
	ImgURL               string `json:"img_url"`
	Time                 int64  `json:"time"`
	ChatTable            string `json:"chat_table"`
	TodayChatCnt         string `json:"today_chat_cnt"`
	CreateType           string `json:"create_type"`
}

// InsertTurnLog 上报定稿回合，失败只记录日志，不回滚本地状态
func (c *Client) InsertTurnLog(ctx context.Context, rec TurnLogRecord) {
	form := url.Values{}
	form.Set("chat_id", rec.ChatID)
	form.Set("user_input", rec.UserInput)
	form.Set("ai_feedback", rec.AIFeedback)
	form.Set("ai_feedback_x", rec.AIFeedbackX)
	form.Set("sl_id", rec.SlID)
	form.Set("sl_name", rec.SlName)
	form.Set("uid", rec.UID)
	form.Set("uname", rec.UName)
	form.Set("has_read", "1")
	form.Set("first_chat", "0")
	form.Set("ctype", rec.CType)
	form.Set("prompt_tokens_chat", fmt.Sprintf("%d", rec.PromptTokensChat))
	form.Set("completion_tokens_chat", fmt.Sprintf("%d", rec.CompletionTokensChat))
	form.Set("prompt_tokens_summary", "0")
	form.Set("completion_tokens_summary", "0")
	form.Set("chat_account", rec.ChatAccount)
	form.Set("owner_id", "admin")
	form.Set("consume", "1")
	form.Set("create_type", rec.CreateType)
	form.Set("slfree", "0")
	form.Set("sex_score", fmt.Sprintf("%d", rec.SexScore))
	form.Set("dongzuo_text", rec.DongzuoText)
	form.Set("img_url", rec.ImgURL)
	form.Set("post_chat", "assets/data/post_chat_deep.php")
	form.Set("time", fmt.Sprintf("%d", rec.Time))
	form.Set("emo", "0")
	form.Set("chat_table", rec.ChatTable)
	form.Set("u_5x_qinmi", "0")
	form.Set("today_chat_cnt", rec.TodayChatCnt)

	if _, err := c.postForm(ctx, "/chat_log_insert.php", form); err != nil {
		utils.GetLogger().Warn("回合日志上报失败", map[string]interface{}{
			"chat_id": rec.ChatID,
			"err":     err.Error(),
		})
	}
}

var imageExts = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

// ImgURL 组装图片资源地址，文件名没有扩展名时补 .jpg
// 生成图片回合的 img_url 即由 chat_photo_genner_small 类型组装
func (c *Client) ImgURL(kind, name string) string {
	hasExt := false
	lower := strings.ToLower(name)
	for _, ext := range imageExts {
		if strings.HasSuffix(lower, ext) {
			hasExt = true
			break
		}
	}
	if !hasExt {
		name += ".jpg"
	}
	base := strings.Replace(c.baseURL, "/assets/data", "/assets/images", 1)
	return base + "/" + kind + "/" + name
}

// postForm 发送表单请求并返回响应体
func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(
		ctx,
		"POST",
		c.baseURL+path,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("CyberChat API错误(%d): %s", httpResp.StatusCode, string(body))
	}

	return io.ReadAll(httpResp.Body)
}
