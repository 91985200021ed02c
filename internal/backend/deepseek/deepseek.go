// internal/backend/deepseek/deepseek.go
package deepseek

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/NekoFlux/CyberCompanion/internal/backend"
	"github.com/NekoFlux/CyberCompanion/internal/utils"
)

func init() {
	backend.Register("deepseek", func() backend.Backend {
		return New()
	})
}

// New 返回带默认端点与默认模型的Provider
func New() *Provider {
	return &Provider{
		name:    "DeepSeek",
		baseURL: "https://api.deepseek.com",
		model:   "deepseek-chat",
	}
}

// Provider 通过OpenAI兼容接口提供流式与非流式聊天
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("DeepSeek API密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{}

	if model, exists := config["default_model"]; exists && model != "" {
		p.model = model
	}
	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}

	return nil
}

func (p *Provider) GetName() string {
	return p.name
}

// SetName 供 custom 后端复用时覆盖名称
func (p *Provider) SetName(name string) {
	p.name = name
}

// streamChunk 流式响应中单帧的数据结构
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamChat 消费 text/event-stream 响应
//
// 每行 "data: <json>" 帧解析出增量片段后按到达顺序回调 onDelta；
// 单行JSON解析失败只记录日志并跳过，不中断流。收到 "data: [DONE]"
// 或连接正常关闭时，以全部片段的拼接调用一次 onComplete。终止帧
// 之前发生的传输错误直接返回，不会合成部分完成回调
func (p *Provider) StreamChat(ctx context.Context, req backend.ChatRequest, onDelta backend.DeltaFunc, onComplete backend.CompleteFunc) error {
	req.Stream = true
	httpResp, err := p.post(ctx, req, true)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	reader := bufio.NewReader(httpResp.Body)
	var full strings.Builder
	seq := 0

	finish := func() {
		if onComplete != nil {
			onComplete(backend.ChatResult{Text: full.String()})
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// 连接正常关闭等同于终止帧
				finish()
				return nil
			}
			return fmt.Errorf("读取流式响应失败: %w", err)
		}

		line = strings.TrimSpace(line)

		// 空行或SSE注释
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		if payload == "[DONE]" {
			finish()
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			utils.GetLogger().Warn("跳过无法解析的流式数据帧", map[string]interface{}{
				"backend": p.name,
				"err":     err.Error(),
			})
			continue
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		full.WriteString(content)
		if onDelta != nil {
			onDelta(backend.StreamDelta{SequenceIndex: seq, TextFragment: content})
		}
		seq++
	}
}

// CompleteChat 非流式调用，返回单个完成对象
func (p *Provider) CompleteChat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResult, error) {
	req.Stream = false
	httpResp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("解析完成响应失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("后端未返回任何结果")
	}

	return &backend.ChatResult{
		Text: response.Choices[0].Message.Content,
		Usage: backend.Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
		},
	}, nil
}

// post 发送聊天请求并校验状态码
func (p *Provider) post(ctx context.Context, req backend.ChatRequest, stream bool) (*http.Response, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		"POST",
		p.baseURL+"/chat/completions",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, fmt.Errorf("%s API错误(%d): %s", p.name, httpResp.StatusCode, string(body))
	}

	return httpResp, nil
}
