// Package ollama provides a client for the local Ollama model server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dalo-chat-go/internal/config"
)

// Client defines the interface for the model gateway.
type Client interface {
	// StreamChat 以完整历史调用 /api/chat 并返回原始的逐行 JSON 字节流。
	// 调用方负责关闭返回的流；ctx 取消会中断底层请求。
	StreamChat(ctx context.Context, messages []Message) (io.ReadCloser, error)
	// CheckHealth 探测模型服务是否可达。
	CheckHealth(ctx context.Context) bool
}

type httpClient struct {
	cfg    config.OllamaConfig
	client *http.Client
}

// NewClient creates a new Ollama client from the config.
func NewClient(cfg config.OllamaConfig) Client {
	return &httpClient{
		cfg: cfg,
		// 流式响应的持续时间由模型决定，客户端不设整体超时
		client: &http.Client{},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// ChatChunk 对应 /api/chat 流中一行 JSON 的形态。
type ChatChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// ParseChunk 尝试把流中的一行解析为 ChatChunk。
// 返回 false 表示该行不是合法的 JSON 对象，应跳过而非中断流。
func ParseChunk(line []byte) (ChatChunk, bool) {
	var chunk ChatChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return ChatChunk{}, false
	}
	return chunk, true
}

// StreamChat calls the Ollama chat API and returns the raw NDJSON stream.
func (c *httpClient) StreamChat(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   true,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/api/chat", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	return resp.Body, nil
}

// CheckHealth probes /api/tags to verify the model server is reachable.
func (c *httpClient) CheckHealth(ctx context.Context) bool {
	timeout := time.Duration(c.cfg.HealthTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
