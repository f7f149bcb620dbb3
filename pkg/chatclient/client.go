// Package chatclient 是聊天服务的 Go 客户端：会话管理调用与
// 流式应答的消费端。它持有浏览器端同款的视图状态——消息列表、
// 分页游标与发送中标志——供上层 UI 渲染。
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"dalo-chat-go/pkg/sse"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSendRejected 表示发送在前置校验阶段被拒绝：文本为空、
// 未指定会话，或本客户端已有一次在途发送。被拒绝的发送没有任何副作用。
var ErrSendRejected = errors.New("send rejected")

// Chat 是服务端会话记录的客户端视图。
type Chat struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	LatestMessage *Message  `json:"latestMessage,omitempty"`
}

// Message 是一条消息的客户端视图。Failed 是纯本地状态，
// 标记流式应答失败后被改写为错误说明的占位消息。
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Failed    bool      `json:"-"`
}

// envelope 对应服务端统一的响应包装。
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// messagePage 对应消息历史分页接口的 data 字段。
type messagePage struct {
	Messages []Message `json:"messages"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	HasMore  bool      `json:"hasMore"`
}

// Option 配置 Client 的可选项。
type Option func(*Client)

// WithHTTPClient 替换底层的 HTTP 客户端。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger 替换默认的空日志器。
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithContentCallback 注册增量文本回调，每收到一个 content 事件触发一次。
func WithContentCallback(fn func(fragment string)) Option {
	return func(c *Client) { c.onContent = fn }
}

// Client 是聊天服务的客户端。一个实例同一时刻至多一次在途发送。
type Client struct {
	baseURL   string
	http      *http.Client
	logger    *zap.SugaredLogger
	onContent func(fragment string)

	mu       sync.Mutex
	messages []Message
	page     int
	hasMore  bool
	sending  bool
}

// New 创建一个客户端。baseURL 指向服务端 API 前缀，
// 例如 http://localhost:3000/api/v1。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// 流式响应的持续时间由模型决定，客户端不设整体超时
		http:   &http.Client{},
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages 返回当前消息状态的副本。
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// HasMore 报告是否还有更早的历史页可加载。
func (c *Client) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// Sending 报告是否有一次在途发送。
func (c *Client) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// ListChats 返回当前用户的活跃会话列表。
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	data, err := c.request(ctx, http.MethodGet, "/chat", nil)
	if err != nil {
		return nil, err
	}
	var chats []Chat
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("failed to decode chat list: %w", err)
	}
	return chats, nil
}

// CreateChat 创建一个新会话，标题可以为空。
func (c *Client) CreateChat(ctx context.Context, title string) (*Chat, error) {
	body, _ := json.Marshal(map[string]string{"title": title})
	data, err := c.request(ctx, http.MethodPost, "/chat", body)
	if err != nil {
		return nil, err
	}
	var chat Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("failed to decode chat: %w", err)
	}
	return &chat, nil
}

// DeleteChat 软删除一个会话。
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	_, err := c.request(ctx, http.MethodDelete, "/chat/"+chatID, nil)
	return err
}

// LoadMessages 加载会话的第一页（最新一页）消息并重置分页状态。
func (c *Client) LoadMessages(ctx context.Context, chatID string) error {
	page, err := c.fetchPage(ctx, chatID, 1)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.messages = page.Messages
	c.page = page.Page
	c.hasMore = page.HasMore
	c.mu.Unlock()
	return nil
}

// LoadMoreMessages 加载更早的一页消息并拼接到现有消息之前。
func (c *Client) LoadMoreMessages(ctx context.Context, chatID string) error {
	c.mu.Lock()
	next := c.page + 1
	c.mu.Unlock()

	page, err := c.fetchPage(ctx, chatID, next)
	if err != nil {
		return err
	}
	c.mu.Lock()
	// 更早的消息排在现有消息前面，页内已经是时间升序
	c.messages = append(page.Messages, c.messages...)
	c.page = page.Page
	c.hasMore = page.HasMore
	c.mu.Unlock()
	return nil
}

// SendAndStream 发送一条消息并消费流式应答，期间更新消息状态。
// 前置校验失败返回 ErrSendRejected，不产生任何副作用；
// 其余任何失败都会把助手占位消息改写为错误说明。
// 无论结果如何，返回时在途标志一定已清除。
func (c *Client) SendAndStream(ctx context.Context, chatID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || chatID == "" {
		return ErrSendRejected
	}

	placeholderID := localID()
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendRejected
	}
	c.sending = true
	// 乐观插入：用户消息和空的助手占位消息在任何网络活动之前进入状态
	now := time.Now()
	c.messages = append(c.messages,
		Message{ID: localID(), ChatID: chatID, Role: "user", Content: text, CreatedAt: now},
		Message{ID: placeholderID, ChatID: chatID, Role: "assistant", CreatedAt: now},
	)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	if err := c.stream(ctx, chatID, text, placeholderID); err != nil {
		c.updatePlaceholder(placeholderID, func(m *Message) {
			m.Content = "回复失败: " + err.Error()
			m.Failed = true
		})
		return err
	}
	return nil
}

// updatePlaceholder 按 ID 定位占位消息并应用变更。流进行期间
// LoadMessages / LoadMoreMessages 可能替换或搬移消息列表，发送时
// 的位置下标不可靠；占位消息已被重载移除时变更静默丢弃。
func (c *Client) updatePlaceholder(id string, apply func(*Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == id {
			apply(&c.messages[i])
			return
		}
	}
}

// stream 发起流式请求并逐事件更新占位消息。
func (c *Client) stream(ctx context.Context, chatID, text, placeholderID string) error {
	body, _ := json.Marshal(map[string]string{"message": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/"+chatID+"/message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	dec := sse.NewDecoder(resp.Body)
	var acc strings.Builder
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			// 服务端没发 [DONE] 就关闭了流，将已有内容视为完整回复
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read stream: %w", err)
		}

		switch ev.Type {
		case sse.EventConnected:
			// 握手事件，无内容
		case sse.EventContent:
			acc.WriteString(ev.Data)
			content := acc.String()
			c.updatePlaceholder(placeholderID, func(m *Message) { m.Content = content })
			if c.onContent != nil {
				c.onContent(ev.Data)
			}
		case sse.EventError:
			return errors.New(ev.Data)
		case sse.EventDone:
			return nil
		case sse.EventSkip:
			c.logger.Warnf("跳过无法解析的事件负载: %s", ev.Data)
		}
	}
}

// fetchPage 请求消息历史的指定页。
func (c *Client) fetchPage(ctx context.Context, chatID string, page int) (*messagePage, error) {
	path := fmt.Sprintf("/chat/%s/messages?page=%d", chatID, page)
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var result messagePage
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode message page: %w", err)
	}
	return &result, nil
}

// request 发送一个非流式请求并解开响应包装，返回 data 字段。
func (c *Client) request(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var env envelope
		if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, env.Message)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}
	return env.Data, nil
}

// localID 为乐观插入的消息生成本地 ID，与服务端分配的 UUID 区分开。
func localID() string {
	return "local-" + uuid.NewString()
}
