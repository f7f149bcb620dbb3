package service

import (
	"context"
	"errors"
	"io"
	"strings"

	"dalo-chat-go/internal/model"
	"dalo-chat-go/pkg/ollama"

	"gorm.io/gorm"
)

// 本包测试共用的内存假实现，按调用记录副作用以便断言顺序。

type fakeChatRepo struct {
	chats       map[string]*model.Chat
	activeCount int64
	countErr    error
	createErr   error
	touched     []string
	touchErr    error
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{chats: make(map[string]*model.Chat)}
}

func (f *fakeChatRepo) Create(chat *model.Chat) error {
	if f.createErr != nil {
		return f.createErr
	}
	if chat.ID == "" {
		chat.ID = "chat-new"
	}
	f.chats[chat.ID] = chat
	return nil
}

func (f *fakeChatRepo) CountActiveByUser(userID string) (int64, error) {
	return f.activeCount, f.countErr
}

func (f *fakeChatRepo) FindActiveByID(id string) (*model.Chat, error) {
	chat, ok := f.chats[id]
	if !ok || !chat.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	return chat, nil
}

func (f *fakeChatRepo) ListActiveByUser(userID string) ([]model.Chat, error) {
	var out []model.Chat
	for _, c := range f.chats {
		if c.UserID == userID && c.IsActive {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeChatRepo) SoftDelete(id string) (*model.Chat, error) {
	chat, ok := f.chats[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	chat.IsActive = false
	return chat, nil
}

func (f *fakeChatRepo) TouchUpdatedAt(id string) error {
	f.touched = append(f.touched, id)
	return f.touchErr
}

type fakeMessageRepo struct {
	messages  []model.Message
	createErr error
	// createErrOn 只让第 N 次 Create 失败（从 1 开始计数），0 表示不限制
	createErrOn int
	createCalls int
	pageTotal   int64
}

func (f *fakeMessageRepo) Create(msg *model.Message) error {
	f.createCalls++
	if f.createErr != nil && (f.createErrOn == 0 || f.createErrOn == f.createCalls) {
		return f.createErr
	}
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeMessageRepo) ListByChatAsc(chatID string) ([]model.Message, error) {
	var out []model.Message
	for _, m := range f.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageRepo) FindWithPagination(chatID string, page, limit int) ([]model.Message, int64, error) {
	// 降序视图上做偏移，和真实仓储一致
	var desc []model.Message
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].ChatID == chatID {
			desc = append(desc, f.messages[i])
		}
	}
	total := f.pageTotal
	if total == 0 {
		total = int64(len(desc))
	}
	offset := (page - 1) * limit
	if offset >= len(desc) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(desc) {
		end = len(desc)
	}
	return desc[offset:end], total, nil
}

func (f *fakeMessageRepo) FindLatestByChat(chatID string) (*model.Message, error) {
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].ChatID == chatID {
			m := f.messages[i]
			return &m, nil
		}
	}
	return nil, nil
}

type fakeLock struct {
	held       bool
	acquireErr error
	acquires   int
	releases   int
}

func (f *fakeLock) Acquire(ctx context.Context, chatID string) (bool, error) {
	f.acquires++
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context, chatID string) error {
	f.releases++
	f.held = false
	return nil
}

type fakeGateway struct {
	healthy   bool
	streamErr error
	// body 作为模型响应流返回，按行 NDJSON；reader 优先于 body
	body    string
	reader  io.ReadCloser
	gotMsgs []ollama.Message
}

func (f *fakeGateway) StreamChat(ctx context.Context, messages []ollama.Message) (io.ReadCloser, error) {
	f.gotMsgs = messages
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if f.reader != nil {
		return f.reader, nil
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func (f *fakeGateway) CheckHealth(ctx context.Context) bool {
	return f.healthy
}

// captureWriter 记录写出的 SSE 帧；failAt 为 N 时第 N 次写入失败（从 1 计数）。
type captureWriter struct {
	frames []string
	failAt int
	calls  int
}

func (w *captureWriter) WriteFrame(frame []byte) error {
	w.calls++
	if w.failAt != 0 && w.calls >= w.failAt {
		return errors.New("client gone")
	}
	w.frames = append(w.frames, string(frame))
	return nil
}

// errReader 在输出固定前缀后返回一个非 EOF 的读取错误。
type errReader struct {
	prefix *strings.Reader
	err    error
}

func (r *errReader) Read(p []byte) (int, error) {
	if r.prefix.Len() > 0 {
		return r.prefix.Read(p)
	}
	return 0, r.err
}

func (r *errReader) Close() error { return nil }

var errBoom = errors.New("boom")
