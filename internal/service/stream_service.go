// Package service 包含了应用的业务逻辑层。
package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"dalo-chat-go/internal/model"
	"dalo-chat-go/internal/repository"
	"dalo-chat-go/pkg/log"
	"dalo-chat-go/pkg/ollama"
	"dalo-chat-go/pkg/sse"

	"gorm.io/gorm"
)

// EventWriter 将一个完整的 SSE 帧写给客户端并立即冲刷。
// 写入失败意味着客户端已断开。
type EventWriter interface {
	WriteFrame(frame []byte) error
}

// StreamExchange 是一次已就绪的流式交互。PrepareStream 成功后，
// 调用方发出 SSE 响应头，再调用 Run 完成转发。
type StreamExchange interface {
	// Run 在响应头发出之后执行转发循环：发送 connected 握手事件，
	// 将上游的增量内容逐条下发，完成后落库助手消息并以 [DONE] 收尾。
	// 头已发出，此后的任何失败只能降级为流内 error 事件。
	Run(ctx context.Context, w EventWriter) error
}

// StreamService 定义了流式应答的业务逻辑接口。
type StreamService interface {
	// PrepareStream 完成响应头发出前的全部工作：获取会话级流式锁、
	// 校验会话、落库用户消息、加载完整历史并打开上游模型流。
	// 任何失败都会释放已获取的锁；用户消息一经落库不会回滚。
	PrepareStream(ctx context.Context, chatID, userText string) (StreamExchange, error)
}

type streamService struct {
	chatRepo    repository.ChatRepository
	messageRepo repository.MessageRepository
	lockRepo    repository.StreamLockRepository
	gateway     ollama.Client
}

// NewStreamService 创建一个新的 StreamService 实例。
func NewStreamService(chatRepo repository.ChatRepository, messageRepo repository.MessageRepository, lockRepo repository.StreamLockRepository, gateway ollama.Client) StreamService {
	return &streamService{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		lockRepo:    lockRepo,
		gateway:     gateway,
	}
}

// PrepareStream 见接口说明。副作用顺序是固定的：用户消息在模型调用
// 之前无条件落库，模型调用失败也不会丢失用户输入。
func (s *streamService) PrepareStream(ctx context.Context, chatID, userText string) (StreamExchange, error) {
	acquired, err := s.lockRepo.Acquire(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire stream lock: %w", err)
	}
	if !acquired {
		return nil, ErrStreamBusy
	}
	release := func() {
		// 请求上下文可能已取消，释放锁使用独立的上下文
		if err := s.lockRepo.Release(context.Background(), chatID); err != nil {
			log.Errorf("释放会话 %s 的流式锁失败: %v", chatID, err)
		}
	}

	chat, err := s.chatRepo.FindActiveByID(chatID)
	if err != nil {
		release()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to find chat: %w", err)
	}

	userMsg := &model.Message{
		ChatID:  chat.ID,
		Role:    model.RoleUser,
		Content: userText,
	}
	if err := s.messageRepo.Create(userMsg); err != nil {
		release()
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	history, err := s.messageRepo.ListByChatAsc(chat.ID)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	messages := make([]ollama.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, ollama.Message{Role: m.Role, Content: m.Content})
	}

	// 传入请求上下文：客户端断开时上游请求随之取消
	body, err := s.gateway.StreamChat(ctx, messages)
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	return &exchange{svc: s, chatID: chat.ID, body: body, release: release}, nil
}

// exchange 承载一次流式交互的转发状态。累积缓冲为本次交互独占。
type exchange struct {
	svc     *streamService
	chatID  string
	body    io.ReadCloser
	release func()
}

// Run 见 StreamExchange 接口说明。
func (e *exchange) Run(ctx context.Context, w EventWriter) error {
	defer e.release()
	defer e.body.Close()

	if err := w.WriteFrame(sse.ConnectedFrame()); err != nil {
		log.Infof("会话 %s 的客户端在握手前断开", e.chatID)
		return nil
	}

	var full strings.Builder
	reader := bufio.NewReader(e.body)

	for {
		if ctx.Err() != nil {
			// 客户端断开：停止下发，不落库部分内容
			log.Infof("会话 %s 的客户端已断开，中止转发", e.chatID)
			return nil
		}

		line, readErr := reader.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			chunk, ok := ollama.ParseChunk([]byte(trimmed))
			if !ok {
				// 单行解析失败只跳过，不中断整个流
				log.Warnf("跳过无法解析的模型响应行: %s", trimmed)
			} else {
				if chunk.Message.Content != "" {
					full.WriteString(chunk.Message.Content)
					if err := w.WriteFrame(sse.ContentFrame(chunk.Message.Content)); err != nil {
						log.Infof("会话 %s 的客户端已断开，中止转发", e.chatID)
						return nil
					}
				}
				if chunk.Done {
					break
				}
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("读取模型响应流失败: %v", readErr)
			e.fail(w, "AI服务暂时不可用，请稍后重试")
			return fmt.Errorf("failed to read from model stream: %w", readErr)
		}
	}

	// 正常完成：累积内容非空才落库助手消息
	if full.Len() > 0 {
		assistantMsg := &model.Message{
			ChatID:  e.chatID,
			Role:    model.RoleAssistant,
			Content: full.String(),
		}
		if err := e.svc.messageRepo.Create(assistantMsg); err != nil {
			log.Errorf("保存助手回复失败: %v", err)
			e.fail(w, "保存回复失败")
			return fmt.Errorf("failed to save assistant message: %w", err)
		}
		if err := e.svc.chatRepo.TouchUpdatedAt(e.chatID); err != nil {
			// 时间戳刷新失败不影响已完成的交互，只记录
			log.Errorf("刷新会话更新时间失败: %v", err)
		}
	}

	if err := w.WriteFrame(sse.DoneFrame()); err != nil {
		log.Infof("会话 %s 的客户端在收尾前断开", e.chatID)
	}
	return nil
}

// fail 尽力向仍然在线的客户端下发流内错误，然后以 [DONE] 收尾。
// 传输已断开时写入失败被吞掉，没有可通知的对象。
func (e *exchange) fail(w EventWriter, message string) {
	if err := w.WriteFrame(sse.ErrorFrame(message)); err != nil {
		return
	}
	_ = w.WriteFrame(sse.DoneFrame())
}
