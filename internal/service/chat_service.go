// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dalo-chat-go/internal/config"
	"dalo-chat-go/internal/model"
	"dalo-chat-go/internal/repository"
	"dalo-chat-go/pkg/ollama"

	"gorm.io/gorm"
)

// ChatSummary 是会话列表项：会话本身加上最近的一条消息。
type ChatSummary struct {
	model.Chat
	LatestMessage *model.Message `json:"latestMessage,omitempty"`
}

// MessagePage 是消息历史的一页，页内消息按时间升序排列。
type MessagePage struct {
	Messages []model.Message `json:"messages"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	Limit    int             `json:"limit"`
	HasMore  bool            `json:"hasMore"`
}

// ChatService 定义了会话管理的业务逻辑接口。
type ChatService interface {
	// CreateChat 创建一个新会话；活跃会话数达到上限时返回 ErrChatLimitReached。
	CreateChat(userID, title string) (*model.Chat, error)
	// ListChats 返回用户的活跃会话，按更新时间降序，各附带最近一条消息。
	ListChats(userID string) ([]ChatSummary, error)
	// DeleteChat 软删除一个会话并返回更新后的记录。
	DeleteChat(chatID string) (*model.Chat, error)
	// GetMessagePage 返回会话消息历史的一页：最新页在前，页内按时间升序。
	GetMessagePage(chatID string, page, limit int) (*MessagePage, error)
	// CheckModelHealth 探测模型服务是否可达。
	CheckModelHealth(ctx context.Context) bool
}

type chatService struct {
	chatRepo    repository.ChatRepository
	messageRepo repository.MessageRepository
	gateway     ollama.Client
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(chatRepo repository.ChatRepository, messageRepo repository.MessageRepository, gateway ollama.Client) ChatService {
	return &chatService{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		gateway:     gateway,
	}
}

// CreateChat 创建一个新会话。超出上限的创建被拒绝且不产生任何写入。
func (s *chatService) CreateChat(userID, title string) (*model.Chat, error) {
	count, err := s.chatRepo.CountActiveByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active chats: %w", err)
	}
	if count >= int64(config.Conf.Chat.MaxActiveChats) {
		return nil, ErrChatLimitReached
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = config.Conf.Chat.DefaultTitle
	}

	chat := &model.Chat{
		Title:    title,
		UserID:   userID,
		IsActive: true,
	}
	if err := s.chatRepo.Create(chat); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

// ListChats 返回用户的活跃会话列表，各附带最近一条消息。
func (s *chatService) ListChats(userID string) ([]ChatSummary, error) {
	chats, err := s.chatRepo.ListActiveByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	summaries := make([]ChatSummary, 0, len(chats))
	for _, chat := range chats {
		latest, err := s.messageRepo.FindLatestByChat(chat.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load latest message: %w", err)
		}
		summaries = append(summaries, ChatSummary{Chat: chat, LatestMessage: latest})
	}
	return summaries, nil
}

// DeleteChat 软删除一个会话：活跃标志清除，记录与消息保留。
func (s *chatService) DeleteChat(chatID string) (*model.Chat, error) {
	chat, err := s.chatRepo.SoftDelete(chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete chat: %w", err)
	}
	return chat, nil
}

// GetMessagePage 返回消息历史的一页。第 1 页是最新的消息，
// 页内反转为时间升序，方便调用方直接渲染。
func (s *chatService) GetMessagePage(chatID string, page, limit int) (*MessagePage, error) {
	if _, err := s.chatRepo.FindActiveByID(chatID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to find chat: %w", err)
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = config.Conf.Chat.DefaultPageSize
	}

	messages, total, err := s.messageRepo.FindWithPagination(chatID, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load message page: %w", err)
	}

	// 仓储按时间降序返回，页内反转为升序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return &MessagePage{
		Messages: messages,
		Total:    total,
		Page:     page,
		Limit:    limit,
		HasMore:  int64(page*limit) < total,
	}, nil
}

// CheckModelHealth 探测模型服务的可达性。
func (s *chatService) CheckModelHealth(ctx context.Context) bool {
	return s.gateway.CheckHealth(ctx)
}
