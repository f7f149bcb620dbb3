// Package repository 提供了数据访问层的实现。
package repository

import (
	"errors"

	"dalo-chat-go/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 接口定义了消息数据的持久化操作。
type MessageRepository interface {
	Create(msg *model.Message) error
	// ListByChatAsc 按创建时间升序返回会话的全部消息，用于重建模型上下文。
	ListByChatAsc(chatID string) ([]model.Message, error)
	// FindWithPagination 按创建时间降序分页返回消息（page 从 1 开始）。
	// 它返回消息列表、总记录数和可能发生的错误。
	FindWithPagination(chatID string, page, limit int) ([]model.Message, int64, error)
	// FindLatestByChat 返回会话最近的一条消息；没有消息时返回 (nil, nil)。
	FindLatestByChat(chatID string) (*model.Message, error)
}

// messageRepository 是 MessageRepository 接口的 GORM 实现。
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create 在数据库中创建一条新的消息记录。
func (r *messageRepository) Create(msg *model.Message) error {
	return r.db.Create(msg).Error
}

// ListByChatAsc 按创建时间升序返回会话的全部消息。
func (r *messageRepository) ListByChatAsc(chatID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

// FindWithPagination 分页检索消息记录，最新的排在前面。
func (r *messageRepository) FindWithPagination(chatID string, page, limit int) ([]model.Message, int64, error) {
	var messages []model.Message
	var total int64

	db := r.db.Model(&model.Message{}).Where("chat_id = ?", chatID)

	// 首先计算总记录数
	err := db.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	// 然后根据偏移量和限制获取当前页的数据
	offset := (page - 1) * limit
	err = db.Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// FindLatestByChat 返回会话最近的一条消息。
func (r *messageRepository) FindLatestByChat(chatID string) (*model.Message, error) {
	var msg model.Message
	err := r.db.Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
