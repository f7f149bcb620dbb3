// Package repository 提供了数据访问层的实现。
package repository

import (
	"time"

	"dalo-chat-go/internal/model"

	"gorm.io/gorm"
)

// ChatRepository 接口定义了会话数据的持久化操作。
type ChatRepository interface {
	Create(chat *model.Chat) error
	CountActiveByUser(userID string) (int64, error)
	// FindActiveByID 只查找活跃会话，软删除的记录视为不存在。
	FindActiveByID(id string) (*model.Chat, error)
	// ListActiveByUser 按更新时间降序返回用户的活跃会话。
	ListActiveByUser(userID string) ([]model.Chat, error)
	// SoftDelete 清除活跃标志并返回更新后的记录，行本身保留。
	SoftDelete(id string) (*model.Chat, error)
	// TouchUpdatedAt 刷新会话的更新时间戳。
	TouchUpdatedAt(id string) error
}

// chatRepository 是 ChatRepository 接口的 GORM 实现。
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// Create 在数据库中创建一个新的会话记录。
func (r *chatRepository) Create(chat *model.Chat) error {
	return r.db.Create(chat).Error
}

// CountActiveByUser 统计用户当前持有的活跃会话数量。
func (r *chatRepository) CountActiveByUser(userID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Chat{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&count).Error
	return count, err
}

// FindActiveByID 根据 ID 查找一个活跃会话。
func (r *chatRepository) FindActiveByID(id string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.Where("id = ? AND is_active = ?", id, true).First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListActiveByUser 返回用户的全部活跃会话，最近更新的排在前面。
func (r *chatRepository) ListActiveByUser(userID string) ([]model.Chat, error) {
	var chats []model.Chat
	err := r.db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("updated_at DESC").
		Find(&chats).Error
	return chats, err
}

// SoftDelete 将会话的活跃标志置为 false。找不到记录时返回 gorm.ErrRecordNotFound。
func (r *chatRepository) SoftDelete(id string) (*model.Chat, error) {
	res := r.db.Model(&model.Chat{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	var chat model.Chat
	if err := r.db.First(&chat, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

// TouchUpdatedAt 将会话的更新时间戳刷新为当前时间。
func (r *chatRepository) TouchUpdatedAt(id string) error {
	return r.db.Model(&model.Chat{}).Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}
