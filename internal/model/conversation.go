// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 消息角色。一次成功的交互恰好产生一条 user 消息和一条 assistant 消息。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat 代表一个会话线程。删除是软删除：IsActive 置为 false，记录保留。
type Chat struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	UserID    string    `gorm:"type:varchar(36);index;not null" json:"userId"`
	IsActive  bool      `gorm:"not null;default:true" json:"isActive"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chat) TableName() string {
	return "chats"
}

// BeforeCreate 在入库前生成 UUID 主键。
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Message 代表会话中的一条消息，入库后不再变更。
// 重建模型上下文时按创建时间升序读取，分页展示时按降序读取。
type Message struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID    string    `gorm:"type:varchar(36);index;not null" json:"chatId"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate 在入库前生成 UUID 主键。
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
