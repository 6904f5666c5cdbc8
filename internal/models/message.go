package models

import (
	"time"

	"gorm.io/gorm"
)

type Message struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Client-side tracking
	ClientID string `gorm:"type:varchar(36);uniqueIndex:idx_client_author" json:"client_id"`

	ChannelID uint  `gorm:"not null;index:idx_channel_id" json:"channel_id"`
	AuthorID  uint  `gorm:"not null;uniqueIndex:idx_client_author;index" json:"author_id"`
	ParentID  *uint `gorm:"index" json:"parent_id"` // thread parent, null for top-level

	Body string `gorm:"type:text;not null" json:"body"`

	// Thread bookkeeping on the parent side
	ReplyCount  int        `gorm:"default:0" json:"reply_count"`
	LastReplyAt *time.Time `json:"last_reply_at"`

	// Edit/delete markers; id and channel never change once created.
	EditedAt *time.Time `json:"edited_at"`
	Version  int        `gorm:"default:1" json:"version"`

	Attachments []Attachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
}

type Attachment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	MessageID uint   `gorm:"not null;index" json:"message_id"`
	FileName  string `gorm:"size:255;not null" json:"file_name"`
	ObjectKey string `gorm:"size:512;not null" json:"object_key"`
	MimeType  string `gorm:"size:100" json:"mime_type"`
	ByteSize  int64  `json:"byte_size"`
}

// DeliveryMark records the first time a viewer's client received a message.
// The (message_id, user_id) pair is unique; duplicate writes are ignored.
type DeliveryMark struct {
	MessageID   uint      `gorm:"primaryKey" json:"message_id"`
	UserID      uint      `gorm:"primaryKey" json:"user_id"`
	DeliveredAt time.Time `gorm:"autoCreateTime" json:"delivered_at"`
}

type MessageResponse struct {
	ID          uint         `json:"id"`
	ClientID    string       `json:"client_id"`
	ChannelID   uint         `json:"channel_id"`
	AuthorID    uint         `json:"author_id"`
	ParentID    *uint        `json:"parent_id"`
	Body        string       `json:"body"`
	ReplyCount  int          `json:"reply_count"`
	LastReplyAt *time.Time   `json:"last_reply_at"`
	EditedAt    *time.Time   `json:"edited_at"`
	Version     int          `json:"version"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (m *Message) ToResponse() MessageResponse {
	return MessageResponse{
		ID:          m.ID,
		ClientID:    m.ClientID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.AuthorID,
		ParentID:    m.ParentID,
		Body:        m.Body,
		ReplyCount:  m.ReplyCount,
		LastReplyAt: m.LastReplyAt,
		EditedAt:    m.EditedAt,
		Version:     m.Version,
		Attachments: m.Attachments,
		CreatedAt:   m.CreatedAt,
	}
}
