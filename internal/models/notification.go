package models

import "time"

// Notification is the durable fan-out record written per destination member
// when a message is created. The client ledger lists unread records per
// channel and marks them read when the read cursor advances, so badges never
// ghost after the in-memory state is cleared.
type Notification struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID    uint `gorm:"not null;index:idx_user_channel_read" json:"user_id"`
	ChannelID uint `gorm:"not null;index:idx_user_channel_read" json:"channel_id"`
	MessageID uint `gorm:"not null;index" json:"message_id"`

	IsMention bool `gorm:"default:false" json:"is_mention"`

	Read   bool       `gorm:"default:false;index:idx_user_channel_read" json:"read"`
	ReadAt *time.Time `json:"read_at"`
}

type LinkPreviewStatus string

const (
	LinkPreviewPending  LinkPreviewStatus = "pending"
	LinkPreviewResolved LinkPreviewStatus = "resolved"
	LinkPreviewFailed   LinkPreviewStatus = "failed"
)

// LinkPreview is seeded as a placeholder by the message pipeline for each URL
// in a message body. Resolution happens asynchronously outside this service.
type LinkPreview struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	MessageID uint              `gorm:"not null;index" json:"message_id"`
	URL       string            `gorm:"size:2048;not null" json:"url"`
	Status    LinkPreviewStatus `gorm:"type:varchar(20);default:'pending'" json:"status"`

	Title       string `gorm:"size:255" json:"title"`
	Description string `gorm:"size:512" json:"description"`
	ImageURL    string `gorm:"size:2048" json:"image_url"`
}
