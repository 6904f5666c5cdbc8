package models

import (
	"time"

	"gorm.io/gorm"
)

type ChannelRole string

const (
	RoleOwner     ChannelRole = "owner"
	RoleAdmin     ChannelRole = "admin"
	RoleModerator ChannelRole = "moderator"
	RoleMember    ChannelRole = "member"
)

// CanModerate reports whether the role may post in a moderators-only channel.
func (r ChannelRole) CanModerate() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleModerator
}

type Channel struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name  string `gorm:"size:100;not null" json:"name"`
	Topic string `gorm:"size:255" json:"topic"`

	// Posting restricted to owner/admin/moderator roles when set.
	ModeratorsOnly bool `gorm:"default:false" json:"moderators_only"`

	// Minimum interval between consecutive messages from the same author.
	// Zero disables slowmode.
	SlowmodeSeconds int `gorm:"default:0" json:"slowmode_seconds"`

	Members []ChannelMember `gorm:"foreignKey:ChannelID" json:"members,omitempty"`
}

// ChannelMember holds per-member channel state including the read cursor.
// last_read_message_id is monotonic: it only ever advances.
type ChannelMember struct {
	ChannelID uint        `gorm:"primaryKey" json:"channel_id"`
	UserID    uint        `gorm:"primaryKey" json:"user_id"`
	Role      ChannelRole `gorm:"type:varchar(20);default:'member'" json:"role"`
	Muted     bool        `gorm:"default:false" json:"muted"`

	LastReadMessageID uint       `gorm:"not null;default:0" json:"last_read_message_id"`
	LastReadAt        *time.Time `json:"last_read_at"`

	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`

	Channel Channel `gorm:"foreignKey:ChannelID" json:"-"`
}
