package repository

import (
	"time"

	"github.com/colabhq/pulse/internal/models"
)

// ChannelRepositoryInterface defines the contract for channel and membership operations
type ChannelRepositoryInterface interface {
	FindByID(id uint) (*models.Channel, error)
	GetMember(channelID, userID uint) (*models.ChannelMember, error)
	IsMember(channelID, userID uint) (bool, error)
	ListMemberIDs(channelID uint) ([]uint, error)
	AddMember(channelID, userID uint, role models.ChannelRole) error
	RemoveMember(channelID, userID uint) error
	AdvanceReadCursor(channelID, userID, lastReadMessageID uint) error
}

// MessageRepositoryInterface defines the contract for message repository operations
type MessageRepositoryInterface interface {
	Create(message *models.Message) error
	FindByID(id uint) (*models.Message, error)
	FindByClientID(clientID string, authorID uint) (*models.Message, error)
	LatestByAuthor(channelID, authorID uint) (*models.Message, error)
	ListBefore(channelID uint, cursor uint, limit int) ([]models.Message, error)
	ListSince(channelID uint, sinceID uint, limit int) ([]models.Message, error)
	IncrementReplyCount(parentID uint, at time.Time) error
	CreateAttachments(attachments []models.Attachment) error
	CreateLinkPreviews(previews []models.LinkPreview) error
	UpdateBody(id uint, body string, at time.Time) error
	SoftDelete(id uint) error
}

// NotificationRepositoryInterface defines the contract for durable fan-out records
type NotificationRepositoryInterface interface {
	CreateBatch(notifications []models.Notification) error
	ListUnreadByChannel(userID, channelID uint) ([]models.Notification, error)
	MarkRead(userID uint, ids []uint, at time.Time) error
	MarkReadUpTo(userID, channelID, messageID uint, at time.Time) (int64, error)
	CountUnread(userID uint) (int64, error)
}

// DeliveryRepositoryInterface defines the contract for idempotent delivery marks
type DeliveryRepositoryInterface interface {
	MarkDelivered(messageID, userID uint) error
	MarkDeliveredBatch(messageIDs []uint, userID uint) error
}

// Repositories bundles the repository set bound to one database handle, so a
// transaction can expose transaction-scoped instances of all of them.
type Repositories struct {
	Channels      ChannelRepositoryInterface
	Messages      MessageRepositoryInterface
	Notifications NotificationRepositoryInterface
	Deliveries    DeliveryRepositoryInterface
}

// TxManager runs a function inside a single atomic transaction. Everything the
// function does through the passed Repositories commits or rolls back as one.
type TxManager interface {
	Transaction(fn func(r Repositories) error) error
}
