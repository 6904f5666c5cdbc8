package repository

import (
	"time"

	"github.com/colabhq/pulse/internal/models"
	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(message *models.Message) error {
	return r.db.Create(message).Error
}

func (r *MessageRepository) FindByID(id uint) (*models.Message, error) {
	var message models.Message
	err := r.db.Preload("Attachments").First(&message, id).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) FindByClientID(clientID string, authorID uint) (*models.Message, error) {
	var message models.Message
	err := r.db.Where("client_id = ? AND author_id = ?", clientID, authorID).First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// LatestByAuthor returns the author's most recent message in a channel, used
// for the slowmode precondition. Returns gorm.ErrRecordNotFound when the
// author never posted there.
func (r *MessageRepository) LatestByAuthor(channelID, authorID uint) (*models.Message, error) {
	var message models.Message
	err := r.db.Where("channel_id = ? AND author_id = ?", channelID, authorID).
		Order("id DESC").
		First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) ListBefore(channelID uint, cursor uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	q := r.db.Preload("Attachments").Where("channel_id = ?", channelID)
	if cursor > 0 {
		q = q.Where("id < ?", cursor)
	}
	err := q.Order("id DESC").Limit(limit).Find(&messages).Error

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, err
}

// ListSince is the pull-based catch-up query a client runs after a stream
// gap. Ordered ascending by id so the client replays in channel order.
func (r *MessageRepository) ListSince(channelID uint, sinceID uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.Preload("Attachments").
		Where("channel_id = ? AND id > ?", channelID, sinceID).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *MessageRepository) IncrementReplyCount(parentID uint, at time.Time) error {
	return r.db.Model(&models.Message{}).Where("id = ?", parentID).
		Updates(map[string]interface{}{
			"reply_count":   gorm.Expr("reply_count + 1"),
			"last_reply_at": at,
		}).Error
}

func (r *MessageRepository) CreateAttachments(attachments []models.Attachment) error {
	if len(attachments) == 0 {
		return nil
	}
	return r.db.Create(&attachments).Error
}

func (r *MessageRepository) CreateLinkPreviews(previews []models.LinkPreview) error {
	if len(previews) == 0 {
		return nil
	}
	return r.db.Create(&previews).Error
}

func (r *MessageRepository) UpdateBody(id uint, body string, at time.Time) error {
	return r.db.Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"body":      body,
			"edited_at": at,
			"version":   gorm.Expr("version + 1"),
		}).Error
}

func (r *MessageRepository) SoftDelete(id uint) error {
	return r.db.Delete(&models.Message{}, id).Error
}
