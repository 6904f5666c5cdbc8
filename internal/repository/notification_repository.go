package repository

import (
	"time"

	"github.com/colabhq/pulse/internal/models"
	"gorm.io/gorm"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) CreateBatch(notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return r.db.Create(&notifications).Error
}

func (r *NotificationRepository) ListUnreadByChannel(userID, channelID uint) ([]models.Notification, error) {
	var notifications []models.Notification
	err := r.db.Where("user_id = ? AND channel_id = ? AND read = false", userID, channelID).
		Order("message_id ASC").
		Find(&notifications).Error
	return notifications, err
}

// MarkRead flushes an explicit id set. Scoped to the owner so one user can
// never clear another user's records.
func (r *NotificationRepository) MarkRead(userID uint, ids []uint, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&models.Notification{}).
		Where("id IN ? AND user_id = ?", ids, userID).
		Updates(map[string]interface{}{
			"read":    true,
			"read_at": at,
		}).Error
}

// MarkReadUpTo marks every unread record for the channel whose message id is
// covered by the read cursor. Returns the number of records flushed.
func (r *NotificationRepository) MarkReadUpTo(userID, channelID, messageID uint, at time.Time) (int64, error) {
	res := r.db.Model(&models.Notification{}).
		Where("user_id = ? AND channel_id = ? AND message_id <= ? AND read = false",
			userID, channelID, messageID).
		Updates(map[string]interface{}{
			"read":    true,
			"read_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *NotificationRepository) CountUnread(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Notification{}).
		Where("user_id = ? AND read = false", userID).
		Count(&count).Error
	return count, err
}
