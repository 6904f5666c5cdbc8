package repository

import (
	"gorm.io/gorm"
)

type DeliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// MarkDelivered records the first delivery of a message to a viewer.
// Duplicate writes (reconnect replay, second transport) are ignored.
func (r *DeliveryRepository) MarkDelivered(messageID, userID uint) error {
	return r.db.Exec(`
		INSERT INTO delivery_marks (message_id, user_id, delivered_at)
		VALUES (?, ?, NOW())
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, messageID, userID).Error
}

func (r *DeliveryRepository) MarkDeliveredBatch(messageIDs []uint, userID uint) error {
	if len(messageIDs) == 0 {
		return nil
	}
	for _, id := range messageIDs {
		if err := r.MarkDelivered(id, userID); err != nil {
			return err
		}
	}
	return nil
}
