package repository

import (
	"errors"

	"github.com/colabhq/pulse/internal/models"
	"gorm.io/gorm"
)

type ChannelRepository struct {
	db *gorm.DB
}

func NewChannelRepository(db *gorm.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

func (r *ChannelRepository) FindByID(id uint) (*models.Channel, error) {
	var channel models.Channel
	err := r.db.First(&channel, id).Error
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (r *ChannelRepository) GetMember(channelID, userID uint) (*models.ChannelMember, error) {
	var member models.ChannelMember
	err := r.db.Where("channel_id = ? AND user_id = ?", channelID, userID).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *ChannelRepository) IsMember(channelID, userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.ChannelMember{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *ChannelRepository) ListMemberIDs(channelID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.ChannelMember{}).
		Where("channel_id = ?", channelID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *ChannelRepository) AddMember(channelID, userID uint, role models.ChannelRole) error {
	return r.db.Exec(`
		INSERT INTO channel_members (channel_id, user_id, role, muted, last_read_message_id, joined_at)
		VALUES (?, ?, ?, false, 0, NOW())
		ON CONFLICT (channel_id, user_id) DO NOTHING
	`, channelID, userID, role).Error
}

func (r *ChannelRepository) RemoveMember(channelID, userID uint) error {
	return r.db.Where("channel_id = ? AND user_id = ?", channelID, userID).
		Delete(&models.ChannelMember{}).Error
}

// AdvanceReadCursor moves the member's read cursor forward. The cursor is
// monotonic: a stale cursor from a lagging tab can never move it backwards.
func (r *ChannelRepository) AdvanceReadCursor(channelID, userID, lastReadMessageID uint) error {
	res := r.db.Exec(`
		UPDATE channel_members
		SET last_read_message_id = GREATEST(last_read_message_id, ?),
			last_read_at = NOW()
		WHERE channel_id = ? AND user_id = ?
	`, lastReadMessageID, channelID, userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("membership not found")
	}
	return nil
}
