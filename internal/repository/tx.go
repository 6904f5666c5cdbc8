package repository

import "gorm.io/gorm"

// NewRepositories binds the full repository set to one database handle.
func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Channels:      NewChannelRepository(db),
		Messages:      NewMessageRepository(db),
		Notifications: NewNotificationRepository(db),
		Deliveries:    NewDeliveryRepository(db),
	}
}

type GormTxManager struct {
	db *gorm.DB
}

func NewGormTxManager(db *gorm.DB) *GormTxManager {
	return &GormTxManager{db: db}
}

func (m *GormTxManager) Transaction(fn func(r Repositories) error) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
