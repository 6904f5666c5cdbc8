package repository

import (
	"fmt"
	"os"

	"github.com/colabhq/pulse/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func InitDB() (*gorm.DB, error) {
	// Build connection string
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_SSLMODE"),
	)

	// Connect to database
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Auto-migrate models
	if err := db.AutoMigrate(
		&models.Channel{},
		&models.ChannelMember{},
		&models.Message{},
		&models.Attachment{},
		&models.DeliveryMark{},
		&models.LinkPreview{},
		&models.Notification{},
	); err != nil {
		return nil, err
	}

	return db, nil
}
