package db

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/db/models"
)

// InitDB opens the SQLite database and runs migrations. The glebarez driver
// is pure Go, so builds stay cgo-free.
func InitDB(dbPath string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := conn.AutoMigrate(&models.RequestLog{}); err != nil {
		return nil, err
	}
	return conn, nil
}
