package db

import (
	"fmt"

	"github.com/router-for-me/gatewayconsole/internal/models"
	"gorm.io/gorm"
)

// Migrate creates the statistics tables when they do not exist. The gateway
// owns these tables in production; this serves local setups and tests.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
	if errAutoMigrate := conn.AutoMigrate(&models.RequestStat{}, &models.ChannelStat{}); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	// Composite indexes back the per-key time-range scans.
	for name, stmt := range map[string]string{
		"request_stats key/time": `CREATE INDEX IF NOT EXISTS idx_request_stats_key_time ON request_stats (api_key, timestamp)`,
		"channel_stats key/time": `CREATE INDEX IF NOT EXISTS idx_channel_stats_key_time ON channel_stats (api_key, timestamp)`,
	} {
		if errIndex := conn.Exec(stmt).Error; errIndex != nil {
			return fmt.Errorf("db: create %s index: %w", name, errIndex)
		}
	}
	return nil
}
