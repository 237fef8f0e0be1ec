package models

import "time"

// RequestStat is one completed request as recorded by the gateway.
type RequestStat struct {
	ID                int64     `gorm:"primaryKey;autoIncrement"`                 // Row identifier.
	RequestID         string    `gorm:"column:request_id;type:varchar(255);index"` // Gateway request identifier, may be empty.
	Endpoint          string    `gorm:"type:varchar(255);index"`                   // Method and path, e.g. "POST /v1/chat/completions".
	ClientIP          string    `gorm:"column:client_ip;type:varchar(64)"`         // Caller address.
	ProcessTime       float64   `gorm:"not null;default:0"`                        // Total processing time in seconds.
	FirstResponseTime float64   `gorm:"not null;default:0"`                        // Time to first byte in seconds.
	Provider          string    `gorm:"type:varchar(255);index"`                   // Upstream provider name.
	Model             string    `gorm:"type:varchar(255);index"`                   // Model display name.
	APIKey            string    `gorm:"column:api_key;type:varchar(255);index"`    // Gateway credential used.
	PromptTokens      int64     `gorm:"not null;default:0"`                        // Input tokens.
	CompletionTokens  int64     `gorm:"not null;default:0"`                        // Output tokens.
	TotalTokens       int64     `gorm:"not null;default:0"`                        // Prompt plus completion tokens.
	Text              string    `gorm:"type:text"`                                 // Prompt excerpt.
	Timestamp         time.Time `gorm:"not null;index"`                            // Completion time.
}

// TableName overrides the default table name.
func (RequestStat) TableName() string {
	return "request_stats"
}

// ChannelStat is one upstream call attempt.
type ChannelStat struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	RequestID string    `gorm:"column:request_id;type:varchar(255);index"`
	Provider  string    `gorm:"type:varchar(255);index"`
	Model     string    `gorm:"type:varchar(255);index"`
	APIKey    string    `gorm:"column:api_key;type:varchar(255);index"`
	Success   bool      `gorm:"not null;default:false"` // Whether the upstream call succeeded.
	Timestamp time.Time `gorm:"not null;index"`
}

// TableName overrides the default table name.
func (ChannelStat) TableName() string {
	return "channel_stats"
}
