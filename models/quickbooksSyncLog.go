package models

import "time"

// QuickbooksSyncLog is a latest-attempt record: one row per
// (transaction_type, system_transaction_id, operation, connection_id).
// A repeated attempt updates the row in place; retry_count keeps the
// attempt cardinality visible after the history collapses.
type QuickbooksSyncLog struct {
	ID                  uint       `gorm:"primary_key" json:"id"`
	BusinessId          string     `gorm:"index;not null" json:"business_id"`
	TransactionType     string     `gorm:"uniqueIndex:idx_qb_sync_log,priority:1;size:20;not null" json:"transaction_type"`
	SystemTransactionId string     `gorm:"uniqueIndex:idx_qb_sync_log,priority:2;size:64;not null" json:"system_transaction_id"`
	Operation           string     `gorm:"uniqueIndex:idx_qb_sync_log,priority:3;size:20;not null" json:"operation"`
	ConnectionId        uint       `gorm:"uniqueIndex:idx_qb_sync_log,priority:4;not null" json:"connection_id"`
	QuickbooksId        string     `gorm:"size:64" json:"quickbooks_id"`
	Status              string     `gorm:"size:20;index;not null" json:"status"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at"`
	DurationMs          *int64     `json:"duration_ms"`
	RetryCount          int        `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries          int        `gorm:"not null;default:3" json:"max_retries"`
	NextRetryAt         *time.Time `json:"next_retry_at"`
	ErrorCode           string     `gorm:"size:64" json:"error_code"`
	ErrorMessage        string     `gorm:"type:text" json:"error_message"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
