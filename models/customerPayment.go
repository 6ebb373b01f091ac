package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CustomerPayment struct {
	ID                   uint            `gorm:"primary_key" json:"id"`
	BusinessId           string          `gorm:"index;not null" json:"business_id"`
	ConnectionId         uint            `gorm:"index;not null" json:"connection_id"`
	InvoiceId            uint            `gorm:"index;not null" json:"invoice_id"`
	PaymentNumber        string          `gorm:"size:100" json:"payment_number"`
	ReferenceNumber      string          `gorm:"size:100" json:"reference_number"`
	PaymentDate          time.Time       `json:"payment_date"`
	Amount               decimal.Decimal `gorm:"type:decimal(20,6)" json:"amount"`
	Notes                string          `gorm:"type:text" json:"notes"`
	QuickbooksCustomerId string          `gorm:"size:64" json:"quickbooks_customer_id"`
	DepositAccountRef    string          `gorm:"size:64" json:"deposit_account_ref"`
	// CachedQuickbooksInvoiceId may be stale or empty; the transformer resolves
	// the owning invoice's current remote id live and only falls back to this.
	CachedQuickbooksInvoiceId string `gorm:"size:64" json:"cached_quickbooks_invoice_id"`
	LinkedTxnsJSON            []byte `gorm:"type:json" json:"linked_txns"`
	QuickbooksId              string `gorm:"size:64;index" json:"quickbooks_id"`
	QuickbooksSyncToken       string `gorm:"size:64" json:"quickbooks_sync_token"`
	SyncStatus                string `gorm:"size:20;index;not null;default:PENDING" json:"sync_status"`
	LastSyncedAt              *time.Time `json:"last_synced_at"`
	CreatedAt                 time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
