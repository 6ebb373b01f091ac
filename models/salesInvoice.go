package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SalesInvoice struct {
	ID                   uint                 `gorm:"primary_key" json:"id"`
	BusinessId           string               `gorm:"index;not null" json:"business_id"`
	ConnectionId         uint                 `gorm:"index;not null" json:"connection_id"`
	InvoiceNumber        string               `gorm:"size:100" json:"invoice_number"`
	CustomerName         string               `gorm:"size:255" json:"customer_name"`
	QuickbooksCustomerId string               `gorm:"size:64" json:"quickbooks_customer_id"`
	InvoiceDate          time.Time            `json:"invoice_date"`
	DueDate              *time.Time           `json:"due_date"`
	Notes                string               `gorm:"type:text" json:"notes"`
	InvoiceTotalAmount   decimal.Decimal      `gorm:"type:decimal(20,6)" json:"invoice_total_amount"`
	Details              []SalesInvoiceDetail `gorm:"foreignKey:InvoiceId" json:"details"`
	// QuickbooksId is set exactly once on successful creation; a non-empty
	// value marks the invoice as synced and blocks resubmission.
	QuickbooksId        string     `gorm:"size:64;index" json:"quickbooks_id"`
	QuickbooksSyncToken string     `gorm:"size:64" json:"quickbooks_sync_token"`
	SyncStatus          string     `gorm:"size:20;index;not null;default:PENDING" json:"sync_status"`
	LastSyncedAt        *time.Time `json:"last_synced_at"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type SalesInvoiceDetail struct {
	ID               uint            `gorm:"primary_key" json:"id"`
	InvoiceId        uint            `gorm:"index;not null" json:"invoice_id"`
	Name             string          `gorm:"size:255" json:"name"`
	LineType         string          `gorm:"size:20;not null;default:item" json:"line_type"`
	QuickbooksItemId string          `gorm:"size:64" json:"quickbooks_item_id"`
	DetailQty        decimal.Decimal `gorm:"type:decimal(20,6)" json:"detail_qty"`
	DetailUnitRate   decimal.Decimal `gorm:"type:decimal(20,6)" json:"detail_unit_rate"`
	DetailAmount     decimal.Decimal `gorm:"type:decimal(20,6)" json:"detail_amount"`
}
