package qbsync

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/books_qbsync/models"
)

// Store interfaces consumed by the sync components. The gorm implementations
// live in models; tests inject in-memory fakes.

type ConnectionStore interface {
	Get(ctx context.Context, id uint) (*models.QuickbooksConnection, error)
	GetByRealm(ctx context.Context, realmId string) (*models.QuickbooksConnection, error)
	GetByBusiness(ctx context.Context, businessId string) (*models.QuickbooksConnection, error)
	Create(ctx context.Context, conn *models.QuickbooksConnection) error
	SaveTokens(ctx context.Context, conn *models.QuickbooksConnection) error
	MarkDisconnected(ctx context.Context, id uint, at time.Time) error
}

type InvoiceStore interface {
	Get(ctx context.Context, id uint) (*models.SalesInvoice, error)
	ListPending(ctx context.Context, connectionId uint) ([]models.SalesInvoice, error)
	Claim(ctx context.Context, id uint) (bool, error)
	MarkSynced(ctx context.Context, id uint, quickbooksId string, syncToken string, at time.Time) error
	MarkFailed(ctx context.Context, id uint, at time.Time) error
	MarkRetry(ctx context.Context, id uint) error
	QuickbooksIdFor(ctx context.Context, id uint) (string, error)
}

type PaymentStore interface {
	Get(ctx context.Context, id uint) (*models.CustomerPayment, error)
	ListPending(ctx context.Context, connectionId uint) ([]models.CustomerPayment, error)
	Claim(ctx context.Context, id uint) (bool, error)
	MarkSynced(ctx context.Context, id uint, quickbooksId string, syncToken string, at time.Time) error
	MarkFailed(ctx context.Context, id uint, at time.Time) error
	MarkRetry(ctx context.Context, id uint) error
}

type SyncLogStore interface {
	GetByID(ctx context.Context, id uint) (*models.QuickbooksSyncLog, error)
	FindByKey(ctx context.Context, txnType string, systemTxnId string, operation string, connectionId uint) (*models.QuickbooksSyncLog, error)
	Create(ctx context.Context, rec *models.QuickbooksSyncLog) error
	UpdateByKey(ctx context.Context, txnType string, systemTxnId string, operation string, connectionId uint, fields map[string]interface{}) error
	ListByConnection(ctx context.Context, connectionId uint) ([]models.QuickbooksSyncLog, error)
	Search(ctx context.Context, q models.SyncLogQuery) ([]models.QuickbooksSyncLog, int64, error)
}
