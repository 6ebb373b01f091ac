package models

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// Gorm-backed stores. Components in qbsync consume these through interfaces
// they declare themselves; nothing below reaches for a global DB handle.

var ErrStaleConnection = errors.New("connection was modified concurrently")

func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

type GormConnectionStore struct {
	db *gorm.DB
}

func NewConnectionStore(db *gorm.DB) *GormConnectionStore {
	return &GormConnectionStore{db: db}
}

func (s *GormConnectionStore) Get(ctx context.Context, id uint) (*QuickbooksConnection, error) {
	var conn QuickbooksConnection
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&conn).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

func (s *GormConnectionStore) GetByRealm(ctx context.Context, realmId string) (*QuickbooksConnection, error) {
	var conn QuickbooksConnection
	err := s.db.WithContext(ctx).Where("realm_id = ?", realmId).Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (s *GormConnectionStore) GetByBusiness(ctx context.Context, businessId string) (*QuickbooksConnection, error) {
	var conn QuickbooksConnection
	err := s.db.WithContext(ctx).Where("business_id = ?", businessId).Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (s *GormConnectionStore) Create(ctx context.Context, conn *QuickbooksConnection) error {
	return s.db.WithContext(ctx).Create(conn).Error
}

// SaveTokens persists a rotated credential pair with a compare-and-swap on
// lock_version so two concurrent refreshes cannot clobber each other.
func (s *GormConnectionStore) SaveTokens(ctx context.Context, conn *QuickbooksConnection) error {
	res := s.db.WithContext(ctx).
		Model(&QuickbooksConnection{}).
		Where("id = ? AND lock_version = ?", conn.ID, conn.LockVersion).
		Updates(map[string]interface{}{
			"access_token":             conn.AccessToken,
			"refresh_token":            conn.RefreshToken,
			"access_token_expires_at":  conn.AccessTokenExpiresAt,
			"refresh_token_expires_at": conn.RefreshTokenExpiresAt,
			"connected":                conn.Connected,
			"connected_at":             conn.ConnectedAt,
			"disconnected_at":          conn.DisconnectedAt,
			"lock_version":             conn.LockVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleConnection
	}
	conn.LockVersion++
	return nil
}

func (s *GormConnectionStore) MarkDisconnected(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&QuickbooksConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"connected":       false,
			"disconnected_at": at,
		}).Error
}

type GormInvoiceStore struct {
	db *gorm.DB
}

func NewInvoiceStore(db *gorm.DB) *GormInvoiceStore {
	return &GormInvoiceStore{db: db}
}

func (s *GormInvoiceStore) Get(ctx context.Context, id uint) (*SalesInvoice, error) {
	var inv SalesInvoice
	err := s.db.WithContext(ctx).Preload("Details").Where("id = ?", id).Take(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *GormInvoiceStore) ListPending(ctx context.Context, connectionId uint) ([]SalesInvoice, error) {
	var invoices []SalesInvoice
	err := s.db.WithContext(ctx).
		Preload("Details").
		Where("connection_id = ? AND sync_status IN ? AND quickbooks_id = ''", connectionId, SyncEntryStatuses).
		Order("created_at ASC").
		Find(&invoices).Error
	return invoices, err
}

// Claim transitions the invoice to IN_PROGRESS only from an entry status, so
// two concurrent runs cannot both submit the same record.
func (s *GormInvoiceStore) Claim(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&SalesInvoice{}).
		Where("id = ? AND sync_status IN ?", id, SyncEntryStatuses).
		Update("sync_status", SyncStatusInProgress)
	return res.RowsAffected > 0, res.Error
}

// MarkSynced sets the remote id exactly once; the empty-string guard makes the
// column immutable after first assignment.
func (s *GormInvoiceStore) MarkSynced(ctx context.Context, id uint, quickbooksId string, syncToken string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&SalesInvoice{}).
		Where("id = ? AND quickbooks_id = ''", id).
		Updates(map[string]interface{}{
			"sync_status":           SyncStatusSuccess,
			"quickbooks_id":         quickbooksId,
			"quickbooks_sync_token": syncToken,
			"last_synced_at":        at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("quickbooks id already set")
	}
	return nil
}

func (s *GormInvoiceStore) MarkFailed(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&SalesInvoice{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_status":    SyncStatusFailed,
			"last_synced_at": at,
		}).Error
}

func (s *GormInvoiceStore) MarkRetry(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).
		Model(&SalesInvoice{}).
		Where("id = ? AND sync_status = ?", id, SyncStatusFailed).
		Update("sync_status", SyncStatusRetry).Error
}

// QuickbooksIdFor reads the invoice's current remote id without loading the
// whole record; used by the payment transformer for live reference resolution.
func (s *GormInvoiceStore) QuickbooksIdFor(ctx context.Context, id uint) (string, error) {
	var qbId string
	err := s.db.WithContext(ctx).
		Model(&SalesInvoice{}).
		Where("id = ?", id).
		Pluck("quickbooks_id", &qbId).Error
	return qbId, err
}

type GormPaymentStore struct {
	db *gorm.DB
}

func NewPaymentStore(db *gorm.DB) *GormPaymentStore {
	return &GormPaymentStore{db: db}
}

func (s *GormPaymentStore) Get(ctx context.Context, id uint) (*CustomerPayment, error) {
	var pmt CustomerPayment
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&pmt).Error; err != nil {
		return nil, err
	}
	return &pmt, nil
}

func (s *GormPaymentStore) ListPending(ctx context.Context, connectionId uint) ([]CustomerPayment, error) {
	var payments []CustomerPayment
	err := s.db.WithContext(ctx).
		Where("connection_id = ? AND sync_status IN ? AND quickbooks_id = ''", connectionId, SyncEntryStatuses).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

func (s *GormPaymentStore) Claim(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&CustomerPayment{}).
		Where("id = ? AND sync_status IN ?", id, SyncEntryStatuses).
		Update("sync_status", SyncStatusInProgress)
	return res.RowsAffected > 0, res.Error
}

func (s *GormPaymentStore) MarkSynced(ctx context.Context, id uint, quickbooksId string, syncToken string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&CustomerPayment{}).
		Where("id = ? AND quickbooks_id = ''", id).
		Updates(map[string]interface{}{
			"sync_status":           SyncStatusSuccess,
			"quickbooks_id":         quickbooksId,
			"quickbooks_sync_token": syncToken,
			"last_synced_at":        at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("quickbooks id already set")
	}
	return nil
}

func (s *GormPaymentStore) MarkFailed(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&CustomerPayment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_status":    SyncStatusFailed,
			"last_synced_at": at,
		}).Error
}

func (s *GormPaymentStore) MarkRetry(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).
		Model(&CustomerPayment{}).
		Where("id = ? AND sync_status = ?", id, SyncStatusFailed).
		Update("sync_status", SyncStatusRetry).Error
}
