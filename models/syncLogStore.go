package models

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
)

type GormSyncLogStore struct {
	db *gorm.DB
}

func NewSyncLogStore(db *gorm.DB) *GormSyncLogStore {
	return &GormSyncLogStore{db: db}
}

func (s *GormSyncLogStore) GetByID(ctx context.Context, id uint) (*QuickbooksSyncLog, error) {
	var rec QuickbooksSyncLog
	if err := s.db.WithContext(ctx).Take(&rec, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormSyncLogStore) FindByKey(ctx context.Context, txnType string, systemTxnId string, operation string, connectionId uint) (*QuickbooksSyncLog, error) {
	var rec QuickbooksSyncLog
	err := s.db.WithContext(ctx).
		Where("transaction_type = ? AND system_transaction_id = ? AND operation = ? AND connection_id = ?",
			txnType, systemTxnId, operation, connectionId).
		Take(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormSyncLogStore) Create(ctx context.Context, rec *QuickbooksSyncLog) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *GormSyncLogStore) UpdateByKey(ctx context.Context, txnType string, systemTxnId string, operation string, connectionId uint, fields map[string]interface{}) error {
	return s.db.WithContext(ctx).
		Model(&QuickbooksSyncLog{}).
		Where("transaction_type = ? AND system_transaction_id = ? AND operation = ? AND connection_id = ?",
			txnType, systemTxnId, operation, connectionId).
		Updates(fields).Error
}

func (s *GormSyncLogStore) ListByConnection(ctx context.Context, connectionId uint) ([]QuickbooksSyncLog, error) {
	var rows []QuickbooksSyncLog
	err := s.db.WithContext(ctx).
		Where("connection_id = ?", connectionId).
		Find(&rows).Error
	return rows, err
}

// SyncLogQuery carries the list-endpoint filters.
type SyncLogQuery struct {
	ConnectionId    uint
	Status          string
	Operation       string
	TransactionType string
	FromDate        *time.Time
	ToDate          *time.Time
	Search          string
	Page            int
	PageSize        int
}

func (s *GormSyncLogStore) Search(ctx context.Context, q SyncLogQuery) ([]QuickbooksSyncLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&QuickbooksSyncLog{}).Where("connection_id = ?", q.ConnectionId)
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.Operation != "" {
		query = query.Where("operation = ?", q.Operation)
	}
	if q.TransactionType != "" {
		query = query.Where("transaction_type = ?", q.TransactionType)
	}
	if q.FromDate != nil {
		query = query.Where("started_at >= ?", q.FromDate)
	}
	if q.ToDate != nil {
		query = query.Where("started_at <= ?", q.ToDate)
	}
	if term := strings.TrimSpace(q.Search); term != "" {
		like := "%" + term + "%"
		query = query.Where("system_transaction_id LIKE ? OR quickbooks_id LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var rows []QuickbooksSyncLog
	err := query.
		Order("started_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	return rows, total, err
}
