package qbsync

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/books_qbsync/models"
)

// In-memory store fakes shared across the package tests. They mirror the
// conditional-update semantics of the gorm stores so the state machine can be
// tested without a database.

type fakeConnStore struct {
	mu              sync.Mutex
	conns           map[uint]*models.QuickbooksConnection
	saveCalls       int
	staleOnNextSave bool
}

func newFakeConnStore(conns ...*models.QuickbooksConnection) *fakeConnStore {
	s := &fakeConnStore{conns: map[uint]*models.QuickbooksConnection{}}
	for _, c := range conns {
		s.conns[c.ID] = c
	}
	return s
}

func (s *fakeConnStore) Get(ctx context.Context, id uint) (*models.QuickbooksConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return nil, errors.New("connection not found")
	}
	copied := *conn
	return &copied, nil
}

func (s *fakeConnStore) GetByRealm(ctx context.Context, realmId string) (*models.QuickbooksConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		if conn.RealmId == realmId {
			copied := *conn
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeConnStore) GetByBusiness(ctx context.Context, businessId string) (*models.QuickbooksConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		if conn.BusinessId == businessId {
			copied := *conn
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeConnStore) Create(ctx context.Context, conn *models.QuickbooksConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn.ID == 0 {
		conn.ID = uint(len(s.conns) + 1)
	}
	copied := *conn
	s.conns[conn.ID] = &copied
	return nil
}

func (s *fakeConnStore) SaveTokens(ctx context.Context, conn *models.QuickbooksConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.staleOnNextSave {
		s.staleOnNextSave = false
		return models.ErrStaleConnection
	}
	stored, ok := s.conns[conn.ID]
	if !ok {
		return errors.New("connection not found")
	}
	if stored.LockVersion != conn.LockVersion {
		return models.ErrStaleConnection
	}
	copied := *conn
	copied.LockVersion++
	s.conns[conn.ID] = &copied
	conn.LockVersion = copied.LockVersion
	return nil
}

func (s *fakeConnStore) MarkDisconnected(ctx context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return errors.New("connection not found")
	}
	conn.Connected = false
	conn.DisconnectedAt = &at
	return nil
}

type fakeInvoiceStore struct {
	mu       sync.Mutex
	invoices map[uint]*models.SalesInvoice
}

func newFakeInvoiceStore(invoices ...*models.SalesInvoice) *fakeInvoiceStore {
	s := &fakeInvoiceStore{invoices: map[uint]*models.SalesInvoice{}}
	for _, inv := range invoices {
		if inv.SyncStatus == "" {
			inv.SyncStatus = models.SyncStatusPending
		}
		s.invoices[inv.ID] = inv
	}
	return s
}

func (s *fakeInvoiceStore) Get(ctx context.Context, id uint) (*models.SalesInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, errors.New("invoice not found")
	}
	copied := *inv
	return &copied, nil
}

func (s *fakeInvoiceStore) ListPending(ctx context.Context, connectionId uint) ([]models.SalesInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SalesInvoice
	for id := uint(1); id <= uint(len(s.invoices))+100; id++ {
		inv, ok := s.invoices[id]
		if !ok {
			continue
		}
		if inv.ConnectionId == connectionId && models.IsSyncEntryStatus(inv.SyncStatus) && inv.QuickbooksId == "" {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (s *fakeInvoiceStore) Claim(ctx context.Context, id uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return false, nil
	}
	if !models.IsSyncEntryStatus(inv.SyncStatus) {
		return false, nil
	}
	inv.SyncStatus = models.SyncStatusInProgress
	return true, nil
}

func (s *fakeInvoiceStore) MarkSynced(ctx context.Context, id uint, quickbooksId string, syncToken string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return errors.New("invoice not found")
	}
	if inv.QuickbooksId != "" {
		return errors.New("invoice already has a quickbooks id")
	}
	inv.QuickbooksId = quickbooksId
	inv.QuickbooksSyncToken = syncToken
	inv.SyncStatus = models.SyncStatusSuccess
	inv.LastSyncedAt = &at
	return nil
}

func (s *fakeInvoiceStore) MarkFailed(ctx context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return errors.New("invoice not found")
	}
	inv.SyncStatus = models.SyncStatusFailed
	inv.LastSyncedAt = &at
	return nil
}

func (s *fakeInvoiceStore) MarkRetry(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return errors.New("invoice not found")
	}
	if inv.SyncStatus != models.SyncStatusFailed {
		return errors.New("only failed invoices can be retried")
	}
	inv.SyncStatus = models.SyncStatusRetry
	return nil
}

func (s *fakeInvoiceStore) QuickbooksIdFor(ctx context.Context, id uint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return "", nil
	}
	return inv.QuickbooksId, nil
}

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[uint]*models.CustomerPayment
}

func newFakePaymentStore(payments ...*models.CustomerPayment) *fakePaymentStore {
	s := &fakePaymentStore{payments: map[uint]*models.CustomerPayment{}}
	for _, pmt := range payments {
		if pmt.SyncStatus == "" {
			pmt.SyncStatus = models.SyncStatusPending
		}
		s.payments[pmt.ID] = pmt
	}
	return s
}

func (s *fakePaymentStore) Get(ctx context.Context, id uint) (*models.CustomerPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pmt, ok := s.payments[id]
	if !ok {
		return nil, errors.New("payment not found")
	}
	copied := *pmt
	return &copied, nil
}

func (s *fakePaymentStore) ListPending(ctx context.Context, connectionId uint) ([]models.CustomerPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CustomerPayment
	for id := uint(1); id <= uint(len(s.payments))+100; id++ {
		pmt, ok := s.payments[id]
		if !ok {
			continue
		}
		if pmt.ConnectionId == connectionId && models.IsSyncEntryStatus(pmt.SyncStatus) && pmt.QuickbooksId == "" {
			out = append(out, *pmt)
		}
	}
	return out, nil
}

func (s *fakePaymentStore) Claim(ctx context.Context, id uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pmt, ok := s.payments[id]
	if !ok {
		return false, nil
	}
	if !models.IsSyncEntryStatus(pmt.SyncStatus) {
		return false, nil
	}
	pmt.SyncStatus = models.SyncStatusInProgress
	return true, nil
}

func (s *fakePaymentStore) MarkSynced(ctx context.Context, id uint, quickbooksId string, syncToken string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pmt, ok := s.payments[id]
	if !ok {
		return errors.New("payment not found")
	}
	if pmt.QuickbooksId != "" {
		return errors.New("payment already has a quickbooks id")
	}
	pmt.QuickbooksId = quickbooksId
	pmt.QuickbooksSyncToken = syncToken
	pmt.SyncStatus = models.SyncStatusSuccess
	pmt.LastSyncedAt = &at
	return nil
}

func (s *fakePaymentStore) MarkFailed(ctx context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pmt, ok := s.payments[id]
	if !ok {
		return errors.New("payment not found")
	}
	pmt.SyncStatus = models.SyncStatusFailed
	pmt.LastSyncedAt = &at
	return nil
}

func (s *fakePaymentStore) MarkRetry(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pmt, ok := s.payments[id]
	if !ok {
		return errors.New("payment not found")
	}
	if pmt.SyncStatus != models.SyncStatusFailed {
		return errors.New("only failed payments can be retried")
	}
	pmt.SyncStatus = models.SyncStatusRetry
	return nil
}

type fakeLogStore struct {
	mu     sync.Mutex
	nextId uint
	rows   []*models.QuickbooksSyncLog
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{nextId: 1}
}

func (s *fakeLogStore) find(txnType, systemTxnId, operation string, connectionId uint) *models.QuickbooksSyncLog {
	for _, row := range s.rows {
		if row.TransactionType == txnType && row.SystemTransactionId == systemTxnId &&
			row.Operation == operation && row.ConnectionId == connectionId {
			return row
		}
	}
	return nil
}

func (s *fakeLogStore) GetByID(ctx context.Context, id uint) (*models.QuickbooksSyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == id {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeLogStore) FindByKey(ctx context.Context, txnType string, systemTxnId string, operation string, connectionId uint) (*models.QuickbooksSyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.find(txnType, systemTxnId, operation, connectionId)
	if row == nil {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (s *fakeLogStore) Create(ctx context.Context, rec *models.QuickbooksSyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.find(rec.TransactionType, rec.SystemTransactionId, rec.Operation, rec.ConnectionId); existing != nil {
		return errors.New("duplicate sync log key")
	}
	rec.ID = s.nextId
	s.nextId++
	copied := *rec
	s.rows = append(s.rows, &copied)
	return nil
}

func (s *fakeLogStore) UpdateByKey(ctx context.Context, txnType string, systemTxnId string, operation string, connectionId uint, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.find(txnType, systemTxnId, operation, connectionId)
	if row == nil {
		return errors.New("sync log not found")
	}
	for field, value := range fields {
		switch field {
		case "status":
			row.Status = value.(string)
		case "error_code":
			row.ErrorCode = value.(string)
		case "error_message":
			row.ErrorMessage = value.(string)
		case "quickbooks_id":
			row.QuickbooksId = value.(string)
		case "started_at":
			row.StartedAt = value.(time.Time)
		case "completed_at":
			if value == nil {
				row.CompletedAt = nil
			} else {
				at := value.(time.Time)
				row.CompletedAt = &at
			}
		case "duration_ms":
			if value == nil {
				row.DurationMs = nil
			} else {
				ms := value.(int64)
				row.DurationMs = &ms
			}
		case "retry_count":
			row.RetryCount = value.(int)
		}
	}
	return nil
}

func (s *fakeLogStore) ListByConnection(ctx context.Context, connectionId uint) ([]models.QuickbooksSyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QuickbooksSyncLog
	for _, row := range s.rows {
		if row.ConnectionId == connectionId {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *fakeLogStore) Search(ctx context.Context, q models.SyncLogQuery) ([]models.QuickbooksSyncLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QuickbooksSyncLog
	for _, row := range s.rows {
		if row.ConnectionId != q.ConnectionId {
			continue
		}
		if q.Status != "" && row.Status != q.Status {
			continue
		}
		if q.TransactionType != "" && row.TransactionType != q.TransactionType {
			continue
		}
		out = append(out, *row)
	}
	return out, int64(len(out)), nil
}

func (s *fakeLogStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeLogStore) rowFor(txnType string, systemId uint, connectionId uint) *models.QuickbooksSyncLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.find(txnType, strconv.FormatUint(uint64(systemId), 10), models.SyncOperationCreate, connectionId)
	if row == nil {
		return nil
	}
	copied := *row
	return &copied
}
