package qbsync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/books_qbsync/config"
	"bitbucket.org/mmdatafocus/books_qbsync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) GetValidAccessToken(ctx context.Context, connectionId uint) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeRemote struct {
	calls  int32
	result *RemoteResult
	err    error
}

func (f *fakeRemote) Create(ctx context.Context, realmId string, entity string, payload interface{}, accessToken string) (*RemoteResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	return &res, nil
}

func (f *fakeRemote) callCount() int32 {
	return atomic.LoadInt32(&f.calls)
}

type syncFixture struct {
	invoices *fakeInvoiceStore
	payments *fakePaymentStore
	conns    *fakeConnStore
	logs     *fakeLogStore
	remote   *fakeRemote
	syncer   *Syncer
}

func newSyncFixture(remote *fakeRemote, invoices ...*models.SalesInvoice) *syncFixture {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	conns := newFakeConnStore(activeConnection(now))
	invStore := newFakeInvoiceStore(invoices...)
	pmtStore := newFakePaymentStore()
	logs := newFakeLogStore()

	logger := config.GetLogger()
	audit := NewAuditLog(logs)
	syncer := NewSyncer(invStore, pmtStore, conns, &fakeTokens{token: "access-1"}, remote,
		NewTransformer(invStore), audit, logger)

	return &syncFixture{
		invoices: invStore,
		payments: pmtStore,
		conns:    conns,
		logs:     logs,
		remote:   remote,
		syncer:   syncer,
	}
}

func TestSyncInvoice_Success(t *testing.T) {
	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-101", SyncToken: "0"}}
	fx := newSyncFixture(remote, invoiceWithTax())

	result := fx.syncer.SyncInvoice(context.Background(), 1)

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, "qb-101", result.QuickbooksId)
	assert.EqualValues(t, 1, remote.callCount())

	inv, err := fx.invoices.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "qb-101", inv.QuickbooksId)
	assert.Equal(t, "0", inv.QuickbooksSyncToken)
	assert.Equal(t, models.SyncStatusSuccess, inv.SyncStatus)
	require.NotNil(t, inv.LastSyncedAt)

	row := fx.logs.rowFor(models.SyncTransactionTypeInvoice, 1, 1)
	require.NotNil(t, row)
	assert.Equal(t, models.SyncStatusSuccess, row.Status)
	assert.Equal(t, "qb-101", row.QuickbooksId)
	assert.Equal(t, "biz-1", row.BusinessId)
	require.NotNil(t, row.CompletedAt)
	require.NotNil(t, row.DurationMs)
}

func TestSyncInvoice_AlreadySyncedLeavesStateUntouched(t *testing.T) {
	inv := invoiceWithTax()
	inv.QuickbooksId = "qb-existing"
	inv.SyncStatus = models.SyncStatusSuccess

	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-new"}}
	fx := newSyncFixture(remote, inv)

	result := fx.syncer.SyncInvoice(context.Background(), 1)

	assert.False(t, result.Success)
	assert.True(t, result.AlreadySynced)
	assert.Equal(t, ErrCodeAlreadySynced, result.ErrorCode)
	assert.Equal(t, "qb-existing", result.QuickbooksId)

	// No remote call, no audit row, no entity writes.
	assert.EqualValues(t, 0, remote.callCount())
	assert.Equal(t, 0, fx.logs.rowCount())

	stored, err := fx.invoices.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "qb-existing", stored.QuickbooksId)
	assert.Equal(t, models.SyncStatusSuccess, stored.SyncStatus)
}

func TestSyncInvoice_RemoteFaultMarksFailed(t *testing.T) {
	remote := &fakeRemote{err: &RemoteFault{Code: "6240", Detail: "Duplicate Document Number Error"}}
	fx := newSyncFixture(remote, invoiceWithTax())

	result := fx.syncer.SyncInvoice(context.Background(), 1)

	assert.False(t, result.Success)
	assert.Equal(t, ErrKindFault, result.ErrorKind)
	assert.Equal(t, "6240", result.ErrorCode)

	inv, err := fx.invoices.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, inv.SyncStatus)
	assert.Empty(t, inv.QuickbooksId)

	row := fx.logs.rowFor(models.SyncTransactionTypeInvoice, 1, 1)
	require.NotNil(t, row)
	assert.Equal(t, models.SyncStatusFailed, row.Status)
	assert.Equal(t, "6240", row.ErrorCode)
	assert.Contains(t, row.ErrorMessage, "Duplicate Document Number Error")
}

func TestSyncInvoice_TransformFailureNeverCallsRemote(t *testing.T) {
	inv := invoiceWithTax()
	inv.InvoiceTotalAmount = dec("999")

	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-1"}}
	fx := newSyncFixture(remote, inv)

	result := fx.syncer.SyncInvoice(context.Background(), 1)

	assert.False(t, result.Success)
	assert.Equal(t, ErrKindValidation, result.ErrorKind)
	assert.Equal(t, "AMOUNT_MISMATCH", result.ErrorCode)
	assert.EqualValues(t, 0, remote.callCount())

	stored, err := fx.invoices.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, stored.SyncStatus)
}

func TestSyncInvoice_NotClaimableSkipsAuditAndRemote(t *testing.T) {
	inv := invoiceWithTax()
	inv.SyncStatus = models.SyncStatusInProgress

	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-1"}}
	fx := newSyncFixture(remote, inv)

	result := fx.syncer.SyncInvoice(context.Background(), 1)

	assert.False(t, result.Success)
	assert.Equal(t, "NOT_SYNCABLE", result.ErrorCode)
	assert.EqualValues(t, 0, remote.callCount())
	assert.Equal(t, 0, fx.logs.rowCount())
}

func TestSyncInvoice_AuthFailure(t *testing.T) {
	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-1"}}
	fx := newSyncFixture(remote, invoiceWithTax())
	fx.syncer.tokens = &fakeTokens{err: ErrAuthExpired}

	result := fx.syncer.SyncInvoice(context.Background(), 1)

	assert.False(t, result.Success)
	assert.Equal(t, ErrKindAuth, result.ErrorKind)
	assert.Equal(t, "AUTH_EXPIRED", result.ErrorCode)
	assert.EqualValues(t, 0, remote.callCount())
}

func TestSyncInvoice_RetryBumpsRetryCount(t *testing.T) {
	remote := &fakeRemote{err: &RemoteFault{Code: "6240", Detail: "dup"}}
	fx := newSyncFixture(remote, invoiceWithTax())

	_ = fx.syncer.SyncInvoice(context.Background(), 1)
	require.NoError(t, fx.invoices.MarkRetry(context.Background(), 1))

	fx.remote.err = nil
	fx.remote.result = &RemoteResult{QuickbooksId: "qb-101", SyncToken: "0"}
	result := fx.syncer.SyncInvoice(context.Background(), 1)
	require.True(t, result.Success, result.ErrorMessage)

	// Latest-attempt log: still one row, now successful, with the retry counted.
	assert.Equal(t, 1, fx.logs.rowCount())
	row := fx.logs.rowFor(models.SyncTransactionTypeInvoice, 1, 1)
	require.NotNil(t, row)
	assert.Equal(t, models.SyncStatusSuccess, row.Status)
	assert.Equal(t, 1, row.RetryCount)
}

func TestSyncPayment_Success(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	conns := newFakeConnStore(activeConnection(now))
	invoices := newFakeInvoiceStore(&models.SalesInvoice{ID: 5, QuickbooksId: "qb-inv-9", SyncStatus: models.SyncStatusSuccess})
	payments := newFakePaymentStore(&models.CustomerPayment{
		ID:                   3,
		BusinessId:           "biz-1",
		ConnectionId:         1,
		InvoiceId:            5,
		PaymentNumber:        "PAY-003",
		QuickbooksCustomerId: "42",
		Amount:               dec("50.00"),
		PaymentDate:          now,
	})
	logs := newFakeLogStore()
	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-pay-1", SyncToken: "0"}}

	syncer := NewSyncer(invoices, payments, conns, &fakeTokens{token: "access-1"}, remote,
		NewTransformer(invoices), NewAuditLog(logs), config.GetLogger())

	result := syncer.SyncPayment(context.Background(), 3)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, "qb-pay-1", result.QuickbooksId)
	assert.Equal(t, "PAY-003", result.Label)

	pmt, err := payments.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "qb-pay-1", pmt.QuickbooksId)
	assert.Equal(t, models.SyncStatusSuccess, pmt.SyncStatus)

	row := logs.rowFor(models.SyncTransactionTypePayment, 3, 1)
	require.NotNil(t, row)
	assert.Equal(t, models.SyncStatusSuccess, row.Status)
}
