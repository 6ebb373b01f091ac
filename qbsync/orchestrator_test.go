package qbsync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/books_qbsync/config"
	"bitbucket.org/mmdatafocus/books_qbsync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingInvoice(id uint, valid bool) *models.SalesInvoice {
	inv := &models.SalesInvoice{
		ID:            id,
		BusinessId:    "biz-1",
		ConnectionId:  1,
		InvoiceNumber: fmt.Sprintf("INV-%03d", id),
		InvoiceDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if valid {
		inv.QuickbooksCustomerId = "42"
		inv.InvoiceTotalAmount = dec("10")
		inv.Details = []models.SalesInvoiceDetail{
			{Name: "Widget", LineType: models.LineTypeItem, QuickbooksItemId: "7",
				DetailQty: dec("1"), DetailUnitRate: dec("10"), DetailAmount: dec("10")},
		}
	}
	return inv
}

func newOrchestratorFixture(remote *fakeRemote, invoices ...*models.SalesInvoice) (*Orchestrator, *syncFixture) {
	fx := newSyncFixture(remote, invoices...)
	orch := NewOrchestrator(fx.invoices, fx.payments, fx.syncer, config.GetLogger())
	orch.pause = func(ctx context.Context, d time.Duration) error { return nil }
	return orch, fx
}

func TestSyncAllPendingInvoices_AllSucceed(t *testing.T) {
	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-1", SyncToken: "0"}}
	orch, _ := newOrchestratorFixture(remote,
		pendingInvoice(1, true), pendingInvoice(2, true), pendingInvoice(3, true))

	result, err := orch.SyncAllPendingInvoices(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.SuccessCount)
	assert.Equal(t, 0, result.FailureCount)
	assert.Equal(t, BatchClassificationSuccess, result.Classification)
	assert.Len(t, result.Items, 3)
}

func TestSyncAllPendingInvoices_ConservationAndIsolation(t *testing.T) {
	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-1", SyncToken: "0"}}
	orch, fx := newOrchestratorFixture(remote,
		pendingInvoice(1, true), pendingInvoice(2, false), pendingInvoice(3, true))

	result, err := orch.SyncAllPendingInvoices(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, result.Total, result.SuccessCount+result.FailureCount)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	assert.Equal(t, BatchClassificationPartial, result.Classification)

	// The invalid record failed without blocking its neighbors.
	inv1, _ := fx.invoices.Get(context.Background(), 1)
	inv2, _ := fx.invoices.Get(context.Background(), 2)
	inv3, _ := fx.invoices.Get(context.Background(), 3)
	assert.Equal(t, models.SyncStatusSuccess, inv1.SyncStatus)
	assert.Equal(t, models.SyncStatusFailed, inv2.SyncStatus)
	assert.Equal(t, models.SyncStatusSuccess, inv3.SyncStatus)
}

func TestSyncAllPendingInvoices_AllFail(t *testing.T) {
	remote := &fakeRemote{err: &RemoteFault{Code: "6240", Detail: "dup"}}
	orch, _ := newOrchestratorFixture(remote,
		pendingInvoice(1, true), pendingInvoice(2, true))

	result, err := orch.SyncAllPendingInvoices(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, result.FailureCount)
	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, BatchClassificationFailure, result.Classification)
}

func TestSyncAllPendingInvoices_PicksUpRetriedRecords(t *testing.T) {
	retried := pendingInvoice(1, true)
	retried.SyncStatus = models.SyncStatusRetry

	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-1", SyncToken: "0"}}
	orch, fx := newOrchestratorFixture(remote, retried, pendingInvoice(2, true))

	result, err := orch.SyncAllPendingInvoices(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.SuccessCount)

	stored, err := fx.invoices.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, stored.SyncStatus)
	assert.Equal(t, "qb-1", stored.QuickbooksId)
}

func TestSyncAllPendingInvoices_NothingPending(t *testing.T) {
	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-1"}}
	orch, _ := newOrchestratorFixture(remote)

	result, err := orch.SyncAllPendingInvoices(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Total)
	assert.Equal(t, BatchClassificationNone, result.Classification)
}

func TestSyncAllPendingInvoices_PausesBetweenBatches(t *testing.T) {
	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-1", SyncToken: "0"}}

	invoices := make([]*models.SalesInvoice, 0, 12)
	for id := uint(1); id <= 12; id++ {
		invoices = append(invoices, pendingInvoice(id, true))
	}
	orch, _ := newOrchestratorFixture(remote, invoices...)

	var pauses []time.Duration
	orch.pause = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	result, err := orch.SyncAllPendingInvoices(context.Background(), 1)
	require.NoError(t, err)

	// Twelve records in batches of ten means one pause between two batches.
	assert.Equal(t, 12, result.SuccessCount)
	require.Len(t, pauses, 1)
	assert.Equal(t, 2*time.Second, pauses[0])
}

func TestSyncAllPendingInvoices_CancellationStopsFurtherBatches(t *testing.T) {
	remote := &fakeRemote{result: &RemoteResult{QuickbooksId: "qb-1", SyncToken: "0"}}

	invoices := make([]*models.SalesInvoice, 0, 12)
	for id := uint(1); id <= 12; id++ {
		invoices = append(invoices, pendingInvoice(id, true))
	}
	orch, _ := newOrchestratorFixture(remote, invoices...)
	orch.pause = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	result, err := orch.SyncAllPendingInvoices(context.Background(), 1)
	require.NoError(t, err)

	// First batch of ten ran; the remaining two count as failures.
	assert.Equal(t, 12, result.Total)
	assert.Equal(t, 10, result.SuccessCount)
	assert.Equal(t, 2, result.FailureCount)
	assert.Equal(t, BatchClassificationPartial, result.Classification)
	assert.Equal(t, "CANCELLED", result.Items[10].ErrorCode)
	assert.Equal(t, "CANCELLED", result.Items[11].ErrorCode)
	assert.EqualValues(t, 10, remote.callCount())
}

func TestClassifyBatch(t *testing.T) {
	assert.Equal(t, BatchClassificationNone, classifyBatch(0, 0, 0))
	assert.Equal(t, BatchClassificationSuccess, classifyBatch(3, 3, 0))
	assert.Equal(t, BatchClassificationPartial, classifyBatch(3, 2, 1))
	assert.Equal(t, BatchClassificationFailure, classifyBatch(3, 0, 3))
}
