package qbsync

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/books_qbsync/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	batchSize      = 10
	batchWorkers   = 3
	batchPauseTime = 2 * time.Second
)

const (
	BatchClassificationNone    = "none"
	BatchClassificationSuccess = "success"
	BatchClassificationPartial = "partial"
	BatchClassificationFailure = "failure"
)

// BatchResult aggregates the outcome of one sync run.
type BatchResult struct {
	TransactionType string       `json:"transactionType"`
	Total           int          `json:"total"`
	SuccessCount    int          `json:"successCount"`
	FailureCount    int          `json:"failureCount"`
	Classification  string       `json:"classification"`
	Items           []SyncResult `json:"items"`
}

// Orchestrator fans pending records out to the syncer in fixed-size batches.
// Records within a batch run concurrently; batches run one after another with
// a pause between them to stay inside the remote's throttling limits.
type Orchestrator struct {
	invoices InvoiceStore
	payments PaymentStore
	syncer   *Syncer
	logger   *logrus.Logger
	pause    func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(invoices InvoiceStore, payments PaymentStore, syncer *Syncer, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		invoices: invoices,
		payments: payments,
		syncer:   syncer,
		logger:   logger,
		pause:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) SyncAllPendingInvoices(ctx context.Context, connectionId uint) (*BatchResult, error) {
	invoices, err := o.invoices.ListPending(ctx, connectionId)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
	}
	return o.run(ctx, models.SyncTransactionTypeInvoice, ids)
}

func (o *Orchestrator) SyncAllPendingPayments(ctx context.Context, connectionId uint) (*BatchResult, error) {
	payments, err := o.payments.ListPending(ctx, connectionId)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(payments))
	for _, pmt := range payments {
		ids = append(ids, pmt.ID)
	}
	return o.run(ctx, models.SyncTransactionTypePayment, ids)
}

func (o *Orchestrator) run(ctx context.Context, txnType string, ids []uint) (*BatchResult, error) {
	result := &BatchResult{
		TransactionType: txnType,
		Total:           len(ids),
		Items:           make([]SyncResult, len(ids)),
	}

	for start := 0; start < len(ids); start += batchSize {
		if start > 0 {
			if err := o.pause(ctx, batchPauseTime); err != nil {
				// Cancelled mid-run: everything not yet attempted counts as a
				// failure so conservation over the full set still holds.
				for i := start; i < len(ids); i++ {
					result.Items[i] = SyncResult{
						TransactionType:     txnType,
						SystemTransactionId: ids[i],
						ErrorKind:           ErrKindInternal,
						ErrorCode:           "CANCELLED",
						ErrorMessage:        err.Error(),
					}
				}
				break
			}
		}

		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		group := errgroup.Group{}
		group.SetLimit(batchWorkers)
		for i := start; i < end; i++ {
			i := i
			group.Go(func() error {
				result.Items[i] = o.syncer.SyncOne(ctx, txnType, ids[i])
				return nil
			})
		}
		_ = group.Wait()
	}

	for _, item := range result.Items {
		if item.Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}
	result.Classification = classifyBatch(result.Total, result.SuccessCount, result.FailureCount)

	o.logger.WithFields(logrus.Fields{
		"module":          "qbsync",
		"transactionType": txnType,
		"total":           result.Total,
		"success":         result.SuccessCount,
		"failure":         result.FailureCount,
		"classification":  result.Classification,
	}).Info("sync run completed")

	return result, nil
}

func classifyBatch(total, success, failure int) string {
	switch {
	case total == 0:
		return BatchClassificationNone
	case failure == 0:
		return BatchClassificationSuccess
	case success == 0:
		return BatchClassificationFailure
	default:
		return BatchClassificationPartial
	}
}
