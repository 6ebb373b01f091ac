package qbsync

import (
	"context"
	"math"
	"time"

	"bitbucket.org/mmdatafocus/books_qbsync/models"
)

// AuditLog maintains latest-attempt sync records: one row per attempt key,
// updated in place on every new attempt.
type AuditLog struct {
	store SyncLogStore
	now   func() time.Time
}

func NewAuditLog(store SyncLogStore) *AuditLog {
	return &AuditLog{store: store, now: time.Now}
}

// AttemptKey is the composite identity of a sync attempt record.
type AttemptKey struct {
	TransactionType     string
	SystemTransactionId string
	Operation           string
	ConnectionId        uint
	BusinessId          string
}

// AttemptDetail carries the outcome fields written alongside a status change.
type AttemptDetail struct {
	QuickbooksId string
	ErrorCode    string
	ErrorMessage string
	DurationMs   *int64
}

// RecordAttempt upserts the attempt row. A new IN_PROGRESS on an existing row
// restarts it (fresh started_at, bumped retry count, cleared outcome fields);
// any status leaving IN_PROGRESS stamps completed_at.
func (a *AuditLog) RecordAttempt(ctx context.Context, key AttemptKey, status string, detail AttemptDetail) error {
	now := a.now()

	existing, err := a.store.FindByKey(ctx, key.TransactionType, key.SystemTransactionId, key.Operation, key.ConnectionId)
	if err != nil {
		return err
	}

	if existing == nil {
		rec := &models.QuickbooksSyncLog{
			BusinessId:          key.BusinessId,
			TransactionType:     key.TransactionType,
			SystemTransactionId: key.SystemTransactionId,
			Operation:           key.Operation,
			ConnectionId:        key.ConnectionId,
			Status:              status,
			StartedAt:           now,
			QuickbooksId:        detail.QuickbooksId,
			ErrorCode:           detail.ErrorCode,
			ErrorMessage:        detail.ErrorMessage,
			DurationMs:          detail.DurationMs,
		}
		if status != models.SyncStatusInProgress {
			rec.CompletedAt = &now
		}
		err := a.store.Create(ctx, rec)
		if err == nil {
			return nil
		}
		// Lost an insert race with a concurrent attempt; fall through to the
		// update path.
		if !models.IsDuplicateKeyErr(err) {
			return err
		}
	}

	fields := map[string]interface{}{
		"status":        status,
		"error_code":    detail.ErrorCode,
		"error_message": detail.ErrorMessage,
	}
	if detail.QuickbooksId != "" {
		fields["quickbooks_id"] = detail.QuickbooksId
	}
	if status == models.SyncStatusInProgress {
		fields["started_at"] = now
		fields["completed_at"] = nil
		fields["duration_ms"] = nil
		fields["retry_count"] = existingRetryCount(existing) + 1
	} else {
		fields["completed_at"] = now
		if detail.DurationMs != nil {
			fields["duration_ms"] = *detail.DurationMs
		}
	}

	return a.store.UpdateByKey(ctx, key.TransactionType, key.SystemTransactionId, key.Operation, key.ConnectionId, fields)
}

func existingRetryCount(rec *models.QuickbooksSyncLog) int {
	if rec == nil {
		return 0
	}
	return rec.RetryCount
}

// Summary aggregates a connection's sync log.
type Summary struct {
	Total            int64            `json:"total"`
	ByStatus         map[string]int64 `json:"byStatus"`
	ByType           map[string]int64 `json:"byType"`
	ByOperation      map[string]int64 `json:"byOperation"`
	AvgDurationMs    int64            `json:"avgDurationMs"`
	Last24HoursCount int64            `json:"last24HoursCount"`
	SuccessRate      float64          `json:"successRate"`
}

// Statistics computes the summary over the connection's rows. Success rate is
// successful/total as a percentage, rounded to two decimals; the duration
// average only covers rows that recorded one.
func (a *AuditLog) Statistics(ctx context.Context, connectionId uint) (*Summary, error) {
	rows, err := a.store.ListByConnection(ctx, connectionId)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		ByStatus:    map[string]int64{},
		ByType:      map[string]int64{},
		ByOperation: map[string]int64{},
	}

	var durationSum int64
	var durationCount int64
	cutoff := a.now().Add(-24 * time.Hour)

	for _, row := range rows {
		summary.Total++
		summary.ByStatus[row.Status]++
		summary.ByType[row.TransactionType]++
		summary.ByOperation[row.Operation]++

		if row.DurationMs != nil {
			durationSum += *row.DurationMs
			durationCount++
		}
		if row.StartedAt.After(cutoff) {
			summary.Last24HoursCount++
		}
	}

	if durationCount > 0 {
		summary.AvgDurationMs = durationSum / durationCount
	}
	if summary.Total > 0 {
		rate := float64(summary.ByStatus[models.SyncStatusSuccess]) / float64(summary.Total) * 100
		summary.SuccessRate = math.Round(rate*100) / 100
	}
	return summary, nil
}
