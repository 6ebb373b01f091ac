package models

const (
	SyncStatusPending    = "PENDING"
	SyncStatusInProgress = "IN_PROGRESS"
	SyncStatusSuccess    = "SUCCESS"
	SyncStatusFailed     = "FAILED"
	SyncStatusRetry      = "RETRY"
	SyncStatusCancelled  = "CANCELLED"
)

const (
	SyncTransactionTypeInvoice = "invoice"
	SyncTransactionTypePayment = "payment"
)

const (
	SyncOperationCreate = "create"
)

const (
	LineTypeItem       = "item"
	LineTypeTax        = "tax"
	LineTypeAdjustment = "adjustment"
)

// SyncEntryStatuses are the statuses from which a record may be picked up for
// a new sync attempt.
var SyncEntryStatuses = []string{SyncStatusPending, SyncStatusRetry}

// IsSyncEntryStatus reports whether a record in this status may be picked up
// for a new sync attempt.
func IsSyncEntryStatus(status string) bool {
	for _, s := range SyncEntryStatuses {
		if status == s {
			return true
		}
	}
	return false
}

func IsSyncStatus(status string) bool {
	switch status {
	case SyncStatusPending, SyncStatusInProgress, SyncStatusSuccess,
		SyncStatusFailed, SyncStatusRetry, SyncStatusCancelled:
		return true
	}
	return false
}
