package qbsync

import (
	"context"
	"errors"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/books_qbsync/config"
	"bitbucket.org/mmdatafocus/books_qbsync/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AccessTokenProvider is the slice of TokenManager the syncer needs.
type AccessTokenProvider interface {
	GetValidAccessToken(ctx context.Context, connectionId uint) (string, error)
}

// RemoteCreator is the slice of Client the syncer needs.
type RemoteCreator interface {
	Create(ctx context.Context, realmId string, entity string, payload interface{}, accessToken string) (*RemoteResult, error)
}

// SyncResult is the per-record outcome. Failures are results, not errors, so
// batch aggregation can continue past them.
type SyncResult struct {
	TransactionType     string `json:"transactionType"`
	SystemTransactionId uint   `json:"systemTransactionId"`
	Label               string `json:"label"`
	Success             bool   `json:"success"`
	AlreadySynced       bool   `json:"alreadySynced,omitempty"`
	QuickbooksId        string `json:"quickbooksId,omitempty"`
	ErrorKind           string `json:"errorKind,omitempty"`
	ErrorCode           string `json:"errorCode,omitempty"`
	ErrorMessage        string `json:"errorMessage,omitempty"`
	DurationMs          int64  `json:"durationMs"`
}

// Syncer drives the per-record lifecycle PENDING/RETRY -> IN_PROGRESS ->
// SUCCESS|FAILED and owns all writes to the entities' sync fields.
type Syncer struct {
	invoices    InvoiceStore
	payments    PaymentStore
	conns       ConnectionStore
	tokens      AccessTokenProvider
	client      RemoteCreator
	transformer *Transformer
	audit       *AuditLog
	logger      *logrus.Logger
	now         func() time.Time
}

func NewSyncer(invoices InvoiceStore, payments PaymentStore, conns ConnectionStore, tokens AccessTokenProvider, client RemoteCreator, transformer *Transformer, audit *AuditLog, logger *logrus.Logger) *Syncer {
	return &Syncer{
		invoices:    invoices,
		payments:    payments,
		conns:       conns,
		tokens:      tokens,
		client:      client,
		transformer: transformer,
		audit:       audit,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Syncer) SyncOne(ctx context.Context, txnType string, id uint) SyncResult {
	switch txnType {
	case models.SyncTransactionTypePayment:
		return s.SyncPayment(ctx, id)
	default:
		return s.SyncInvoice(ctx, id)
	}
}

func (s *Syncer) SyncInvoice(ctx context.Context, id uint) SyncResult {
	result := SyncResult{
		TransactionType:     models.SyncTransactionTypeInvoice,
		SystemTransactionId: id,
	}

	inv, err := s.invoices.Get(ctx, id)
	if err != nil {
		return s.loadFailure(result, err)
	}
	result.Label = inv.InvoiceNumber

	// Idempotency guard: a non-empty remote id marks the invoice as synced.
	// No state change and no audit write; the existing row stays as-is.
	if inv.QuickbooksId != "" {
		result.AlreadySynced = true
		result.QuickbooksId = inv.QuickbooksId
		result.ErrorKind = ErrKindValidation
		result.ErrorCode = ErrCodeAlreadySynced
		result.ErrorMessage = ErrAlreadySynced.Error()
		return result
	}

	return s.submit(ctx, submission{
		result:       result,
		connectionId: inv.ConnectionId,
		businessId:   inv.BusinessId,
		endpoint:     "invoice",
		claim:        func() (bool, error) { return s.invoices.Claim(ctx, id) },
		buildPayload: func() (interface{}, error) { return s.transformer.InvoicePayload(inv) },
		markSynced: func(remote *RemoteResult, at time.Time) error {
			return s.invoices.MarkSynced(ctx, id, remote.QuickbooksId, remote.SyncToken, at)
		},
		markFailed: func(at time.Time) error { return s.invoices.MarkFailed(ctx, id, at) },
	})
}

func (s *Syncer) SyncPayment(ctx context.Context, id uint) SyncResult {
	result := SyncResult{
		TransactionType:     models.SyncTransactionTypePayment,
		SystemTransactionId: id,
	}

	pmt, err := s.payments.Get(ctx, id)
	if err != nil {
		return s.loadFailure(result, err)
	}
	result.Label = pmt.PaymentNumber

	if pmt.QuickbooksId != "" {
		result.AlreadySynced = true
		result.QuickbooksId = pmt.QuickbooksId
		result.ErrorKind = ErrKindValidation
		result.ErrorCode = ErrCodeAlreadySynced
		result.ErrorMessage = ErrAlreadySynced.Error()
		return result
	}

	return s.submit(ctx, submission{
		result:       result,
		connectionId: pmt.ConnectionId,
		businessId:   pmt.BusinessId,
		endpoint:     "payment",
		claim:        func() (bool, error) { return s.payments.Claim(ctx, id) },
		buildPayload: func() (interface{}, error) { return s.transformer.PaymentPayload(ctx, pmt) },
		markSynced: func(remote *RemoteResult, at time.Time) error {
			return s.payments.MarkSynced(ctx, id, remote.QuickbooksId, remote.SyncToken, at)
		},
		markFailed: func(at time.Time) error { return s.payments.MarkFailed(ctx, id, at) },
	})
}

type submission struct {
	result       SyncResult
	connectionId uint
	businessId   string
	endpoint     string
	claim        func() (bool, error)
	buildPayload func() (interface{}, error)
	markSynced   func(remote *RemoteResult, at time.Time) error
	markFailed   func(at time.Time) error
}

func (s *Syncer) submit(ctx context.Context, sub submission) SyncResult {
	result := sub.result
	started := s.now()

	key := AttemptKey{
		TransactionType:     result.TransactionType,
		SystemTransactionId: strconv.FormatUint(uint64(result.SystemTransactionId), 10),
		Operation:           models.SyncOperationCreate,
		ConnectionId:        sub.connectionId,
		BusinessId:          sub.businessId,
	}

	claimed, err := sub.claim()
	if err != nil {
		return s.failWithoutEntityWrite(result, err)
	}
	if !claimed {
		result.ErrorKind = ErrKindValidation
		result.ErrorCode = "NOT_SYNCABLE"
		result.ErrorMessage = "record is not in a syncable status"
		return result
	}

	if err := s.audit.RecordAttempt(ctx, key, models.SyncStatusInProgress, AttemptDetail{}); err != nil {
		config.LogError(s.logger, "qbsync", "submit", "record in-progress attempt", key, err)
	}

	remote, err := s.attempt(ctx, sub)
	duration := s.now().Sub(started).Milliseconds()
	result.DurationMs = duration
	attemptedAt := s.now()

	if err != nil {
		kind, code := classifyError(err)
		result.ErrorKind = kind
		result.ErrorCode = code
		result.ErrorMessage = err.Error()

		if markErr := sub.markFailed(attemptedAt); markErr != nil {
			config.LogError(s.logger, "qbsync", "submit", "mark record failed", result.SystemTransactionId, markErr)
		}
		if auditErr := s.audit.RecordAttempt(ctx, key, models.SyncStatusFailed, AttemptDetail{
			ErrorCode:    code,
			ErrorMessage: err.Error(),
			DurationMs:   &duration,
		}); auditErr != nil {
			config.LogError(s.logger, "qbsync", "submit", "record failed attempt", key, auditErr)
		}
		return result
	}

	if err := sub.markSynced(remote, attemptedAt); err != nil {
		// The remote create went through but the local write did not; leave a
		// FAILED audit row so an operator can reconcile against the remote id.
		config.LogError(s.logger, "qbsync", "submit", "mark record synced", result.SystemTransactionId, err)
		result.ErrorKind = ErrKindInternal
		result.ErrorCode = "LOCAL_UPDATE_FAILED"
		result.ErrorMessage = err.Error()
		_ = s.audit.RecordAttempt(ctx, key, models.SyncStatusFailed, AttemptDetail{
			QuickbooksId: remote.QuickbooksId,
			ErrorCode:    "LOCAL_UPDATE_FAILED",
			ErrorMessage: err.Error(),
			DurationMs:   &duration,
		})
		return result
	}

	result.Success = true
	result.QuickbooksId = remote.QuickbooksId
	if auditErr := s.audit.RecordAttempt(ctx, key, models.SyncStatusSuccess, AttemptDetail{
		QuickbooksId: remote.QuickbooksId,
		DurationMs:   &duration,
	}); auditErr != nil {
		config.LogError(s.logger, "qbsync", "submit", "record success attempt", key, auditErr)
	}
	return result
}

func (s *Syncer) attempt(ctx context.Context, sub submission) (*RemoteResult, error) {
	conn, err := s.conns.Get(ctx, sub.connectionId)
	if err != nil {
		return nil, err
	}

	payload, err := sub.buildPayload()
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.GetValidAccessToken(ctx, sub.connectionId)
	if err != nil {
		return nil, err
	}

	return s.client.Create(ctx, conn.RealmId, sub.endpoint, payload, token)
}

func (s *Syncer) loadFailure(result SyncResult, err error) SyncResult {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		result.ErrorKind = ErrKindValidation
		result.ErrorCode = "NOT_FOUND"
		result.ErrorMessage = "record not found"
		return result
	}
	result.ErrorKind = ErrKindInternal
	result.ErrorCode = "INTERNAL_ERROR"
	result.ErrorMessage = err.Error()
	return result
}

func (s *Syncer) failWithoutEntityWrite(result SyncResult, err error) SyncResult {
	kind, code := classifyError(err)
	result.ErrorKind = kind
	result.ErrorCode = code
	result.ErrorMessage = err.Error()
	return result
}
