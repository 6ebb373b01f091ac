package qbsync

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/books_qbsync/config"
	"bitbucket.org/mmdatafocus/books_qbsync/models"
	"bitbucket.org/mmdatafocus/books_qbsync/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handlers holds the sync components behind the HTTP surface. Everything is
// injected so the handlers can be exercised against fakes.
type Handlers struct {
	conns        ConnectionStore
	invoices     InvoiceStore
	payments     PaymentStore
	logs         SyncLogStore
	oauth        *OAuthClient
	tokens       *TokenManager
	syncer       *Syncer
	orchestrator *Orchestrator
	audit        *AuditLog
	logger       *logrus.Logger
}

func NewHandlers(conns ConnectionStore, invoices InvoiceStore, payments PaymentStore, logs SyncLogStore, oauth *OAuthClient, tokens *TokenManager, syncer *Syncer, orchestrator *Orchestrator, audit *AuditLog, logger *logrus.Logger) *Handlers {
	return &Handlers{
		conns:        conns,
		invoices:     invoices,
		payments:     payments,
		logs:         logs,
		oauth:        oauth,
		tokens:       tokens,
		syncer:       syncer,
		orchestrator: orchestrator,
		audit:        audit,
		logger:       logger,
	}
}

func RegisterRoutes(r gin.IRouter, h *Handlers) {
	RegisterDeferredRoutes(r, func() *Handlers { return h })
}

// RegisterDeferredRoutes wires the routes against a provider so the engine
// can start listening before the backing stores exist. Requests arriving
// before the provider returns a value get a 503.
func RegisterDeferredRoutes(r gin.IRouter, provider func() *Handlers) {
	wrap := func(method func(*Handlers) gin.HandlerFunc) gin.HandlerFunc {
		return func(c *gin.Context) {
			h := provider()
			if h == nil {
				c.AbortWithStatus(http.StatusServiceUnavailable)
				return
			}
			method(h)(c)
		}
	}

	qb := r.Group("/api/integrations/quickbooks")
	qb.GET("/status", wrap((*Handlers).StatusHandler))
	qb.GET("/connect", wrap((*Handlers).ConnectHandler))
	qb.POST("/callback", wrap((*Handlers).CallbackHandler))
	qb.POST("/disconnect", wrap((*Handlers).DisconnectHandler))
	qb.POST("/sync", wrap((*Handlers).BatchSyncHandler))
	qb.POST("/invoices/:id/sync", wrap((*Handlers).SyncInvoiceHandler))
	qb.POST("/payments/:id/sync", wrap((*Handlers).SyncPaymentHandler))
	qb.GET("/sync-logs", wrap((*Handlers).SyncLogsHandler))
	qb.GET("/sync-logs/summary", wrap((*Handlers).SyncLogSummaryHandler))
	qb.POST("/sync-logs/:id/retry", wrap((*Handlers).RetrySyncLogHandler))

	r.POST("/pubsub/qb-sync", wrap((*Handlers).PubSubPushHandler))
}

func (h *Handlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}

		conn, err := h.conns.GetByBusiness(c.Request.Context(), businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, successResponse("quickbooks status", ConnectionStatusResponse{
				Provider:  models.QuickbooksProvider,
				Connected: false,
			}))
			return
		}

		c.JSON(http.StatusOK, successResponse("quickbooks status", ConnectionStatusResponse{
			Provider:              models.QuickbooksProvider,
			Connected:             conn.Connected,
			RealmId:               conn.RealmId,
			CompanyName:           conn.CompanyName,
			ConnectedAt:           conn.ConnectedAt,
			DisconnectedAt:        conn.DisconnectedAt,
			AccessTokenExpiresAt:  conn.AccessTokenExpiresAt,
			RefreshTokenExpiresAt: conn.RefreshTokenExpiresAt,
		}))
	}
}

func (h *Handlers) ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}

		state := uuid.NewString()
		c.JSON(http.StatusOK, successResponse("authorization url", AuthorizeURLResponse{
			AuthorizationURL: h.oauth.AuthorizationURL(state),
			State:            state,
		}))
	}
}

func (h *Handlers) CallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}

		var req CallbackRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("code and realmId are required"))
			return
		}

		ctx := c.Request.Context()
		tokens, err := h.oauth.ExchangeCode(ctx, req.Code)
		if err != nil {
			config.LogError(h.logger, "qbsync", "CallbackHandler", "exchange authorization code", req.RealmId, err)
			c.JSON(http.StatusBadGateway, errorResponse("authorization code exchange failed"))
			return
		}

		now := time.Now()
		accessExpiry := now.Add(time.Duration(tokens.ExpiresIn) * time.Second)

		var refreshExpiry time.Time
		if lifetime := tokens.RefreshLifetimeSeconds(); lifetime > 0 {
			refreshExpiry = now.Add(time.Duration(lifetime) * time.Second)
		} else {
			refreshExpiry = now.Add(defaultRefreshLifetime)
			h.logger.WithFields(logrus.Fields{
				"module":   "qbsync",
				"realm_id": req.RealmId,
			}).Warn("token endpoint omitted refresh lifetime; assuming 100 days")
		}

		conn, err := h.conns.GetByRealm(ctx, req.RealmId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
		if conn == nil {
			conn = &models.QuickbooksConnection{
				BusinessId:            businessId,
				RealmId:               req.RealmId,
				AccessToken:           tokens.AccessToken,
				RefreshToken:          tokens.RefreshToken,
				AccessTokenExpiresAt:  &accessExpiry,
				RefreshTokenExpiresAt: &refreshExpiry,
				Connected:             true,
				ConnectedAt:           &now,
			}
			if err := h.conns.Create(ctx, conn); err != nil {
				c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
				return
			}
		} else {
			conn.AccessToken = tokens.AccessToken
			conn.RefreshToken = tokens.RefreshToken
			conn.AccessTokenExpiresAt = &accessExpiry
			conn.RefreshTokenExpiresAt = &refreshExpiry
			conn.Connected = true
			conn.ConnectedAt = &now
			conn.DisconnectedAt = nil
			if err := h.conns.SaveTokens(ctx, conn); err != nil && !errors.Is(err, models.ErrStaleConnection) {
				c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
				return
			}
		}

		c.JSON(http.StatusOK, successResponse("quickbooks connected", ConnectionStatusResponse{
			Provider:              models.QuickbooksProvider,
			Connected:             true,
			RealmId:               conn.RealmId,
			CompanyName:           conn.CompanyName,
			ConnectedAt:           conn.ConnectedAt,
			AccessTokenExpiresAt:  conn.AccessTokenExpiresAt,
			RefreshTokenExpiresAt: conn.RefreshTokenExpiresAt,
		}))
	}
}

func (h *Handlers) DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}

		ctx := c.Request.Context()
		conn, err := h.conns.GetByBusiness(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, successResponse("quickbooks disconnected", nil))
			return
		}

		if err := h.conns.MarkDisconnected(ctx, conn.ID, time.Now()); err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusOK, successResponse("quickbooks disconnected", nil))
	}
}

func (h *Handlers) BatchSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}

		var req BatchSyncRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				var validationErrs validator.ValidationErrors
				if errors.As(err, &validationErrs) {
					c.JSON(http.StatusBadRequest, APIResponse{
						Status:  "error",
						Message: "transactionTypes must be invoice or payment",
						Data:    utils.ProcessValidationErrors(validationErrs),
					})
					return
				}
				c.JSON(http.StatusBadRequest, errorResponse("invalid request body"))
				return
			}
		}
		txnTypes := req.TransactionTypes
		if len(txnTypes) == 0 {
			txnTypes = []string{models.SyncTransactionTypeInvoice, models.SyncTransactionTypePayment}
		}

		ctx := c.Request.Context()
		conn, err := h.conns.GetByBusiness(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
		if conn == nil || !conn.Connected {
			c.JSON(http.StatusConflict, errorResponse("quickbooks is not connected"))
			return
		}

		if envBoolDefault("QB_SYNC_ASYNC", false) {
			correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
			payload := SyncPubSubPayload{
				BusinessId:       businessId,
				ConnectionId:     conn.ID,
				TransactionTypes: txnTypes,
				CorrelationId:    correlationId,
			}
			if err := PublishSyncRun(ctx, payload); err != nil {
				config.LogError(h.logger, "qbsync", "BatchSyncHandler", "publish sync run", payload, err)
				c.JSON(http.StatusInternalServerError, errorResponse("failed to queue sync run"))
				return
			}
			c.JSON(http.StatusAccepted, successResponse("sync run queued", gin.H{"transactionTypes": txnTypes}))
			return
		}

		results := h.runSync(ctx, conn.ID, txnTypes)
		status := statusCodeForBatch(results)
		if status >= http.StatusBadRequest {
			c.JSON(status, APIResponse{Status: "error", Message: "sync run failed", Data: results})
			return
		}
		c.JSON(status, successResponse("sync run completed", results))
	}
}

func (h *Handlers) runSync(ctx context.Context, connectionId uint, txnTypes []string) []*BatchResult {
	results := make([]*BatchResult, 0, len(txnTypes))
	for _, txnType := range txnTypes {
		var (
			res *BatchResult
			err error
		)
		switch txnType {
		case models.SyncTransactionTypePayment:
			res, err = h.orchestrator.SyncAllPendingPayments(ctx, connectionId)
		default:
			res, err = h.orchestrator.SyncAllPendingInvoices(ctx, connectionId)
		}
		if err != nil {
			config.LogError(h.logger, "qbsync", "runSync", "run "+txnType+" sync", connectionId, err)
			res = &BatchResult{TransactionType: txnType, Classification: BatchClassificationFailure}
		}
		results = append(results, res)
	}
	return results
}

// statusCodeForBatch maps aggregated run outcomes to a response code:
// 200 when everything succeeded or nothing was pending, 207 on a mix,
// 400 when every attempted record failed, 500 when a run errored before
// attempting anything. A failure classification with zero attempts only
// arises from an orchestrator error; a genuine empty run classifies as none.
func statusCodeForBatch(results []*BatchResult) int {
	success := 0
	failure := 0
	for _, res := range results {
		if res.Classification == BatchClassificationFailure && res.Total == 0 {
			return http.StatusInternalServerError
		}
		success += res.SuccessCount
		failure += res.FailureCount
	}
	switch {
	case failure == 0:
		return http.StatusOK
	case success == 0:
		return http.StatusBadRequest
	default:
		return http.StatusMultiStatus
	}
}

func (h *Handlers) SyncInvoiceHandler() gin.HandlerFunc {
	return h.singleSyncHandler(models.SyncTransactionTypeInvoice)
}

func (h *Handlers) SyncPaymentHandler() gin.HandlerFunc {
	return h.singleSyncHandler(models.SyncTransactionTypePayment)
}

func (h *Handlers) singleSyncHandler(txnType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse("invalid id"))
			return
		}

		result := h.syncer.SyncOne(c.Request.Context(), txnType, uint(id))
		if result.Success {
			c.JSON(http.StatusCreated, successResponse("synced to quickbooks", result))
			return
		}
		if result.AlreadySynced {
			c.JSON(http.StatusBadRequest, APIResponse{Status: "error", Message: ErrCodeAlreadySynced, Data: result})
			return
		}
		c.JSON(http.StatusBadRequest, APIResponse{Status: "error", Message: result.ErrorMessage, Data: result})
	}
}

func (h *Handlers) SyncLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}

		ctx := c.Request.Context()
		conn, err := h.conns.GetByBusiness(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, successResponse("sync logs", gin.H{"items": []models.QuickbooksSyncLog{}, "total": 0}))
			return
		}

		query := models.SyncLogQuery{
			ConnectionId:    conn.ID,
			Status:          strings.TrimSpace(c.Query("status")),
			Operation:       strings.TrimSpace(c.Query("operation")),
			TransactionType: strings.TrimSpace(c.Query("transactionType")),
			Search:          strings.TrimSpace(c.Query("search")),
		}
		if query.Status != "" && !models.IsSyncStatus(query.Status) {
			c.JSON(http.StatusBadRequest, errorResponse("invalid status filter"))
			return
		}
		if v := strings.TrimSpace(c.Query("fromDate")); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, errorResponse("fromDate must be YYYY-MM-DD"))
				return
			}
			query.FromDate = &t
		}
		if v := strings.TrimSpace(c.Query("toDate")); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, errorResponse("toDate must be YYYY-MM-DD"))
				return
			}
			end := t.Add(24*time.Hour - time.Nanosecond)
			query.ToDate = &end
		}
		if v := strings.TrimSpace(c.Query("page")); v != "" {
			query.Page, _ = strconv.Atoi(v)
		}
		if v := strings.TrimSpace(c.Query("pageSize")); v != "" {
			query.PageSize, _ = strconv.Atoi(v)
		}

		rows, total, err := h.logs.Search(ctx, query)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}

		summary, err := h.audit.Statistics(ctx, conn.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}

		c.JSON(http.StatusOK, successResponse("sync logs", gin.H{
			"items":   rows,
			"total":   total,
			"summary": summary,
		}))
	}
}

func (h *Handlers) SyncLogSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}

		ctx := c.Request.Context()
		conn, err := h.conns.GetByBusiness(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, successResponse("sync summary", Summary{ByStatus: map[string]int64{}, ByType: map[string]int64{}, ByOperation: map[string]int64{}}))
			return
		}

		summary, err := h.audit.Statistics(ctx, conn.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusOK, successResponse("sync summary", summary))
	}
}

func (h *Handlers) RetrySyncLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse("invalid log id"))
			return
		}

		ctx := c.Request.Context()
		rec, err := h.logs.GetByID(ctx, uint(id))
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
		if rec == nil || rec.BusinessId != businessId {
			c.JSON(http.StatusNotFound, errorResponse("sync log not found"))
			return
		}
		if rec.Status != models.SyncStatusFailed {
			c.JSON(http.StatusConflict, errorResponse("only failed attempts can be retried"))
			return
		}

		entityId, err := strconv.Atoi(rec.SystemTransactionId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse("sync log holds a non-numeric transaction id"))
			return
		}

		switch rec.TransactionType {
		case models.SyncTransactionTypePayment:
			err = h.payments.MarkRetry(ctx, uint(entityId))
		default:
			err = h.invoices.MarkRetry(ctx, uint(entityId))
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}

		c.JSON(http.StatusOK, successResponse("queued for retry", gin.H{
			"transactionType":     rec.TransactionType,
			"systemTransactionId": rec.SystemTransactionId,
		}))
	}
}

func resolveBusinessID(c *gin.Context) (string, error) {
	if businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context()); ok && strings.TrimSpace(businessId) != "" {
		return businessId, nil
	}

	username, ok := utils.GetUsernameFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(username) == "" {
		return "", errors.New("unauthorized")
	}

	user, err := getUser(c.Request.Context(), username)
	if err != nil {
		return "", err
	}

	// Admins may act on another tenant via an explicit business_id override.
	if override := strings.TrimSpace(c.Query("business_id")); override != "" {
		if user.Role != models.UserRoleAdmin && user.BusinessId != override {
			return "", errors.New("unauthorized")
		}
		return override, nil
	}

	businessId := strings.TrimSpace(user.BusinessId)
	if businessId == "" {
		return "", errors.New("business_id is required")
	}
	return businessId, nil
}

func getUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if !exists {
		db := config.GetDB()
		if db == nil {
			return nil, errors.New("db is nil")
		}
		if err := db.WithContext(ctx).
			Model(&models.User{}).
			Where("username = ?", username).
			Take(&user).Error; err != nil {
			return nil, errors.New("unauthorized")
		}
		_ = config.SetRedisObject("User:"+username, &user, time.Hour)
	}
	return &user, nil
}
