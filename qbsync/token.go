package qbsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/books_qbsync/config"
	"bitbucket.org/mmdatafocus/books_qbsync/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// refreshAheadWindow: tokens with less remaining lifetime than this are
	// refreshed before use, so request-time 401s are avoided in the common case.
	refreshAheadWindow = 10 * time.Minute

	// defaultRefreshLifetime is the documented fallback when the token
	// endpoint does not report a refresh-token lifetime.
	defaultRefreshLifetime = 100 * 24 * time.Hour

	refreshLockTTL = 30 * time.Second
)

// TokenExchanger is the slice of OAuthClient the manager needs.
type TokenExchanger interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// DistributedLocker serializes refreshes across service instances. Optional;
// nil means in-process serialization only.
type DistributedLocker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// TokenManager owns the credential state of QuickBooks connections. The
// refresh token rotates on every use, so refreshes for one connection must
// never run concurrently: an in-process singleflight group plus an optional
// redis lock give per-connection exclusivity.
type TokenManager struct {
	conns  ConnectionStore
	oauth  TokenExchanger
	locker DistributedLocker
	logger *logrus.Logger
	group  singleflight.Group
	now    func() time.Time
}

func NewTokenManager(conns ConnectionStore, oauth TokenExchanger, locker DistributedLocker, logger *logrus.Logger) *TokenManager {
	return &TokenManager{
		conns:  conns,
		oauth:  oauth,
		locker: locker,
		logger: logger,
		now:    time.Now,
	}
}

// GetValidAccessToken returns an access token with at least the refresh-ahead
// window of remaining lifetime, refreshing first when needed.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, connectionId uint) (string, error) {
	conn, err := m.conns.Get(ctx, connectionId)
	if err != nil {
		return "", err
	}
	if err := m.checkUsable(ctx, conn); err != nil {
		return "", err
	}

	if m.tokenFresh(conn) {
		return conn.AccessToken, nil
	}

	refreshed, err := m.Refresh(ctx, connectionId)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh exchanges the connection's refresh token for a rotated credential
// pair and persists it. Concurrent callers for the same connection share one
// in-flight refresh.
func (m *TokenManager) Refresh(ctx context.Context, connectionId uint) (*models.QuickbooksConnection, error) {
	key := strconv.FormatUint(uint64(connectionId), 10)
	result, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.refreshLocked(ctx, connectionId)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.QuickbooksConnection), nil
}

func (m *TokenManager) refreshLocked(ctx context.Context, connectionId uint) (*models.QuickbooksConnection, error) {
	release, err := m.obtainRefreshLock(ctx, connectionId)
	if err != nil {
		return nil, err
	}
	defer release()

	// Reload under the lock: another instance may have rotated the tokens
	// while this caller was waiting.
	conn, err := m.conns.Get(ctx, connectionId)
	if err != nil {
		return nil, err
	}
	if err := m.checkUsable(ctx, conn); err != nil {
		return nil, err
	}
	if m.tokenFresh(conn) {
		return conn, nil
	}

	token, err := m.oauth.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		var httpErr *HttpError
		if errors.As(err, &httpErr) && (httpErr.StatusCode == 400 || httpErr.StatusCode == 401) {
			// The refresh credential itself is rejected; the connection is
			// dead until the user re-authorizes.
			m.disconnect(ctx, conn)
			return nil, fmt.Errorf("%w: refresh rejected with status %d", ErrAuthExpired, httpErr.StatusCode)
		}
		return nil, err
	}

	now := m.now()
	accessExpiry := now.Add(time.Duration(token.ExpiresIn) * time.Second)

	var refreshExpiry time.Time
	if lifetime := token.RefreshLifetimeSeconds(); lifetime > 0 {
		refreshExpiry = now.Add(time.Duration(lifetime) * time.Second)
	} else {
		refreshExpiry = now.Add(defaultRefreshLifetime)
		m.logger.WithFields(logrus.Fields{
			"module":        "qbsync",
			"connection_id": conn.ID,
		}).Warn("token endpoint omitted refresh lifetime; assuming 100 days")
	}

	conn.AccessToken = token.AccessToken
	conn.RefreshToken = token.RefreshToken
	conn.AccessTokenExpiresAt = &accessExpiry
	conn.RefreshTokenExpiresAt = &refreshExpiry

	if err := m.conns.SaveTokens(ctx, conn); err != nil {
		if errors.Is(err, models.ErrStaleConnection) {
			// A concurrent writer won the compare-and-swap; its tokens are the
			// live ones now.
			return m.conns.Get(ctx, connectionId)
		}
		return nil, err
	}
	return conn, nil
}

// checkUsable rejects disconnected connections and expires the connection
// outright when the refresh credential's own lifetime has lapsed.
func (m *TokenManager) checkUsable(ctx context.Context, conn *models.QuickbooksConnection) error {
	if conn == nil || !conn.Connected {
		return fmt.Errorf("%w: connection is not active", ErrAuthExpired)
	}
	if conn.RefreshTokenExpiresAt != nil && !m.now().Before(*conn.RefreshTokenExpiresAt) {
		m.disconnect(ctx, conn)
		return fmt.Errorf("%w: refresh token expired at %s", ErrAuthExpired, conn.RefreshTokenExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func (m *TokenManager) tokenFresh(conn *models.QuickbooksConnection) bool {
	if conn.AccessToken == "" || conn.AccessTokenExpiresAt == nil {
		return false
	}
	return m.now().Add(refreshAheadWindow).Before(*conn.AccessTokenExpiresAt)
}

func (m *TokenManager) disconnect(ctx context.Context, conn *models.QuickbooksConnection) {
	now := m.now()
	if err := m.conns.MarkDisconnected(ctx, conn.ID, now); err != nil {
		config.LogError(m.logger, "qbsync", "disconnect", "mark connection disconnected", conn.ID, err)
		return
	}
	conn.Connected = false
	conn.DisconnectedAt = &now
}

func (m *TokenManager) obtainRefreshLock(ctx context.Context, connectionId uint) (func(), error) {
	if m.locker == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf("qb-token-refresh:%d", connectionId)
	lock, err := m.locker.Obtain(ctx, key, refreshLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(250*time.Millisecond), 20),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("could not obtain token refresh lock for connection %d", connectionId)
		}
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}
