package limits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/plan_guard/internal/ttlcache"
)

// LimitQuerier abstracts DB queries for testability.
type LimitQuerier interface {
	LookupLimits(ctx context.Context, userID string) (*limitRow, error)
}

type limitRow struct {
	UserID           string
	MaxTradeAmount   decimal.Decimal
	MaxPaymentAmount decimal.NullDecimal
}

// sqlLimitQuerier is the real implementation using *sql.DB.
type sqlLimitQuerier struct {
	db *sql.DB
}

func (s *sqlLimitQuerier) LookupLimits(ctx context.Context, userID string) (*limitRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, max_trade_amount, max_payment_amount
		FROM user_risk_limits
		WHERE user_id = $1
	`, userID)

	var r limitRow
	if err := row.Scan(&r.UserID, &r.MaxTradeAmount, &r.MaxPaymentAmount); err != nil {
		return nil, err
	}
	return &r, nil
}

// PostgresStore reads per-user limits from the user_risk_limits table.
// Users without a row get the configured defaults.
type PostgresStore struct {
	querier  LimitQuerier
	cache    *ttlcache.Cache[string, RiskLimits]
	defaults RiskLimits
	logger   *zap.Logger
}

// PostgresStoreConfig configures the PostgresStore.
type PostgresStoreConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Defaults RiskLimits
	Logger   *zap.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(cfg PostgresStoreConfig) *PostgresStore {
	return newPostgresStoreWithQuerier(&sqlLimitQuerier{db: cfg.DB}, cfg.CacheTTL, cfg.Defaults, cfg.Logger)
}

// newPostgresStoreWithQuerier creates a store with a custom querier (for testing).
func newPostgresStoreWithQuerier(q LimitQuerier, cacheTTL time.Duration, defaults RiskLimits, logger *zap.Logger) *PostgresStore {
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}
	return &PostgresStore{
		querier:  q,
		cache:    ttlcache.New[string, RiskLimits](cacheTTL),
		defaults: defaults,
		logger:   logger,
	}
}

func (s *PostgresStore) GetLimits(ctx context.Context, userID string) (RiskLimits, error) {
	cacheResult := s.cache.Get(userID)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go s.refreshInBackground(userID)
		}
		return cacheResult.Value, nil
	}

	limits, err := s.fetch(ctx, userID)
	if err != nil {
		return RiskLimits{}, fmt.Errorf("GetLimits: %w", err)
	}
	s.cache.Set(userID, limits)
	return limits, nil
}

func (s *PostgresStore) fetch(ctx context.Context, userID string) (RiskLimits, error) {
	row, err := s.querier.LookupLimits(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		l := s.defaults
		l.UserID = userID
		return l, nil
	}
	if err != nil {
		return RiskLimits{}, err
	}
	l := RiskLimits{
		UserID:         row.UserID,
		MaxTradeAmount: row.MaxTradeAmount,
	}
	if row.MaxPaymentAmount.Valid {
		l.MaxPaymentAmount = row.MaxPaymentAmount.Decimal
	}
	return l, nil
}

func (s *PostgresStore) refreshInBackground(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	limits, err := s.fetch(ctx, userID)
	if err != nil {
		s.logger.Warn("background risk limit refresh failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		s.cache.Release(userID)
		return
	}
	s.cache.Set(userID, limits)
}
