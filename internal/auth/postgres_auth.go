package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/triage-ai/palisade/services/plan_guard/internal/ttlcache"
)

// ProjectStore abstracts DB queries for testability.
type ProjectStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*projectRow, error)
}

type projectRow struct {
	ProjectID  string
	APIKeyHash string
	Scopes     string // JSON array
}

// sqlProjectStore is the real implementation using *sql.DB.
type sqlProjectStore struct {
	db *sql.DB
}

func (s *sqlProjectStore) LookupByPrefix(ctx context.Context, prefix string) (*projectRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, api_key_hash, plan_guard_scopes
		FROM projects
		WHERE api_key_prefix = $1 AND revoked_at IS NULL
	`, prefix)

	var r projectRow
	if err := row.Scan(&r.ProjectID, &r.APIKeyHash, &r.Scopes); err != nil {
		return nil, err
	}
	return &r, nil
}

// PostgresAuthenticator validates API keys against the projects table.
// It fails closed: a lookup error never yields a caller.
type PostgresAuthenticator struct {
	store  ProjectStore
	cache  *ttlcache.Cache[string, *Caller]
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new PostgresAuthenticator.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	return NewPostgresAuthenticatorWithStore(&sqlProjectStore{db: cfg.DB}, cfg.CacheTTL, cfg.Logger)
}

// NewPostgresAuthenticatorWithStore creates an authenticator with a custom store (for testing).
func NewPostgresAuthenticatorWithStore(store ProjectStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresAuthenticator {
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}
	return &PostgresAuthenticator{
		store:  store,
		cache:  ttlcache.New[string, *Caller](cacheTTL),
		logger: logger,
	}
}

func (a *PostgresAuthenticator) Authenticate(ctx context.Context) (*Caller, error) {
	token, err := ExtractBearerToken(ctx)
	if err != nil {
		return nil, err
	}

	cacheResult := a.cache.Get(token)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go a.refreshInBackground(token)
		}
		return cacheResult.Value, nil
	}

	// Cache miss: authenticate synchronously
	caller, err := a.authenticateFromDB(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("Authenticate: %w", err)
	}

	a.cache.Set(token, caller)
	return caller, nil
}

func (a *PostgresAuthenticator) authenticateFromDB(ctx context.Context, token string) (*Caller, error) {
	row, err := a.store.LookupByPrefix(ctx, token[:keyPrefixLen])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("authenticateFromDB: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(token)); err != nil {
		return nil, ErrUnauthenticated
	}

	var scopes []string
	if err := json.Unmarshal([]byte(row.Scopes), &scopes); err != nil {
		return nil, fmt.Errorf("authenticateFromDB: project %s scopes: %w", row.ProjectID, err)
	}

	return &Caller{ProjectID: row.ProjectID, Scopes: scopes}, nil
}

// refreshInBackground re-checks a cached key. A key that no longer
// authenticates is evicted; a transient error keeps the stale entry.
func (a *PostgresAuthenticator) refreshInBackground(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	caller, err := a.authenticateFromDB(ctx, token)
	if errors.Is(err, ErrUnauthenticated) {
		a.cache.Delete(token)
		return
	}
	if err != nil {
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		a.cache.Release(token)
		return
	}
	a.cache.Set(token, caller)
}
