package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// ContractStore abstracts DB queries for testability.
type ContractStore interface {
	ListContracts(ctx context.Context) ([]*contractRow, error)
}

type contractRow struct {
	Name                string
	Description         sql.NullString
	RiskLevel           string
	CanSimulate         bool
	RequiredPermissions string // JSONB as string
	ParameterSchema     sql.NullString
}

// sqlContractStore is the real implementation using *sql.DB.
type sqlContractStore struct {
	db *sql.DB
}

func (s *sqlContractStore) ListContracts(ctx context.Context) ([]*contractRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, risk_level, can_simulate,
		       required_permissions, parameter_schema
		FROM tool_contracts
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contractRow
	for rows.Next() {
		var r contractRow
		if err := rows.Scan(
			&r.Name, &r.Description, &r.RiskLevel, &r.CanSimulate,
			&r.RequiredPermissions, &r.ParameterSchema,
		); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// LoadFromPostgres reads the tool_contracts table once and builds an
// immutable Registry from it. Adding a tool means a redeploy.
func LoadFromPostgres(ctx context.Context, db *sql.DB, logger *zap.Logger) (*Registry, error) {
	return loadFromStore(ctx, &sqlContractStore{db: db}, logger)
}

func loadFromStore(ctx context.Context, store ContractStore, logger *zap.Logger) (*Registry, error) {
	rows, err := store.ListContracts(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadFromPostgres: %w", err)
	}

	contracts := make([]ToolContract, 0, len(rows))
	for _, row := range rows {
		c, err := parseContractRow(row)
		if err != nil {
			return nil, fmt.Errorf("LoadFromPostgres: %w", err)
		}
		contracts = append(contracts, c)
	}

	reg, err := New(contracts)
	if err != nil {
		return nil, fmt.Errorf("LoadFromPostgres: %w", err)
	}
	logger.Info("tool contracts loaded", zap.Int("count", len(contracts)))
	return reg, nil
}

func parseContractRow(row *contractRow) (ToolContract, error) {
	c := ToolContract{
		Name:        row.Name,
		RiskLevel:   RiskLevel(row.RiskLevel),
		CanSimulate: row.CanSimulate,
	}

	if row.Description.Valid {
		c.Description = row.Description.String
	}

	// Parse required_permissions (JSONB array)
	if row.RequiredPermissions != "" && row.RequiredPermissions != "[]" {
		if err := json.Unmarshal([]byte(row.RequiredPermissions), &c.RequiredPermissions); err != nil {
			return ToolContract{}, fmt.Errorf("parseContractRow: %s: required_permissions: %w", row.Name, err)
		}
	}

	// Parse parameter_schema (JSONB object)
	if row.ParameterSchema.Valid && row.ParameterSchema.String != "" {
		var schema map[string]any
		if err := json.Unmarshal([]byte(row.ParameterSchema.String), &schema); err != nil {
			return ToolContract{}, fmt.Errorf("parseContractRow: %s: parameter_schema: %w", row.Name, err)
		}
		c.ParameterSchema = schema
	}

	return c, nil
}
