package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// resetTables are cleared by ResetTables, in dependency order. Depot
// mappings survive a reset so rebuilds keep their source data.
var resetTables = []string{"LogEntries", "Downloads", "ClientStats", "ServiceStats"}

// Pool is the subset of pgxpool.Pool the catalog uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresConfig controls the connection pool behind the catalog.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// PostgresCatalog implements Catalog against the backend's Postgres schema.
// Table and column names follow the backend's EF Core conventions, hence the
// quoted PascalCase identifiers.
type PostgresCatalog struct {
	pool Pool
}

// NewPostgresCatalog connects a pool and verifies it with a ping.
func NewPostgresCatalog(ctx context.Context, cfg PostgresConfig) (*PostgresCatalog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresCatalog{pool: pool}, nil
}

// NewPostgresCatalogWithPool constructs a catalog from an existing pool
// (primarily for testing).
func NewPostgresCatalogWithPool(pool Pool) (*PostgresCatalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresCatalog{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (c *PostgresCatalog) Close() {
	if c == nil || c.pool == nil {
		return
	}
	c.pool.Close()
}

// Ping verifies the database connection is alive.
func (c *PostgresCatalog) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// GameName resolves an app's display name from the depot mappings.
func (c *PostgresCatalog) GameName(ctx context.Context, appID uint32) (string, error) {
	query := `
		SELECT "AppName"
		FROM "SteamDepotMappings"
		WHERE "AppId" = $1 AND "AppName" <> ''
		LIMIT 1;
	`
	var name string
	err := c.pool.QueryRow(ctx, query, int64(appID)).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query game name: %w", err)
	}
	return name, nil
}

// DepotMappings lists every known depot-to-app mapping.
func (c *PostgresCatalog) DepotMappings(ctx context.Context) ([]DepotMapping, error) {
	query := `
		SELECT "DepotId", "AppId", "AppName"
		FROM "SteamDepotMappings"
		ORDER BY "DepotId";
	`
	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query depot mappings: %w", err)
	}
	defer rows.Close()

	var mappings []DepotMapping
	for rows.Next() {
		var (
			depotID, appID int64
			name           string
		)
		if err := rows.Scan(&depotID, &appID, &name); err != nil {
			return nil, fmt.Errorf("scan depot mapping row: %w", err)
		}
		mappings = append(mappings, DepotMapping{
			DepotID: uint32(depotID),
			AppID:   uint32(appID),
			AppName: name,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate depot mappings: %w", err)
	}
	return mappings, nil
}

// LogEntryCount counts access-log rows, optionally for one service.
func (c *PostgresCatalog) LogEntryCount(ctx context.Context, service string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM "LogEntries"
		WHERE ($1 = '' OR LOWER("Service") = LOWER($1));
	`
	var count int64
	if err := c.pool.QueryRow(ctx, query, service).Scan(&count); err != nil {
		return 0, fmt.Errorf("count log entries: %w", err)
	}
	return count, nil
}

// DeleteLogEntries removes every access-log row for one service.
func (c *PostgresCatalog) DeleteLogEntries(ctx context.Context, service string) (int64, error) {
	if strings.TrimSpace(service) == "" {
		return 0, fmt.Errorf("service is required")
	}
	query := `DELETE FROM "LogEntries" WHERE LOWER("Service") = LOWER($1);`
	tag, err := c.pool.Exec(ctx, query, service)
	if err != nil {
		return 0, fmt.Errorf("delete log entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetTables clears the operational tables in order, reporting progress
// after each one. A table that fails stops the reset.
func (c *PostgresCatalog) ResetTables(ctx context.Context, progress func(table string, done, total int)) error {
	total := len(resetTables)
	for i, table := range resetTables {
		if err := ctx.Err(); err != nil {
			return err
		}
		query := fmt.Sprintf(`DELETE FROM %q;`, table)
		if _, err := c.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("clear table %s: %w", table, err)
		}
		if progress != nil {
			progress(table, i+1, total)
		}
	}
	return nil
}
