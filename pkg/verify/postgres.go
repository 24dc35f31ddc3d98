package verify

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the destination connection settings.
type Config struct {
	// Address is host:port.
	Address  string
	User     string
	Password string
	Database string

	// SSLMode is a libpq sslmode. Empty means prefer.
	SSLMode string

	// ConnectTimeout bounds connection setup. Zero uses 10 seconds.
	ConnectTimeout time.Duration
}

// ConnString returns the connection URL.
func (c Config) ConnString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", strconv.Itoa(int(timeout.Seconds())))

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Address,
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// PostgresCatalog reads information_schema of a postgres warehouse.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

var _ Catalog = (*PostgresCatalog)(nil)

// Connect opens a small pool to the destination and pings it.
func Connect(ctx context.Context, cfg Config) (*PostgresCatalog, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse destination connection settings: %w", err)
	}
	poolConfig.MaxConns = 2
	poolConfig.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping destination: %w", err)
	}

	return &PostgresCatalog{pool: pool}, nil
}

const columnsQuery = `
SELECT table_schema, table_name, column_name
FROM   information_schema.columns
WHERE  table_schema = ANY($1)
ORDER  BY table_schema, table_name, ordinal_position`

// Columns implements Catalog.
func (c *PostgresCatalog) Columns(ctx context.Context, schemas []string) (Snapshot, error) {
	rows, err := c.pool.Query(ctx, columnsQuery, schemas)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	snapshot := make(Snapshot)
	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		tables, ok := snapshot[schema]
		if !ok {
			tables = make(map[string][]string)
			snapshot[schema] = tables
		}
		tables[table] = append(tables[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	return snapshot, nil
}

// Close closes the pool.
func (c *PostgresCatalog) Close() {
	c.pool.Close()
}
