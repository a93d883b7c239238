package identitypg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing for the identity store. Claims mutations hold a row lock for
// the life of a short transaction, so the pool stays small to keep lock
// queues shallow under concurrent role writes.
const (
	poolMinConns          = 2
	poolMaxConns          = 10
	poolMaxConnLifetime   = time.Hour
	poolHealthCheckPeriod = time.Minute
)

// BuildPool parses the identity database URL and constructs the pgx pool the
// identity store runs on.
func BuildPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, parseErr := pgxpool.ParseConfig(databaseURL)
	if parseErr != nil {
		return nil, fmt.Errorf("identity_pg.pool_config: %w", parseErr)
	}
	poolConfig.MinConns = poolMinConns
	poolConfig.MaxConns = poolMaxConns
	poolConfig.MaxConnLifetime = poolMaxConnLifetime
	poolConfig.HealthCheckPeriod = poolHealthCheckPeriod
	return pgxpool.NewWithConfig(ctx, poolConfig)
}
