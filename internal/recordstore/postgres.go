// Package recordstore implements contracts.RecordStore: calling named
// stored procedures and shaping their result sets into the generic
// row-of-maps form datasource implementations expect (spec §4.1/§6).
package recordstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Postgres implements contracts.RecordStore over a pgxpool connection
// pool, calling stored procedures via SELECT * FROM proc($1, $2, ...).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres dials a connection pool at connURL.
func NewPostgres(ctx context.Context, connURL string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("recordstore: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("recordstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recordstore: ping: %w", err)
	}

	log.Info().Str("host", cfg.ConnConfig.Host).Msg("recordstore: postgres pool initialized")
	return &Postgres{pool: pool}, nil
}

// Call invokes procedure as a set-returning function and returns every
// row as a column-name-keyed map. Transient connection errors are
// retried with a bounded exponential backoff, since a guardrail
// evaluation is synchronous and user-facing (spec §5).
func (p *Postgres) Call(ctx context.Context, procedure string, params ...interface{}) ([]map[string]interface{}, error) {
	placeholders := make([]string, len(params))
	for i := range params {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("SELECT * FROM %s(%s)", procedure, strings.Join(placeholders, ", "))

	var rows []map[string]interface{}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	err := backoff.Retry(func() error {
		result, err := p.query(ctx, query, params)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		rows = result
		return nil
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		return nil, fmt.Errorf("recordstore: call %s: %w", procedure, err)
	}
	return rows, nil
}

func (p *Postgres) query(ctx context.Context, query string, params []interface{}) ([]map[string]interface{}, error) {
	rows, err := p.pool.Query(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]map[string]interface{}, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(values))
		for i, v := range values {
			row[string(fields[i].Name)] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func isRetryable(err error) bool {
	return err == context.DeadlineExceeded || strings.Contains(err.Error(), "connection") || strings.Contains(err.Error(), "timeout")
}

// Ping verifies connectivity, used by the /healthz endpoint.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
