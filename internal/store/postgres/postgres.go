// Package postgres implements the store interfaces on TimescaleDB via a
// pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fundrate-collector/internal/store"
)

const (
	// The pool idles at defaultMinConns and bursts up to defaultMaxConns
	// when every orchestrator fans out at once.
	defaultMinConns = 30
	defaultMaxConns = 230

	// insertChunkSize bounds the rows per bulk INSERT statement.
	insertChunkSize = 1000
)

// Store owns the process-wide connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open parses the connection string, applies pool sizing (overridable via
// DB_MIN_CONNS / DB_MAX_CONNS), registers the decimal codec, and connects.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}

	config.MinConns = defaultMinConns
	config.MaxConns = defaultMaxConns
	if v := os.Getenv("DB_MIN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MinConns = int32(n)
		}
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MaxConns = int32(n)
		}
	}

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate executes a schema file against the database.
func (s *Store) Migrate(ctx context.Context, schemaPath string) error {
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// ExecRaw runs a single statement in its own implicit transaction. The
// materialized-view refresh is its only caller.
func (s *Store) ExecRaw(ctx context.Context, sql string) error {
	_, err := s.pool.Exec(ctx, sql)
	return err
}

// Begin opens a transaction and binds the repositories to it.
func (s *Store) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &unitOfWork{
		tx:         tx,
		assets:     &AssetRepo{tx: tx},
		quotes:     &QuoteRepo{tx: tx},
		sections:   &SectionRepo{tx: tx},
		contracts:  &ContractRepo{tx: tx},
		historical: &HistoricalFundingRepo{tx: tx},
		live:       &LiveFundingRepo{tx: tx},
	}, nil
}

type unitOfWork struct {
	tx pgx.Tx

	assets     *AssetRepo
	quotes     *QuoteRepo
	sections   *SectionRepo
	contracts  *ContractRepo
	historical *HistoricalFundingRepo
	live       *LiveFundingRepo
}

func (u *unitOfWork) Assets() store.AssetWriter                       { return u.assets }
func (u *unitOfWork) Quotes() store.QuoteWriter                       { return u.quotes }
func (u *unitOfWork) Sections() store.SectionWriter                   { return u.sections }
func (u *unitOfWork) Contracts() store.ContractStore                  { return u.contracts }
func (u *unitOfWork) HistoricalFunding() store.HistoricalFundingStore { return u.historical }
func (u *unitOfWork) LiveFunding() store.LiveFundingWriter            { return u.live }

// Commit finishes the transaction.
func (u *unitOfWork) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close rolls back unless the transaction already committed. The rollback
// runs on a cancellation-shielded context so the pool slot is returned
// even when the surrounding context died mid-flight.
func (u *unitOfWork) Close(ctx context.Context) {
	_ = u.tx.Rollback(context.WithoutCancel(ctx))
}

// bulkInsert builds multi-row INSERT statements in chunks of
// insertChunkSize, appending conflictClause to each.
func bulkInsert(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any, conflictClause string) error {
	for start := 0; start < len(rows); start += insertChunkSize {
		chunk := rows[start:min(start+insertChunkSize, len(rows))]

		var sb strings.Builder
		sb.WriteString("INSERT INTO ")
		sb.WriteString(table)
		sb.WriteString(" (")
		sb.WriteString(strings.Join(columns, ", "))
		sb.WriteString(") VALUES ")

		args := make([]any, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('(')
			for j := range columns {
				if j > 0 {
					sb.WriteByte(',')
				}
				fmt.Fprintf(&sb, "$%d", len(args)+j+1)
			}
			sb.WriteByte(')')
			args = append(args, row...)
		}
		sb.WriteByte(' ')
		sb.WriteString(conflictClause)

		if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("bulk insert into %s: %w", table, err)
		}
	}
	return nil
}
