package blockpostgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/storage"
)

//go:embed migrations/001_init.sql
var migration001 string

// Store archives sealed blocks of one node run. The chain itself lives in
// memory, so every run writes under its own run id.
type Store struct {
	pool  *pgxpool.Pool
	runID string
}

func Open(ctx context.Context, dsn string, maxConns, minConns int32, runID string) (*Store, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns >= 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{pool: pool, runID: runID}
	if err := store.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) applyMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migration001)
	if err != nil {
		return fmt.Errorf("apply migration 001: %w", err)
	}
	return nil
}

// Archive stores block and its transactions. Archiving the same block twice
// is a no-op; a different hash under an archived index is ErrBlockConflict.
func (s *Store) Archive(ctx context.Context, block protocol.Block, hash string) error {
	raw, err := protocol.CanonicalJSON(block)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", block.Index, err)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var existing string
	err = tx.QueryRow(ctx, `SELECT block_hash FROM sealed_blocks WHERE run_id = $1 AND block_index = $2`, s.runID, block.Index).Scan(&existing)
	switch {
	case err == nil:
		if existing != hash {
			return fmt.Errorf("%w: index %d", storage.ErrBlockConflict, block.Index)
		}
		return tx.Commit(ctx)
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO sealed_blocks (
  run_id,
  block_index,
  block_hash,
  previous_hash,
  merkle_root,
  pending_root,
  miner,
  sealed_at,
  block_json
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb)
`, s.runID, block.Index, hash, block.PreviousHash, nullable(block.MerkleRoot), nullable(block.PendingRoot), nullable(block.Miner), block.Timestamp.UTC(), raw)
	if err != nil {
		return fmt.Errorf("insert block %d: %w", block.Index, err)
	}
	for i, t := range block.Transactions {
		_, err = tx.Exec(ctx, `
INSERT INTO sealed_transactions (run_id, block_index, position, sender, recipient, product, price)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, s.runID, block.Index, i, t.Sender, t.Recipient, t.Product, t.Price)
		if err != nil {
			return fmt.Errorf("insert block %d transaction %d: %w", block.Index, i, err)
		}
	}
	return tx.Commit(ctx)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
