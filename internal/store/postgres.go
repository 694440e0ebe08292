package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pma-pay/pma_pay/internal/wallet"
)

// PostgresStore keeps the sealed wallet blobs in a single-key-per-row
// table, written transactionally.
type PostgresStore struct {
	db     *pgxpool.Pool
	cipher *Cipher
}

// NewPostgresStore builds a secure store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool, cipher *Cipher) *PostgresStore {
	return &PostgresStore{db: db, cipher: cipher}
}

// EnsureSchema creates the blob table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS secure_blobs (
        key TEXT PRIMARY KEY,
        value BYTEA NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`)
	if err != nil {
		return fmt.Errorf("ensure secure_blobs schema: %w", err)
	}
	return nil
}

// Save replaces the full record inside one transaction.
func (s *PostgresStore) Save(ctx context.Context, w wallet.Wallet) error {
	blobs, err := encodeRecord(s.cipher, w)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, key := range blobKeys() {
		if blob, ok := blobs[key]; ok {
			_, err = tx.Exec(ctx, `INSERT INTO secure_blobs (key, value, updated_at) VALUES ($1, $2, now())
                ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, blob)
		} else {
			_, err = tx.Exec(ctx, `DELETE FROM secure_blobs WHERE key = $1`, key)
		}
		if err != nil {
			return fmt.Errorf("persist %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load reads the stored record, returning (nil, nil) when absent.
func (s *PostgresStore) Load(ctx context.Context) (*wallet.Wallet, error) {
	blobs := make(map[string][]byte)
	for _, key := range blobKeys() {
		var blob []byte
		err := s.db.QueryRow(ctx, `SELECT value FROM secure_blobs WHERE key = $1`, key).Scan(&blob)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		blobs[key] = blob
	}
	return decodeRecord(s.cipher, blobs)
}

// Clear deletes every wallet blob. Clearing an empty store succeeds.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM secure_blobs WHERE key = ANY($1)`, blobKeys()); err != nil {
		return fmt.Errorf("clear wallet record: %w", err)
	}
	return nil
}
