package local

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/IMALI-DEFI/Imali-sub000/internal/provider"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const activeChainKey = "active_chain"

// Authorization is an origin's grant to read the wallet's accounts.
type Authorization struct {
	ID        string
	Origin    string
	Account   common.Address
	GrantedAt time.Time
}

// Store persists wallet state that survives restarts: origin
// authorizations, user-added chains and the active chain.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the sqlite database at path and
// applies pending migrations.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening wallet store: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies embedded migrations in file name order, each once.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var applied int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, entry.Name()).Scan(&applied)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", entry.Name(), err)
		}
		if applied > 0 {
			continue
		}

		raw, err := migrationFS.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if err := s.apply(ctx, entry.Name(), string(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, version, script string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting migration %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("executing migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		version, time.Now().Unix()); err != nil {
		return fmt.Errorf("recording migration %s: %w", version, err)
	}
	return tx.Commit()
}

// Authorization returns the grant for origin, if any.
func (s *Store) Authorization(ctx context.Context, origin string) (*Authorization, error) {
	var (
		a       Authorization
		account string
		granted int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, origin, account, granted_at FROM authorizations WHERE origin = ?`, origin,
	).Scan(&a.ID, &a.Origin, &account, &granted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("loading authorization: %w", err)
	}
	a.Account = common.HexToAddress(account)
	a.GrantedAt = time.Unix(granted, 0)
	return &a, nil
}

// Authorize records that origin may read the wallet's accounts. Granting
// again refreshes the account and time but keeps the id.
func (s *Store) Authorize(ctx context.Context, origin string, account common.Address) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authorizations (id, origin, account, granted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(origin) DO UPDATE SET
			account=excluded.account,
			granted_at=excluded.granted_at`,
		uuid.NewString(), origin, account.Hex(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("storing authorization: %w", err)
	}
	return nil
}

// Revoke removes origin's grant. Revoking an absent grant is not an error.
func (s *Store) Revoke(ctx context.Context, origin string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM authorizations WHERE origin = ?`, origin); err != nil {
		return fmt.Errorf("revoking authorization: %w", err)
	}
	return nil
}

// AddChain records a chain added through wallet_addEthereumChain.
func (s *Store) AddChain(ctx context.Context, id uint64, params provider.AddChainParams) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding chain params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO added_chains (chain_id, name, params, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chain_id) DO UPDATE SET
			name=excluded.name,
			params=excluded.params`,
		int64(id), params.ChainName, string(raw), time.Now().Unix()) //nolint:gosec // chain ids fit in int64
	if err != nil {
		return fmt.Errorf("storing chain %d: %w", id, err)
	}
	return nil
}

// AddedChains returns every user-added chain keyed by id.
func (s *Store) AddedChains(ctx context.Context) (map[uint64]provider.AddChainParams, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chain_id, params FROM added_chains ORDER BY chain_id`)
	if err != nil {
		return nil, fmt.Errorf("loading added chains: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[uint64]provider.AddChainParams)
	for rows.Next() {
		var (
			id  int64
			raw string
			p   provider.AddChainParams
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning added chain: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decoding chain %d: %w", id, err)
		}
		out[uint64(id)] = p //nolint:gosec // stored from a uint64
	}
	return out, rows.Err()
}

// ActiveChain returns the persisted active chain, or 0 when none was
// recorded.
func (s *Store) ActiveChain(ctx context.Context) (uint64, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM wallet_state WHERE key = ?`, activeChainKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading active chain: %w", err)
	}
	id, err := hexutil.DecodeUint64(value)
	if err != nil {
		return 0, fmt.Errorf("decoding active chain %q: %w", value, err)
	}
	return id, nil
}

// SetActiveChain persists the active chain.
func (s *Store) SetActiveChain(ctx context.Context, id uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at`,
		activeChainKey, hexutil.EncodeUint64(id), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("storing active chain %d: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
