package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db                    *sql.DB
	ownsDB                bool   // Track if we created the DB connection (for Close())
	transactionsTableName string // Configurable table name (default: "payment_transactions")
	entitlementsTableName string // Configurable table name (default: "entitlements")
	metrics               *metrics.Metrics
	now                   func() time.Time
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := newPostgresStore(db, true)
	if err := store.createPostgresTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed store using an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := newPostgresStore(db, false)
	if err := store.createPostgresTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func newPostgresStore(db *sql.DB, owns bool) *PostgresStore {
	return &PostgresStore{
		db:                    db,
		ownsDB:                owns,
		transactionsTableName: "payment_transactions",
		entitlementsTableName: "entitlements",
		now:                   time.Now,
	}
}

// WithTableNames applies schema_mapping table names and creates any missing tables.
func (s *PostgresStore) WithTableNames(transactions, entitlements string) error {
	if transactions == "" && entitlements == "" {
		return nil
	}
	if transactions != "" {
		s.transactionsTableName = pq.QuoteIdentifier(transactions)
	}
	if entitlements != "" {
		s.entitlementsTableName = pq.QuoteIdentifier(entitlements)
	}
	return s.createPostgresTables()
}

// WithMetrics records query durations on m.
func (s *PostgresStore) WithMetrics(m *metrics.Metrics) *PostgresStore {
	s.metrics = m
	return s
}

func (s *PostgresStore) createPostgresTables() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			period TEXT NOT NULL DEFAULT '',
			plan TEXT NOT NULL DEFAULT '',
			payer_phone TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			step TEXT NOT NULL DEFAULT '',
			poll_attempts INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			settled_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			user_id TEXT NOT NULL,
			content_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			granted_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			transaction_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (user_id, content_id, kind)
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON %[1]s(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_content ON %[1]s(user_id, content_id);
		CREATE INDEX IF NOT EXISTS idx_transactions_settled ON %[1]s(updated_at) WHERE status <> 'PENDING';
	`, s.transactionsTableName, s.entitlementsTableName)

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create postgres tables: %w", err)
	}
	return nil
}

// SaveTransaction implements Store. The conditional update refuses to change
// a settled status; RowsAffected = 0 then means ErrSettled.
func (s *PostgresStore) SaveTransaction(ctx context.Context, rec TransactionRecord) error {
	if err := validateTransaction(&rec, s.now()); err != nil {
		return err
	}
	defer metrics.TimeStoreOp(s.metrics, "postgres", metrics.OpSaveTransaction)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, user_id, content_id, kind, amount, currency, period, plan, payer_phone,
			status, step, poll_attempts, reason, idempotency_key, created_at, updated_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status        = EXCLUDED.status,
			step          = EXCLUDED.step,
			poll_attempts = GREATEST(%[1]s.poll_attempts, EXCLUDED.poll_attempts),
			reason        = EXCLUDED.reason,
			updated_at    = EXCLUDED.updated_at,
			settled_at    = COALESCE(%[1]s.settled_at, EXCLUDED.settled_at)
		WHERE %[1]s.status = 'PENDING' OR %[1]s.status = EXCLUDED.status
	`, s.transactionsTableName)

	result, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.ContentID, string(rec.Kind), rec.Amount, rec.Currency,
		rec.Period, rec.Plan, rec.PayerPhone, string(rec.Status), rec.Step, rec.PollAttempts,
		rec.Reason, rec.IdempotencyKey, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(), utcPtr(rec.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSettled
	}
	return nil
}

const transactionColumns = `id, user_id, content_id, kind, amount, currency, period, plan, payer_phone,
	status, step, poll_attempts, reason, idempotency_key, created_at, updated_at, settled_at`

// GetTransaction implements Store.
func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (TransactionRecord, error) {
	defer metrics.TimeStoreOp(s.metrics, "postgres", metrics.OpGetTransaction)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, transactionColumns, s.transactionsTableName)
	rec, err := scanTransaction(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return TransactionRecord{}, ErrNotFound
	}
	if err != nil {
		return TransactionRecord{}, fmt.Errorf("query transaction: %w", err)
	}
	return rec, nil
}

// ListUserTransactions implements Store.
func (s *PostgresStore) ListUserTransactions(ctx context.Context, userID string) ([]TransactionRecord, error) {
	defer metrics.TimeStoreOp(s.metrics, "postgres", metrics.OpListTransactions)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 ORDER BY created_at DESC`,
		transactionColumns, s.transactionsTableName)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (TransactionRecord, error) {
	var rec TransactionRecord
	var kind, status string
	var settled sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.ContentID, &kind, &rec.Amount, &rec.Currency,
		&rec.Period, &rec.Plan, &rec.PayerPhone, &status, &rec.Step, &rec.PollAttempts,
		&rec.Reason, &rec.IdempotencyKey, &rec.CreatedAt, &rec.UpdatedAt, &settled,
	)
	if err != nil {
		return TransactionRecord{}, err
	}
	rec.Kind = access.Kind(kind)
	rec.Status = access.GatewayStatus(status)
	if settled.Valid {
		t := settled.Time
		rec.SettledAt = &t
	}
	return rec, nil
}

// upsertEntitlementSQL keeps the later expiry; NULL (permanent) always wins.
const upsertEntitlementSQL = `
	INSERT INTO %[1]s (user_id, content_id, kind, granted_at, expires_at, transaction_id)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (user_id, content_id, kind) DO UPDATE SET
		expires_at = CASE
			WHEN %[1]s.expires_at IS NULL OR EXCLUDED.expires_at IS NULL THEN NULL
			ELSE GREATEST(%[1]s.expires_at, EXCLUDED.expires_at)
		END,
		granted_at = CASE
			WHEN EXCLUDED.expires_at IS NULL OR (%[1]s.expires_at IS NOT NULL AND EXCLUDED.expires_at >= %[1]s.expires_at)
			THEN EXCLUDED.granted_at ELSE %[1]s.granted_at
		END,
		transaction_id = CASE
			WHEN EXCLUDED.expires_at IS NULL OR (%[1]s.expires_at IS NOT NULL AND EXCLUDED.expires_at >= %[1]s.expires_at)
			THEN EXCLUDED.transaction_id ELSE %[1]s.transaction_id
		END
`

// SaveEntitlement implements Store.
func (s *PostgresStore) SaveEntitlement(ctx context.Context, ent access.Entitlement) error {
	if err := validateEntitlement(&ent, s.now()); err != nil {
		return err
	}
	defer metrics.TimeStoreOp(s.metrics, "postgres", metrics.OpSaveEntitlement)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(upsertEntitlementSQL, s.entitlementsTableName),
		ent.UserID, ent.ContentID, string(ent.Kind), ent.GrantedAt.UTC(), utcPtr(ent.ExpiresAt), ent.TransactionID)
	if err != nil {
		return fmt.Errorf("save entitlement: %w", err)
	}
	return nil
}

// ListEntitlements implements Store.
func (s *PostgresStore) ListEntitlements(ctx context.Context, userID string) ([]access.Entitlement, error) {
	defer metrics.TimeStoreOp(s.metrics, "postgres", metrics.OpListEntitlements)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT user_id, content_id, kind, granted_at, expires_at, transaction_id
		FROM %s WHERE user_id = $1 ORDER BY content_id, kind
	`, s.entitlementsTableName)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query entitlements: %w", err)
	}
	defer rows.Close()

	var out []access.Entitlement
	for rows.Next() {
		var ent access.Entitlement
		var kind string
		var expires sql.NullTime
		if err := rows.Scan(&ent.UserID, &ent.ContentID, &kind, &ent.GrantedAt, &expires, &ent.TransactionID); err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		ent.Kind = access.Kind(kind)
		if expires.Valid {
			t := expires.Time
			ent.ExpiresAt = &t
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

// ReplaceEntitlements implements Store in a single transaction.
func (s *PostgresStore) ReplaceEntitlements(ctx context.Context, userID string, ents []access.Entitlement) error {
	now := s.now()
	for i := range ents {
		ents[i].UserID = userID
		if err := validateEntitlement(&ents[i], now); err != nil {
			return fmt.Errorf("entitlement %d: %w", i, err)
		}
	}
	defer metrics.TimeStoreOp(s.metrics, "postgres", metrics.OpReplaceEntitlements)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace entitlements tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, s.entitlementsTableName), userID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete entitlements: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(upsertEntitlementSQL, s.entitlementsTableName))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare entitlement insert: %w", err)
	}
	defer stmt.Close()

	for i, ent := range ents {
		if _, err := stmt.ExecContext(ctx, ent.UserID, ent.ContentID, string(ent.Kind),
			ent.GrantedAt.UTC(), utcPtr(ent.ExpiresAt), ent.TransactionID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert entitlement %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ArchiveSettledTransactions implements Store.
func (s *PostgresStore) ArchiveSettledTransactions(ctx context.Context, olderThan time.Time) (int64, error) {
	defer metrics.TimeStoreOp(s.metrics, "postgres", metrics.OpArchiveTransactions)()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE status <> 'PENDING' AND updated_at < $1`, s.transactionsTableName)
	result, err := s.db.ExecContext(ctx, query, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("archive transactions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection when the store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
