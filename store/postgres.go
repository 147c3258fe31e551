package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/lib/pq"
)

const (
	queryTimeout   = 5 * time.Second
	migrateTimeout = 30 * time.Second

	uniqueViolation = "23505"
	livePathIndex   = "idx_viewing_keys_live_path"
)

// PostgresStore implements Store with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings. DSN, when set,
// takes precedence over the individual fields.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore opens the database and applies the schema.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stealth_addresses (
		seq BIGSERIAL,
		id VARCHAR(64) PRIMARY KEY,
		agent_id VARCHAR(128) NOT NULL,
		spend_public_key VARCHAR(128) NOT NULL,
		view_public_key VARCHAR(128) NOT NULL,
		encrypted_spend_key JSONB NOT NULL,
		encrypted_view_key JSONB NOT NULL,
		label VARCHAR(256) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE INDEX IF NOT EXISTS idx_stealth_agent ON stealth_addresses(agent_id, active);

	CREATE TABLE IF NOT EXISTS detected_payments (
		id VARCHAR(64) PRIMARY KEY,
		agent_id VARCHAR(128) NOT NULL,
		stealth_address VARCHAR(64) NOT NULL,
		ephemeral_public_key VARCHAR(128) NOT NULL,
		amount NUMERIC(20,0) NOT NULL,
		commitment VARCHAR(128) NOT NULL DEFAULT '',
		slot NUMERIC(20,0) NOT NULL,
		tx_timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		tx_ref VARCHAR(128) NOT NULL,
		detected_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE (stealth_address, slot)
	);
	CREATE INDEX IF NOT EXISTS idx_payments_agent ON detected_payments(agent_id, slot);

	CREATE TABLE IF NOT EXISTS scan_watermarks (
		agent_id VARCHAR(128) PRIMARY KEY,
		last_scanned_slot NUMERIC(20,0) NOT NULL,
		last_scan_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commitments (
		id VARCHAR(64) PRIMARY KEY,
		commitment VARCHAR(128) NOT NULL,
		blinding_factor JSONB NOT NULL,
		value NUMERIC(20,0) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		verified_at TIMESTAMP WITH TIME ZONE
	);

	CREATE TABLE IF NOT EXISTS privacy_scores (
		seq BIGSERIAL,
		id VARCHAR(64) PRIMARY KEY,
		address VARCHAR(64) NOT NULL,
		score INTEGER NOT NULL,
		grade VARCHAR(2) NOT NULL,
		factors JSONB NOT NULL,
		recommendations JSONB NOT NULL,
		analyzed_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_privacy_address ON privacy_scores(address, seq);

	CREATE TABLE IF NOT EXISTS swaps (
		seq BIGSERIAL,
		id VARCHAR(64) PRIMARY KEY,
		vault_id VARCHAR(128) NOT NULL,
		vault_address VARCHAR(64) NOT NULL,
		agent_id VARCHAR(128) NOT NULL,
		input_mint VARCHAR(64) NOT NULL,
		output_mint VARCHAR(64) NOT NULL,
		amount NUMERIC(20,0) NOT NULL,
		commitment_id VARCHAR(64) NOT NULL DEFAULT '',
		stealth_address VARCHAR(64) NOT NULL DEFAULT '',
		ephemeral_public_key VARCHAR(128) NOT NULL DEFAULT '',
		view_tag SMALLINT NOT NULL DEFAULT 0,
		quoted_output NUMERIC(20,0) NOT NULL DEFAULT 0,
		output_amount NUMERIC(20,0) NOT NULL DEFAULT 0,
		tx_ref VARCHAR(128) NOT NULL DEFAULT '',
		claim_tx_ref VARCHAR(128) NOT NULL DEFAULT '',
		mev_extracted DOUBLE PRECISION NOT NULL DEFAULT 0,
		privacy_score INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		failed_step VARCHAR(32) NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		idempotency_key VARCHAR(128) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	ALTER TABLE swaps ADD COLUMN IF NOT EXISTS seq BIGSERIAL;
	CREATE INDEX IF NOT EXISTS idx_swaps_vault_seq ON swaps(vault_id, seq);

	CREATE TABLE IF NOT EXISTS viewing_keys (
		id VARCHAR(64) PRIMARY KEY,
		key_hash VARCHAR(64) NOT NULL UNIQUE,
		encrypted_key JSONB NOT NULL,
		path VARCHAR(512) NOT NULL,
		parent_hash VARCHAR(64) NOT NULL DEFAULT '',
		role VARCHAR(16) NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		revoked_at TIMESTAMP WITH TIME ZONE
	);
	CREATE INDEX IF NOT EXISTS idx_viewing_keys_role ON viewing_keys(role, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS ` + livePathIndex + ` ON viewing_keys(path) WHERE revoked_at IS NULL;

	CREATE TABLE IF NOT EXISTS disclosures (
		id VARCHAR(64) PRIMARY KEY,
		transaction_id VARCHAR(128) NOT NULL,
		auditor_id VARCHAR(128) NOT NULL,
		role VARCHAR(16) NOT NULL,
		viewing_key_hash VARCHAR(64) NOT NULL,
		encrypted_data BYTEA NOT NULL,
		disclosed_fields TEXT[] NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		revoked_at TIMESTAMP WITH TIME ZONE
	);
	CREATE INDEX IF NOT EXISTS idx_disclosures_role ON disclosures(role, created_at);

	CREATE TABLE IF NOT EXISTS transfers (
		id VARCHAR(128) PRIMARY KEY,
		sender VARCHAR(64) NOT NULL,
		recipient VARCHAR(64) NOT NULL,
		amount NUMERIC(20,0) NOT NULL,
		tx_timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		tx_signature VARCHAR(256) NOT NULL,
		commitment_id VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	`

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Stealth addresses

const stealthColumns = `id, agent_id, spend_public_key, view_public_key, encrypted_spend_key, encrypted_view_key, label, created_at, active`

func (s *PostgresStore) InsertStealthRecord(ctx context.Context, rec *StealthAddressRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return insertStealth(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertStealth(ctx context.Context, db execer, rec *StealthAddressRecord) error {
	spend, err := blobValue(rec.EncryptedSpendKey)
	if err != nil {
		return err
	}
	view, err := blobValue(rec.EncryptedViewKey)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO stealth_addresses (`+stealthColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.AgentID, rec.MetaAddress.SpendPublicKey, rec.MetaAddress.ViewPublicKey,
		spend, view, rec.Label, rec.CreatedAt, rec.Active)
	return mapErr(err)
}

func (s *PostgresStore) ActiveStealthRecord(ctx context.Context, agentID string) (*StealthAddressRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+stealthColumns+` FROM stealth_addresses
		WHERE agent_id = $1 AND active ORDER BY seq DESC LIMIT 1`, agentID)
	return scanStealth(row)
}

func (s *PostgresStore) StealthRecordsByAgent(ctx context.Context, agentID string) ([]*StealthAddressRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+stealthColumns+` FROM stealth_addresses
		WHERE agent_id = $1 ORDER BY seq DESC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StealthAddressRecord
	for rows.Next() {
		rec, err := scanStealth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RotateStealthRecords(ctx context.Context, agentID string, next *StealthAddressRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE stealth_addresses SET active = FALSE WHERE agent_id = $1`, agentID); err != nil {
		return err
	}
	if err := insertStealth(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) DeactivateStealthRecords(ctx context.Context, agentID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE stealth_addresses SET active = FALSE WHERE agent_id = $1 AND active`, agentID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) ActiveAgents(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT agent_id FROM stealth_addresses WHERE active ORDER BY agent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Payments and watermarks

func (s *PostgresStore) InsertPayments(ctx context.Context, payments []*DetectedPayment) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, p := range payments {
		res, err := tx.ExecContext(ctx, `INSERT INTO detected_payments
			(id, agent_id, stealth_address, ephemeral_public_key, amount, commitment, slot, tx_timestamp, tx_ref, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (stealth_address, slot) DO NOTHING`,
			p.ID, p.AgentID, strings.ToLower(p.StealthAddress), p.EphemeralPublicKey,
			formatUint(p.Amount), p.Commitment, formatUint(p.Slot), p.Timestamp, p.TxRef, p.DetectedAt)
		if err != nil {
			return 0, mapErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *PostgresStore) PaymentsByAgent(ctx context.Context, agentID string) ([]*DetectedPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, agent_id, stealth_address, ephemeral_public_key, amount::TEXT,
		commitment, slot::TEXT, tx_timestamp, tx_ref, detected_at
		FROM detected_payments WHERE agent_id = $1 ORDER BY slot, stealth_address`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DetectedPayment
	for rows.Next() {
		var (
			p            DetectedPayment
			amount, slot string
		)
		if err := rows.Scan(&p.ID, &p.AgentID, &p.StealthAddress, &p.EphemeralPublicKey, &amount,
			&p.Commitment, &slot, &p.Timestamp, &p.TxRef, &p.DetectedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if p.Amount, err = parseUint(amount); err != nil {
			return nil, err
		}
		if p.Slot, err = parseUint(slot); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Watermark(ctx context.Context, agentID string) (*ScanWatermark, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		w    = ScanWatermark{AgentID: agentID}
		slot string
	)
	err := s.db.QueryRowContext(ctx, `SELECT last_scanned_slot::TEXT, last_scan_at FROM scan_watermarks WHERE agent_id = $1`,
		agentID).Scan(&slot, &w.LastScanAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &w, nil
	}
	if err != nil {
		return nil, err
	}
	if w.LastScannedSlot, err = parseUint(slot); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) AdvanceWatermark(ctx context.Context, agentID string, slot uint64, at time.Time) (bool, error) {
	if slot == 0 {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `INSERT INTO scan_watermarks (agent_id, last_scanned_slot, last_scan_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id) DO UPDATE SET
			last_scanned_slot = EXCLUDED.last_scanned_slot,
			last_scan_at = EXCLUDED.last_scan_at
		WHERE scan_watermarks.last_scanned_slot < EXCLUDED.last_scanned_slot`,
		agentID, formatUint(slot), at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Commitments

func (s *PostgresStore) SaveCommitments(ctx context.Context, recs []*CommitmentRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range recs {
		blinding, err := blobValue(r.BlindingFactor)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO commitments (id, commitment, blinding_factor, value, created_at, verified_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.Commitment, blinding, formatUint(r.Value), r.CreatedAt, nullTime(r.VerifiedAt)); err != nil {
			return mapErr(err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Commitment(ctx context.Context, id string) (*CommitmentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		r        CommitmentRecord
		blinding []byte
		value    string
		verified sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, commitment, blinding_factor, value::TEXT, created_at, verified_at
		FROM commitments WHERE id = $1`, id).Scan(&r.ID, &r.Commitment, &blinding, &value, &r.CreatedAt, &verified)
	if err != nil {
		return nil, mapErr(err)
	}
	if r.BlindingFactor, err = parseBlob(blinding); err != nil {
		return nil, err
	}
	if r.Value, err = parseUint(value); err != nil {
		return nil, err
	}
	r.VerifiedAt = timePtr(verified)
	return &r, nil
}

func (s *PostgresStore) MarkCommitmentVerified(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE commitments SET verified_at = $2 WHERE id = $1`, id, at)
	return requireRow(res, err)
}

// Privacy scores

func (s *PostgresStore) InsertPrivacyScore(ctx context.Context, rec *PrivacyScoreRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	factors, err := json.Marshal(rec.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}
	recs, err := json.Marshal(rec.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO privacy_scores (id, address, score, grade, factors, recommendations, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, strings.ToLower(rec.Address), rec.Score, rec.Grade, factors, recs, rec.AnalyzedAt)
	return mapErr(err)
}

func (s *PostgresStore) LatestPrivacyScores(ctx context.Context, address string, n int) ([]*PrivacyScoreRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var limit any
	if n > 0 {
		limit = n
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, address, score, grade, factors, recommendations, analyzed_at
		FROM privacy_scores WHERE address = $1 ORDER BY seq DESC LIMIT $2`, strings.ToLower(address), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PrivacyScoreRecord
	for rows.Next() {
		var (
			r             PrivacyScoreRecord
			factors, recs []byte
		)
		if err := rows.Scan(&r.ID, &r.Address, &r.Score, &r.Grade, &factors, &recs, &r.AnalyzedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal(factors, &r.Factors); err != nil {
			return nil, fmt.Errorf("decode factors: %w", err)
		}
		if err := json.Unmarshal(recs, &r.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Swaps

const swapColumns = `id, vault_id, vault_address, agent_id, input_mint, output_mint, amount::TEXT, commitment_id,
	stealth_address, ephemeral_public_key, view_tag, quoted_output::TEXT, output_amount::TEXT, tx_ref, claim_tx_ref,
	mev_extracted, privacy_score, status, failed_step, error, idempotency_key, created_at, updated_at`

func (s *PostgresStore) SaveSwap(ctx context.Context, r *SwapRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO swaps
		(id, vault_id, vault_address, agent_id, input_mint, output_mint, amount, commitment_id,
		 stealth_address, ephemeral_public_key, view_tag, quoted_output, output_amount, tx_ref, claim_tx_ref,
		 mev_extracted, privacy_score, status, failed_step, error, idempotency_key, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	ON CONFLICT (id) DO UPDATE SET
		commitment_id = EXCLUDED.commitment_id,
		stealth_address = EXCLUDED.stealth_address,
		ephemeral_public_key = EXCLUDED.ephemeral_public_key,
		view_tag = EXCLUDED.view_tag,
		quoted_output = EXCLUDED.quoted_output,
		output_amount = EXCLUDED.output_amount,
		tx_ref = EXCLUDED.tx_ref,
		claim_tx_ref = EXCLUDED.claim_tx_ref,
		mev_extracted = EXCLUDED.mev_extracted,
		privacy_score = EXCLUDED.privacy_score,
		status = EXCLUDED.status,
		failed_step = EXCLUDED.failed_step,
		error = EXCLUDED.error,
		updated_at = EXCLUDED.updated_at`,
		r.ID, r.VaultID, r.VaultAddress, r.AgentID, r.InputMint, r.OutputMint, formatUint(r.Amount), r.CommitmentID,
		r.StealthAddress, r.EphemeralPublicKey, int(r.ViewTag), formatUint(r.QuotedOutput), formatUint(r.OutputAmount),
		r.TxRef, r.ClaimTxRef, r.MEVExtracted, r.PrivacyScore, string(r.Status), r.FailedStep, r.Error,
		r.IdempotencyKey, r.CreatedAt, r.UpdatedAt)
	return mapErr(err)
}

func (s *PostgresStore) Swap(ctx context.Context, id string) (*SwapRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return scanSwap(s.db.QueryRowContext(ctx, `SELECT `+swapColumns+` FROM swaps WHERE id = $1`, id))
}

func (s *PostgresStore) SwapsByVault(ctx context.Context, vaultID string) ([]*SwapRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+swapColumns+` FROM swaps WHERE vault_id = $1 ORDER BY seq`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SwapRecord
	for rows.Next() {
		r, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Viewing keys

const viewingKeyColumns = `id, key_hash, encrypted_key, path, parent_hash, role, expires_at, created_at, revoked_at`

func (s *PostgresStore) InsertViewingKey(ctx context.Context, rec *ViewingKeyRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return insertViewingKey(ctx, s.db, rec)
}

func insertViewingKey(ctx context.Context, db execer, rec *ViewingKeyRecord) error {
	key, err := blobValue(rec.EncryptedKey)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO viewing_keys (`+viewingKeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.KeyHash, key, rec.Path, rec.ParentHash, string(rec.Role),
		nullTime(rec.ExpiresAt), rec.CreatedAt, nullTime(rec.RevokedAt))
	return mapErr(err)
}

func (s *PostgresStore) ViewingKey(ctx context.Context, id string) (*ViewingKeyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return scanViewingKey(s.db.QueryRowContext(ctx, `SELECT `+viewingKeyColumns+` FROM viewing_keys WHERE id = $1`, id))
}

func (s *PostgresStore) ViewingKeyByHash(ctx context.Context, keyHash string) (*ViewingKeyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return scanViewingKey(s.db.QueryRowContext(ctx, `SELECT `+viewingKeyColumns+` FROM viewing_keys WHERE key_hash = $1`, keyHash))
}

func (s *PostgresStore) ViewingKeysByRole(ctx context.Context, role Role) ([]*ViewingKeyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+viewingKeyColumns+` FROM viewing_keys
		WHERE role = $1 ORDER BY created_at DESC, id DESC`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ViewingKeyRecord
	for rows.Next() {
		r, err := scanViewingKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RevokeViewingKey(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := revokeRow(ctx, tx, "viewing_keys", id, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) RotateViewingKey(ctx context.Context, id string, next *ViewingKeyRecord, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := revokeRow(ctx, tx, "viewing_keys", id, at); err != nil {
		return err
	}
	if err := insertViewingKey(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

// revokeRow sets revoked_at on a row of table, distinguishing a missing row
// from one already revoked.
func revokeRow(ctx context.Context, tx *sql.Tx, table, id string, at time.Time) error {
	var revoked sql.NullTime
	err := tx.QueryRowContext(ctx, `SELECT revoked_at FROM `+table+` WHERE id = $1 FOR UPDATE`, id).Scan(&revoked)
	if err != nil {
		return mapErr(err)
	}
	if revoked.Valid {
		return ErrAlreadyRevoked
	}
	_, err = tx.ExecContext(ctx, `UPDATE `+table+` SET revoked_at = $2 WHERE id = $1`, id, at)
	return err
}

// Disclosures

const disclosureColumns = `id, transaction_id, auditor_id, role, viewing_key_hash, encrypted_data, disclosed_fields, expires_at, created_at, revoked_at`

func (s *PostgresStore) InsertDisclosure(ctx context.Context, rec *DisclosureRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO disclosures (`+disclosureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.TransactionID, rec.AuditorID, string(rec.Role), rec.ViewingKeyHash, rec.EncryptedData,
		pq.Array(rec.DisclosedFields), rec.ExpiresAt, rec.CreatedAt, nullTime(rec.RevokedAt))
	return mapErr(err)
}

func (s *PostgresStore) Disclosure(ctx context.Context, id string) (*DisclosureRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return scanDisclosure(s.db.QueryRowContext(ctx, `SELECT `+disclosureColumns+` FROM disclosures WHERE id = $1`, id))
}

func (s *PostgresStore) RevokeDisclosure(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := revokeRow(ctx, tx, "disclosures", id, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) DisclosuresInRange(ctx context.Context, role Role, from, to time.Time) ([]*DisclosureRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+disclosureColumns+` FROM disclosures
		WHERE role = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at, id`, string(role), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DisclosureRecord
	for rows.Next() {
		r, err := scanDisclosure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transfers

func (s *PostgresStore) SaveTransfer(ctx context.Context, r *TransferRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO transfers
		(id, sender, recipient, amount, tx_timestamp, tx_signature, commitment_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		sender = EXCLUDED.sender,
		recipient = EXCLUDED.recipient,
		amount = EXCLUDED.amount,
		tx_timestamp = EXCLUDED.tx_timestamp,
		tx_signature = EXCLUDED.tx_signature,
		commitment_id = EXCLUDED.commitment_id`,
		r.ID, r.Sender, r.Recipient, formatUint(r.Amount), r.Timestamp, r.TxSignature, r.CommitmentID, r.CreatedAt)
	return mapErr(err)
}

func (s *PostgresStore) Transfer(ctx context.Context, id string) (*TransferRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		r      TransferRecord
		amount string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, sender, recipient, amount::TEXT, tx_timestamp, tx_signature, commitment_id, created_at
		FROM transfers WHERE id = $1`, id).Scan(&r.ID, &r.Sender, &r.Recipient, &amount, &r.Timestamp, &r.TxSignature, &r.CommitmentID, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if r.Amount, err = parseUint(amount); err != nil {
		return nil, err
	}
	return &r, nil
}

// Row scanning

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStealth(row rowScanner) (*StealthAddressRecord, error) {
	var (
		r           StealthAddressRecord
		spend, view []byte
	)
	err := row.Scan(&r.ID, &r.AgentID, &r.MetaAddress.SpendPublicKey, &r.MetaAddress.ViewPublicKey,
		&spend, &view, &r.Label, &r.CreatedAt, &r.Active)
	if err != nil {
		return nil, mapErr(err)
	}
	if r.EncryptedSpendKey, err = parseBlob(spend); err != nil {
		return nil, err
	}
	if r.EncryptedViewKey, err = parseBlob(view); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanSwap(row rowScanner) (*SwapRecord, error) {
	var (
		r                   SwapRecord
		amount, quoted, out string
		viewTag             int
		status              string
	)
	err := row.Scan(&r.ID, &r.VaultID, &r.VaultAddress, &r.AgentID, &r.InputMint, &r.OutputMint, &amount,
		&r.CommitmentID, &r.StealthAddress, &r.EphemeralPublicKey, &viewTag, &quoted, &out, &r.TxRef,
		&r.ClaimTxRef, &r.MEVExtracted, &r.PrivacyScore, &status, &r.FailedStep, &r.Error,
		&r.IdempotencyKey, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	r.ViewTag = uint8(viewTag)
	r.Status = SwapStatus(status)
	if r.Amount, err = parseUint(amount); err != nil {
		return nil, err
	}
	if r.QuotedOutput, err = parseUint(quoted); err != nil {
		return nil, err
	}
	if r.OutputAmount, err = parseUint(out); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanViewingKey(row rowScanner) (*ViewingKeyRecord, error) {
	var (
		r                  ViewingKeyRecord
		key                []byte
		role               string
		expires, revokedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.KeyHash, &key, &r.Path, &r.ParentHash, &role, &expires, &r.CreatedAt, &revokedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if r.EncryptedKey, err = parseBlob(key); err != nil {
		return nil, err
	}
	r.Role = Role(role)
	r.ExpiresAt = timePtr(expires)
	r.RevokedAt = timePtr(revokedAt)
	return &r, nil
}

func scanDisclosure(row rowScanner) (*DisclosureRecord, error) {
	var (
		r         DisclosureRecord
		role      string
		fields    pq.StringArray
		revokedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.TransactionID, &r.AuditorID, &role, &r.ViewingKeyHash, &r.EncryptedData,
		&fields, &r.ExpiresAt, &r.CreatedAt, &revokedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	r.Role = Role(role)
	r.DisclosedFields = []string(fields)
	r.RevokedAt = timePtr(revokedAt)
	return &r, nil
}

// Value helpers

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if pqErr.Constraint == livePathIndex {
			return ErrPathCollision
		}
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}

func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func blobValue(b *crypto.EncryptedBlob) ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal blob: %w", err)
	}
	return data, nil
}

func parseBlob(data []byte) (*crypto.EncryptedBlob, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var b crypto.EncryptedBlob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	return &b, nil
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode numeric %q: %w", s, err)
	}
	return v, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
