package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"crypto-signal-service/config"
	"crypto-signal-service/internal/indicator"
	"crypto-signal-service/internal/signal"
)

// Store errors.
var (
	ErrDuplicateID     = errors.New("analysis id already exists")
	ErrAlreadyResolved = errors.New("resolution already written")
	ErrNotFound        = errors.New("analysis record not found")
)

// Store owns every AnalysisRecord. All other components hold transient
// copies and re-read by id before writing.
type Store struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
	log       zerolog.Logger
}

// New connects the pool (sized 1–10), verifies the connection and runs
// migrations.
func New(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConns = 10
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{
		pool:      pool,
		opTimeout: cfg.OpTimeout.Duration(),
		log:       log,
	}
	if s.opTimeout <= 0 {
		s.opTimeout = 5 * time.Second
	}

	if err := s.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS analysis_history (
			id              TEXT PRIMARY KEY,
			user_id         BIGINT NOT NULL,
			symbol          TEXT NOT NULL,
			timeframe       TEXT NOT NULL,
			trading_style   TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			expires_at      TIMESTAMPTZ NOT NULL,
			status          TEXT NOT NULL,
			market_snapshot JSONB NOT NULL,
			recommendation  JSONB NOT NULL,
			resolution      JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_user_symbol ON analysis_history(user_id, symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_symbol_created ON analysis_history(symbol, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_expires ON analysis_history(expires_at)`,
	}

	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close flushes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Save inserts a new record. Duplicate ids fail with ErrDuplicateID.
func (s *Store) Save(ctx context.Context, record *signal.AnalysisRecord) (string, error) {
	snapshotJSON, err := json.Marshal(record.MarketSnapshot)
	if err != nil {
		return "", fmt.Errorf("marshaling market snapshot: %w", err)
	}
	recommendationJSON, err := json.Marshal(record.Recommendation)
	if err != nil {
		return "", fmt.Errorf("marshaling recommendation: %w", err)
	}
	var resolutionJSON []byte
	if record.Resolution != nil {
		resolutionJSON, err = json.Marshal(record.Resolution)
		if err != nil {
			return "", fmt.Errorf("marshaling resolution: %w", err)
		}
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.pool.Exec(opCtx,
		`INSERT INTO analysis_history
		 (id, user_id, symbol, timeframe, trading_style, created_at, expires_at, status,
		  market_snapshot, recommendation, resolution)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.ID, record.UserID, record.Symbol, record.Timeframe, string(record.TradingStyle),
		record.CreatedAt, record.ExpiresAt, string(record.Status),
		snapshotJSON, recommendationJSON, resolutionJSON,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrDuplicateID
		}
		return "", fmt.Errorf("inserting analysis record: %w", err)
	}
	return record.ID, nil
}

// GetByID returns one record.
func (s *Store) GetByID(ctx context.Context, id string) (*signal.AnalysisRecord, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.pool.QueryRow(opCtx, selectColumns+` WHERE id = $1`, id)
	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

// UpdateResolution writes the resolution exactly once. A second call fails
// with ErrAlreadyResolved and leaves the stored resolution unchanged.
func (s *Store) UpdateResolution(ctx context.Context, id string, res *signal.Resolution) error {
	resolutionJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshaling resolution: %w", err)
	}

	status := signal.StatusResolved
	if res.Outcome == signal.OutcomeExpired {
		status = signal.StatusExpired
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(opCtx,
		`UPDATE analysis_history
		 SET resolution = $2, status = $3
		 WHERE id = $1 AND resolution IS NULL`,
		id, resolutionJSON, string(status),
	)
	if err != nil {
		return fmt.Errorf("updating resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrAlreadyResolved
	}
	return nil
}

// GetOpen returns every record still pending tracking.
func (s *Store) GetOpen(ctx context.Context) ([]*signal.AnalysisRecord, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(opCtx,
		selectColumns+` WHERE status = $1 ORDER BY created_at`,
		string(signal.StatusPendingTracking),
	)
	if err != nil {
		return nil, fmt.Errorf("querying open records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// SymbolHistory returns a user's records for one symbol inside the window.
func (s *Store) SymbolHistory(ctx context.Context, userID int64, symbol string, window time.Duration) ([]*signal.AnalysisRecord, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(opCtx,
		selectColumns+` WHERE user_id = $1 AND symbol = $2 AND created_at >= $3
		 ORDER BY created_at DESC`,
		userID, symbol, time.Now().Add(-window),
	)
	if err != nil {
		return nil, fmt.Errorf("querying symbol history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// History returns a user's records inside the window; symbol is optional.
func (s *Store) History(ctx context.Context, userID int64, symbol string, window time.Duration) ([]*signal.AnalysisRecord, error) {
	if symbol != "" {
		return s.SymbolHistory(ctx, userID, symbol, window)
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(opCtx,
		selectColumns+` WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at DESC`,
		userID, time.Now().Add(-window),
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// PurgeExpired deletes records past their expiry. Idempotent.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(opCtx,
		`DELETE FROM analysis_history WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purging expired records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// StartPurgeLoop runs PurgeExpired every hour until ctx is cancelled.
func (s *Store) StartPurgeLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := s.PurgeExpired(ctx, time.Now())
				if err != nil {
					s.log.Error().Err(err).Msg("purge sweep failed")
					continue
				}
				if purged > 0 {
					s.log.Info().Int64("purged", purged).Msg("purged expired records")
				}
			}
		}
	}()
}

const selectColumns = `SELECT id, user_id, symbol, timeframe, trading_style,
	created_at, expires_at, status, market_snapshot, recommendation, resolution
	FROM analysis_history`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*signal.AnalysisRecord, error) {
	var (
		record             signal.AnalysisRecord
		style, status      string
		snapshotJSON       []byte
		recommendationJSON []byte
		resolutionJSON     []byte
	)
	err := row.Scan(
		&record.ID, &record.UserID, &record.Symbol, &record.Timeframe,
		&style, &record.CreatedAt, &record.ExpiresAt, &status,
		&snapshotJSON, &recommendationJSON, &resolutionJSON,
	)
	if err != nil {
		return nil, err
	}
	record.TradingStyle = signal.TradingStyle(style)
	record.Status = signal.Status(status)

	record.MarketSnapshot = &indicator.Bundle{}
	if err := json.Unmarshal(snapshotJSON, record.MarketSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshaling market snapshot: %w", err)
	}
	if err := json.Unmarshal(recommendationJSON, &record.Recommendation); err != nil {
		return nil, fmt.Errorf("unmarshaling recommendation: %w", err)
	}
	if len(resolutionJSON) > 0 {
		record.Resolution = &signal.Resolution{}
		if err := json.Unmarshal(resolutionJSON, record.Resolution); err != nil {
			return nil, fmt.Errorf("unmarshaling resolution: %w", err)
		}
	}
	return &record, nil
}

func scanRecords(rows pgx.Rows) ([]*signal.AnalysisRecord, error) {
	var records []*signal.AnalysisRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
