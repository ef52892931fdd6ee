package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.CooldownStore and ports.SubscriberRepository interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

var (
	_ ports.CooldownStore        = (*Repository)(nil)
	_ ports.SubscriberRepository = (*Repository)(nil)
)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/subscribers.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w: %w", filepath.Dir(dbPath), ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serializes writers, so the cooldown upsert never sees SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// Times are stored as unix milliseconds.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS subscribers (
		recipient_id INTEGER PRIMARY KEY,
		push_key TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cooldowns (
		recipient_id INTEGER PRIMARY KEY,
		last_notified_at INTEGER DEFAULT NULL
	);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- SubscriberRepository Implementation ---

// UpsertSubscriber inserts a subscriber or replaces its push key. The creation time is kept.
func (r *Repository) UpsertSubscriber(ctx context.Context, recipientID int64, pushKey string) error {
	if pushKey == "" {
		return fmt.Errorf("push key is required for recipient %d: %w", recipientID, ports.ErrInvalidRequest)
	}
	const query = `
	INSERT INTO subscribers (recipient_id, push_key, created_at) VALUES (?, ?, ?)
	ON CONFLICT(recipient_id) DO UPDATE SET push_key = excluded.push_key`

	if _, err := r.db.ExecContext(ctx, query, recipientID, pushKey, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to upsert subscriber %d: %w: %w", recipientID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Subscriber saved", map[string]interface{}{"recipientID": recipientID})
	return nil
}

// DeleteSubscriber removes a subscriber together with its cooldown record.
func (r *Repository) DeleteSubscriber(ctx context.Context, recipientID int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin delete for subscriber %d: %w: %w", recipientID, ports.ErrDeleteFailed, err)
	}
	defer tx.Rollback() // No-op after Commit

	result, err := tx.ExecContext(ctx, `DELETE FROM subscribers WHERE recipient_id = ?`, recipientID)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscriber %d: %w: %w", recipientID, ports.ErrDeleteFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for subscriber %d: %w: %w", recipientID, ports.ErrDeleteFailed, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cooldowns WHERE recipient_id = ?`, recipientID); err != nil {
		return false, fmt.Errorf("failed to delete cooldown of subscriber %d: %w: %w", recipientID, ports.ErrDeleteFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete for subscriber %d: %w: %w", recipientID, ports.ErrDeleteFailed, err)
	}
	r.logger.Debug(ctx, "Subscriber deleted", map[string]interface{}{"recipientID": recipientID, "existed": rowsAffected > 0})
	return rowsAffected > 0, nil
}

// CountSubscribers returns the number of subscribers.
func (r *Repository) CountSubscribers(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count subscribers: %w: %w", ports.ErrQueryFailed, err)
	}
	return count, nil
}

// --- CooldownStore Implementation ---

// ListSubscribers returns all subscribers ordered by recipient ID, with their last notification time.
func (r *Repository) ListSubscribers(ctx context.Context) ([]*domain.Subscriber, error) {
	const query = `
	SELECT s.recipient_id, s.push_key, s.created_at, c.last_notified_at
	FROM subscribers s
	LEFT JOIN cooldowns c ON c.recipient_id = s.recipient_id
	ORDER BY s.recipient_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	subscribers := make([]*domain.Subscriber, 0)
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscriber during ListSubscribers: %w: %w", ports.ErrQueryFailed, err)
		}
		subscribers = append(subscribers, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriber rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return subscribers, nil
}

// GetCooldown returns the last notification time of a recipient, or nil if none is recorded.
func (r *Repository) GetCooldown(ctx context.Context, recipientID int64) (*time.Time, error) {
	var last sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT last_notified_at FROM cooldowns WHERE recipient_id = ?`, recipientID).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, never notified
		}
		return nil, fmt.Errorf("failed to query cooldown of recipient %d: %w: %w", recipientID, ports.ErrQueryFailed, err)
	}
	return fromMillis(last), nil
}

// TryMarkNotified records now as the last notification time if the recipient has no mark
// or its mark is at least cooldown old. The check and the write are one statement.
func (r *Repository) TryMarkNotified(ctx context.Context, recipientID int64, now time.Time, cooldown time.Duration) (bool, error) {
	const query = `
	INSERT INTO cooldowns (recipient_id, last_notified_at) VALUES (?, ?)
	ON CONFLICT(recipient_id) DO UPDATE SET last_notified_at = excluded.last_notified_at
	WHERE cooldowns.last_notified_at IS NULL OR cooldowns.last_notified_at <= ?`

	cutoff := now.Add(-cooldown).UnixMilli()
	result, err := r.db.ExecContext(ctx, query, recipientID, now.UnixMilli(), cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to mark recipient %d: %w: %w", recipientID, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for mark of recipient %d: %w: %w", recipientID, ports.ErrUpdateFailed, err)
	}
	return rowsAffected == 1, nil
}

// ReleaseMark clears the mark written by TryMarkNotified at markedAt.
// A newer mark is left in place.
func (r *Repository) ReleaseMark(ctx context.Context, recipientID int64, markedAt time.Time) error {
	const query = `UPDATE cooldowns SET last_notified_at = NULL WHERE recipient_id = ? AND last_notified_at = ?`
	if _, err := r.db.ExecContext(ctx, query, recipientID, markedAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to release mark of recipient %d: %w: %w", recipientID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Cooldown mark released", map[string]interface{}{"recipientID": recipientID})
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSubscriber scans a row into a domain.Subscriber struct.
func scanSubscriber(s scanner) (*domain.Subscriber, error) {
	sub := &domain.Subscriber{}
	var createdAt int64
	var last sql.NullInt64
	if err := s.Scan(&sub.RecipientID, &sub.PushKey, &createdAt, &last); err != nil {
		return nil, err
	}
	sub.CreatedAt = time.UnixMilli(createdAt).UTC()
	sub.LastNotifiedAt = fromMillis(last)
	return sub, nil
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
