// Package journal keeps an append-only SQLite record of dashboard activity.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"equipviz/internal/core"
	"equipviz/internal/log"
)

// Journal stores activities. It never stores credentials.
type Journal struct {
	db     *sqlx.DB
	logger *log.Logger
}

type activityRow struct {
	ID        int64         `db:"id"`
	Username  string        `db:"username"`
	Kind      string        `db:"kind"`
	DatasetID sql.NullInt64 `db:"dataset_id"`
	Filename  string        `db:"filename"`
	Detail    string        `db:"detail"`
	CreatedAt int64         `db:"created_at"`
}

func (r activityRow) toActivity() core.Activity {
	a := core.Activity{
		Username: r.Username,
		Kind:     core.ActivityKind(r.Kind),
		Filename: r.Filename,
		Detail:   r.Detail,
		At:       time.UnixMilli(r.CreatedAt).UTC(),
	}
	if r.DatasetID.Valid {
		a.DatasetID = core.DatasetID(r.DatasetID.Int64)
	}
	return a
}

// Open creates the database file if needed and applies migrations.
func Open(dbPath string, logger *log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db, logger: logger.WithComponent(log.ComponentJournal)}, nil
}

func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Record appends one activity.
func (j *Journal) Record(ctx context.Context, a core.Activity) error {
	var datasetID sql.NullInt64
	if a.DatasetID.Valid() {
		datasetID = sql.NullInt64{Int64: int64(a.DatasetID), Valid: true}
	}
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}

	res, err := j.db.NamedExecContext(ctx, `
		INSERT INTO activity (username, kind, dataset_id, filename, detail, created_at)
		VALUES (:username, :kind, :dataset_id, :filename, :detail, :created_at)
	`, activityRow{
		Username:  a.Username,
		Kind:      string(a.Kind),
		DatasetID: datasetID,
		Filename:  a.Filename,
		Detail:    a.Detail,
		CreatedAt: at.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}

	id, _ := res.LastInsertId()
	j.logger.DebugContext(ctx, "Activity recorded",
		"id", id,
		log.FieldUsername, a.Username,
		"kind", a.Kind,
		log.FieldDatasetID, int64(a.DatasetID))
	return nil
}

// Recent returns the newest activities of one user, newest first.
func (j *Journal) Recent(ctx context.Context, username string, limit int) ([]core.Activity, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []activityRow
	err := j.db.SelectContext(ctx, &rows, `
		SELECT id, username, kind, dataset_id, filename, detail, created_at
		FROM activity
		WHERE username = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("select activity: %w", err)
	}
	return toActivities(rows), nil
}

// All returns the newest activities across users, newest first.
func (j *Journal) All(ctx context.Context, limit int) ([]core.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []activityRow
	err := j.db.SelectContext(ctx, &rows, `
		SELECT id, username, kind, dataset_id, filename, detail, created_at
		FROM activity
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select activity: %w", err)
	}
	return toActivities(rows), nil
}

func toActivities(rows []activityRow) []core.Activity {
	out := make([]core.Activity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toActivity())
	}
	return out
}
