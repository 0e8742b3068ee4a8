package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// LoadPublishedURLs returns every URL in the ledger table.
func (db *DB) LoadPublishedURLs(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `SELECT url FROM published_urls ORDER BY published_at, url`)
	if err != nil {
		return nil, fmt.Errorf("query published urls: %w", err)
	}

	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect published urls: %w", err)
	}

	return urls, nil
}

// AppendPublishedURL inserts url; an existing row is left untouched.
func (db *DB) AppendPublishedURL(ctx context.Context, url string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO published_urls (url, published_at)
		VALUES ($1, now())
		ON CONFLICT (url) DO NOTHING`, url)
	if err != nil {
		return fmt.Errorf("insert published url: %w", err)
	}

	return nil
}

// LoadCheckpoint returns the stored checkpoint or the zero time.
func (db *DB) LoadCheckpoint(ctx context.Context) (time.Time, error) {
	var ts pgtype.Timestamptz

	err := db.Pool.QueryRow(ctx, `SELECT processed_at FROM relay_checkpoint WHERE id = $1`, checkpointRowID).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("query checkpoint: %w", err)
	}

	return fromTimestamptz(ts).UTC(), nil
}

// SaveCheckpoint upserts the single checkpoint row.
func (db *DB) SaveCheckpoint(ctx context.Context, t time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO relay_checkpoint (id, processed_at, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET processed_at = EXCLUDED.processed_at, updated_at = now()`,
		checkpointRowID, toTimestamptz(t.UTC()))
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}

	return nil
}

func toTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func fromTimestamptz(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}

	return t.Time
}
