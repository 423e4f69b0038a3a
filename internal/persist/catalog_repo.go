package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CatalogRepo stores save generations in the save_catalog table.
type CatalogRepo struct {
	db *DB
}

func NewCatalogRepo(db *DB) *CatalogRepo {
	return &CatalogRepo{db: db}
}

func (r *CatalogRepo) RecordSave(ctx context.Context, rec SaveRecord) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO save_catalog (generation, started_at, duration_ms, entities, accounts, files)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Generation.String(), rec.StartedAt, rec.Duration.Milliseconds(),
		rec.Entities, rec.Accounts, rec.Files,
	)
	if err != nil {
		return fmt.Errorf("record save %s: %w", rec.Generation, err)
	}
	return nil
}

func (r *CatalogRepo) LatestSave(ctx context.Context) (SaveRecord, bool, error) {
	var (
		rec  SaveRecord
		gen  string
		msec int64
	)
	err := r.db.Pool.QueryRow(ctx,
		`SELECT generation::text, started_at, duration_ms, entities, accounts, files
		 FROM save_catalog ORDER BY started_at DESC, id DESC LIMIT 1`,
	).Scan(&gen, &rec.StartedAt, &msec, &rec.Entities, &rec.Accounts, &rec.Files)
	if errors.Is(err, pgx.ErrNoRows) {
		return SaveRecord{}, false, nil
	}
	if err != nil {
		return SaveRecord{}, false, err
	}
	if rec.Generation, err = uuid.Parse(gen); err != nil {
		return SaveRecord{}, false, fmt.Errorf("catalog generation %q: %w", gen, err)
	}
	rec.Duration = time.Duration(msec) * time.Millisecond
	return rec, true, nil
}
