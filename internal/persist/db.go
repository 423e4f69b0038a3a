package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/config"
)

// DB wraps the pgx pool backing the save catalog.
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

func NewDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	log.Info("save catalog connected",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database))
	return &DB{Pool: pool, log: log}, nil
}

// OpenCatalog connects, migrates and returns the catalog journal.
func OpenCatalog(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*CatalogRepo, *DB, error) {
	db, err := NewDB(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	v, err := RunMigrations(ctx, db.Pool)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info("save catalog schema ready", zap.Int64("version", v))
	return NewCatalogRepo(db), db, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}
