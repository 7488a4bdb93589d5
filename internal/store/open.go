package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open picks a backend: PostgreSQL when databaseURL is set, else SQLite
// when sqlitePath is set, else memory. The returned func releases it.
func Open(ctx context.Context, databaseURL, sqlitePath string) (Store, func(), error) {
	switch {
	case databaseURL != "":
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection: %w", err)
		}
		pg := NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("connected to PostgreSQL")
		return pg, pool.Close, nil

	case sqlitePath != "":
		lite, err := OpenSQLite(ctx, sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("opened SQLite", "path", sqlitePath)
		return lite, func() { lite.Close() }, nil
	}

	slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
	return NewMemoryStore(), func() {}, nil
}
