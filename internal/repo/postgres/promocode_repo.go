package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PromocodeRepo reads the static promocode set. Codes are seeded by a
// migration and managed from the admin panel; the bot never writes them.
type PromocodeRepo struct {
	pool *pgxpool.Pool
}

func NewPromocodeRepo(pool *pgxpool.Pool) *PromocodeRepo {
	return &PromocodeRepo{pool: pool}
}

func (r *PromocodeRepo) Exists(ctx context.Context, code string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false, nil
	}

	var exists bool
	err := r.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM promocodes WHERE code = $1)
`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check promocode: %w", err)
	}

	return exists, nil
}
