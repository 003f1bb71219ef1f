package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alenakom/speechstar/internal/domain/enums"
	"github.com/alenakom/speechstar/internal/domain/model"
)

var ErrLessonNotFound = errors.New("lesson not found")

// LessonRepo is the read side of the lesson catalog. Authoring happens in
// the admin panel; the bot only looks lessons up.
type LessonRepo struct {
	pool *pgxpool.Pool
}

func NewLessonRepo(pool *pgxpool.Pool) *LessonRepo {
	return &LessonRepo{pool: pool}
}

func (r *LessonRepo) GetByCohortDay(ctx context.Context, cohort enums.Cohort, day int) (model.Lesson, error) {
	if r.pool == nil {
		return model.Lesson{}, fmt.Errorf("postgres pool is nil")
	}
	if !cohort.Selected() || day < 1 {
		return model.Lesson{}, fmt.Errorf("invalid lesson key")
	}

	var (
		lesson   model.Lesson
		imageKey *string
	)
	err := r.pool.QueryRow(ctx, `
SELECT cohort, day, title, body, image_key
FROM lessons
WHERE cohort = $1 AND day = $2
`, string(cohort), day).Scan(&lesson.Cohort, &lesson.Day, &lesson.Title, &lesson.Body, &imageKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Lesson{}, ErrLessonNotFound
		}
		return model.Lesson{}, fmt.Errorf("find lesson: %w", err)
	}
	if imageKey != nil {
		lesson.ImageKey = *imageKey
	}

	return lesson, nil
}

func (r *LessonRepo) CountByCohort(ctx context.Context, cohort enums.Cohort) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	if !cohort.Selected() {
		return 0, fmt.Errorf("invalid cohort")
	}

	var count int
	err := r.pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM lessons
WHERE cohort = $1
`, string(cohort)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count lessons: %w", err)
	}

	return count, nil
}
