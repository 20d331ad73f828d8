package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gokatarajesh/live-quiz/internal/db/queries"
)

// Loader fetches quiz content from its backing store.
type Loader interface {
	LoadQuiz(ctx context.Context, quizID string) (Quiz, error)
}

type quizGetter interface {
	Get(ctx context.Context, quizID string) (queries.Quiz, error)
}

// PostgresLoader decodes quizzes from the quizzes table.
type PostgresLoader struct {
	repo quizGetter
}

func NewPostgresLoader(repo quizGetter) *PostgresLoader {
	return &PostgresLoader{repo: repo}
}

func (l *PostgresLoader) LoadQuiz(ctx context.Context, quizID string) (Quiz, error) {
	row, err := l.repo.Get(ctx, quizID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quiz{}, ErrNotFound
	}
	if err != nil {
		return Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	q := Quiz{ID: row.ID, Title: row.Title}
	if err := json.Unmarshal(row.Questions, &q.Questions); err != nil {
		return Quiz{}, fmt.Errorf("unmarshal quiz questions: %w", err)
	}
	q.Normalize()
	return q, nil
}
