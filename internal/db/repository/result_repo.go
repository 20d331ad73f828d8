package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gokatarajesh/live-quiz/internal/db/queries"
)

type resultStore interface {
	UpsertQuizResult(ctx context.Context, arg queries.UpsertQuizResultParams) error
	ListQuizResultsBySession(ctx context.Context, sessionID pgtype.UUID) ([]queries.QuizResult, error)
}

// ResultRepository persists final per-student results keyed by (student, session).
type ResultRepository struct {
	store resultStore
}

// NewResultRepository constructs a new result repository.
func NewResultRepository(store resultStore) *ResultRepository {
	return &ResultRepository{store: store}
}

// Upsert writes one student's result. Repeating it overwrites the same row.
func (r *ResultRepository) Upsert(ctx context.Context, params queries.UpsertQuizResultParams) error {
	return r.store.UpsertQuizResult(ctx, params)
}

// ListBySession returns all results of a session, best score first.
func (r *ResultRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]queries.QuizResult, error) {
	return r.store.ListQuizResultsBySession(ctx, toPgUUID(sessionID))
}
