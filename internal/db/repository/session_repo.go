package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gokatarajesh/live-quiz/internal/db/queries"
)

type sessionStore interface {
	CreateQuizSession(ctx context.Context, arg queries.CreateQuizSessionParams) (queries.QuizSession, error)
	GetQuizSession(ctx context.Context, id pgtype.UUID) (queries.QuizSession, error)
	MarkQuizSessionEnded(ctx context.Context, id pgtype.UUID) error
}

// SessionRepository stores session-definition rows. They outlive the live
// session in Redis.
type SessionRepository struct {
	store sessionStore
}

// NewSessionRepository constructs a new session repository.
func NewSessionRepository(store sessionStore) *SessionRepository {
	return &SessionRepository{store: store}
}

// Create persists a new session definition.
func (r *SessionRepository) Create(ctx context.Context, params queries.CreateQuizSessionParams) (queries.QuizSession, error) {
	return r.store.CreateQuizSession(ctx, params)
}

// Get fetches a session definition by id.
func (r *SessionRepository) Get(ctx context.Context, sessionID uuid.UUID) (queries.QuizSession, error) {
	return r.store.GetQuizSession(ctx, toPgUUID(sessionID))
}

// MarkEnded stamps ended_at once; repeated calls keep the first timestamp.
func (r *SessionRepository) MarkEnded(ctx context.Context, sessionID uuid.UUID) error {
	return r.store.MarkQuizSessionEnded(ctx, toPgUUID(sessionID))
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}
