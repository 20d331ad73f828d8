package repository

import (
	"context"

	"github.com/gokatarajesh/live-quiz/internal/db/queries"
)

type quizStore interface {
	GetQuiz(ctx context.Context, id string) (queries.Quiz, error)
}

// QuizRepository reads quiz content written by the authoring service.
type QuizRepository struct {
	store quizStore
}

func NewQuizRepository(store quizStore) *QuizRepository {
	return &QuizRepository{store: store}
}

// Get fetches a quiz row by id.
func (r *QuizRepository) Get(ctx context.Context, quizID string) (queries.Quiz, error) {
	return r.store.GetQuiz(ctx, quizID)
}
