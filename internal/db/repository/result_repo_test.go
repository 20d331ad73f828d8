package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/gokatarajesh/live-quiz/internal/db/queries"
)

type mockResultStore struct {
	mock.Mock
}

func (m *mockResultStore) UpsertQuizResult(ctx context.Context, arg queries.UpsertQuizResultParams) error {
	return m.Called(ctx, arg).Error(0)
}

func (m *mockResultStore) ListQuizResultsBySession(ctx context.Context, sessionID pgtype.UUID) ([]queries.QuizResult, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).([]queries.QuizResult), args.Error(1)
}

type mockQuizStore struct {
	mock.Mock
}

func (m *mockQuizStore) GetQuiz(ctx context.Context, id string) (queries.Quiz, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(queries.Quiz), args.Error(1)
}

func TestResultRepository_Upsert(t *testing.T) {
	store := new(mockResultStore)
	repo := NewResultRepository(store)

	params := queries.UpsertQuizResultParams{
		StudentID:      "s1",
		SessionID:      uuidFromByte(1),
		QuizID:         "quiz-1",
		StudentName:    "Ada",
		Character:      pgtype.Int4{Int32: 4, Valid: true},
		Score:          67,
		CorrectCount:   2,
		TotalQuestions: 3,
		Responses:      []byte(`[]`),
	}
	store.On("UpsertQuizResult", mock.Anything, params).Return(nil).Twice()

	assert.NoError(t, repo.Upsert(context.Background(), params))
	assert.NoError(t, repo.Upsert(context.Background(), params))
	store.AssertExpectations(t)
}

func TestResultRepository_ListBySession(t *testing.T) {
	store := new(mockResultStore)
	repo := NewResultRepository(store)

	rows := []queries.QuizResult{{StudentID: "s1", Score: 100}, {StudentID: "s2", Score: 50}}
	store.On("ListQuizResultsBySession", mock.Anything, uuidFromByte(9)).Return(rows, nil)

	got, err := repo.ListBySession(context.Background(), googleUUIDFromByte(9))
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	store.AssertExpectations(t)
}

func TestQuizRepository_Get(t *testing.T) {
	store := new(mockQuizStore)
	repo := NewQuizRepository(store)

	store.On("GetQuiz", mock.Anything, "quiz-1").Return(queries.Quiz{ID: "quiz-1", Title: "Capitals"}, nil)

	got, err := repo.Get(context.Background(), "quiz-1")
	assert.NoError(t, err)
	assert.Equal(t, "Capitals", got.Title)
	store.AssertExpectations(t)
}
