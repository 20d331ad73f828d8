package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gokatarajesh/live-quiz/internal/db/queries"
	"github.com/gokatarajesh/live-quiz/internal/kahoot/scoring"
	"github.com/gokatarajesh/live-quiz/internal/metrics"
)

const defaultConcurrency = 8

// Response is one answered (or unanswered) question.
type Response struct {
	QuestionID     string `json:"questionId"`
	AnswerIndex    *int   `json:"answerIndex"`
	Correct        bool   `json:"correct"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Points         int    `json:"points"`
}

// StudentResult is the input for one student.
type StudentResult struct {
	StudentID string
	Name      string
	Character *int
	Responses []Response
}

// SaveRequest carries a whole session's results.
type SaveRequest struct {
	SessionID      uuid.UUID
	QuizID         string
	TotalQuestions int
	Students       []StudentResult
}

// Record is a persisted result as read back for reporting.
type Record struct {
	StudentID      string
	Name           string
	Character      *int
	Score          int
	CorrectCount   int
	TotalQuestions int
	Responses      []Response
}

type resultStore interface {
	Upsert(ctx context.Context, params queries.UpsertQuizResultParams) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]queries.QuizResult, error)
}

// Saver writes final results to durable storage.
type Saver struct {
	store       resultStore
	metrics     *metrics.Metrics
	concurrency int
	logger      zerolog.Logger
}

// NewSaver creates a results saver.
func NewSaver(store resultStore, m *metrics.Metrics, logger zerolog.Logger) *Saver {
	if m == nil {
		m = metrics.Nop()
	}
	return &Saver{
		store:       store,
		metrics:     m,
		concurrency: defaultConcurrency,
		logger:      logger.With().Str("component", "results_saver").Logger(),
	}
}

// Save upserts one row per student with at least one response. Every student
// is attempted; failures are logged and returned joined. Save is safe to
// repeat for the same session.
func (s *Saver) Save(ctx context.Context, req SaveRequest) (int, error) {
	var (
		mu    sync.Mutex
		errs  []error
		saved int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, student := range req.Students {
		if len(student.Responses) == 0 {
			continue
		}
		student := student
		g.Go(func() error {
			err := s.saveOne(gctx, req, student)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("student %s: %w", student.StudentID, err))
				s.metrics.ResultSaves.WithLabelValues("error").Inc()
				s.logger.Error().Err(err).
					Str("session_id", req.SessionID.String()).
					Str("student_id", student.StudentID).
					Msg("result upsert failed")
				return nil
			}
			saved++
			s.metrics.ResultSaves.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Str("session_id", req.SessionID.String()).
		Int("saved", saved).
		Int("failed", len(errs)).
		Msg("session results persisted")
	return saved, errors.Join(errs...)
}

func (s *Saver) saveOne(ctx context.Context, req SaveRequest, student StudentResult) error {
	correct := 0
	for _, r := range student.Responses {
		if r.Correct {
			correct++
		}
	}
	responses, err := json.Marshal(student.Responses)
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}

	params := queries.UpsertQuizResultParams{
		StudentID:      student.StudentID,
		SessionID:      pgtype.UUID{Bytes: req.SessionID, Valid: true},
		QuizID:         req.QuizID,
		StudentName:    student.Name,
		Score:          int32(scoring.FinalPercentage(correct, req.TotalQuestions)),
		CorrectCount:   int32(correct),
		TotalQuestions: int32(req.TotalQuestions),
		Responses:      responses,
	}
	if student.Character != nil {
		params.Character = pgtype.Int4{Int32: int32(*student.Character), Valid: true}
	}
	return s.store.Upsert(ctx, params)
}

// Detailed reads back the persisted results of a session.
func (s *Saver) Detailed(ctx context.Context, sessionID uuid.UUID) ([]Record, error) {
	rows, err := s.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := Record{
			StudentID:      row.StudentID,
			Name:           row.StudentName,
			Score:          int(row.Score),
			CorrectCount:   int(row.CorrectCount),
			TotalQuestions: int(row.TotalQuestions),
		}
		if row.Character.Valid {
			c := int(row.Character.Int32)
			rec.Character = &c
		}
		if len(row.Responses) > 0 {
			if err := json.Unmarshal(row.Responses, &rec.Responses); err != nil {
				s.logger.Warn().Err(err).Str("student_id", row.StudentID).Msg("skip unreadable responses")
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
