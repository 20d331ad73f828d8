package queries

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getQuiz = `
SELECT id, title, questions, updated_at
FROM quizzes
WHERE id = $1
`

func (q *Queries) GetQuiz(ctx context.Context, id string) (Quiz, error) {
	row := q.db.QueryRow(ctx, getQuiz, id)
	var i Quiz
	err := row.Scan(&i.ID, &i.Title, &i.Questions, &i.UpdatedAt)
	return i, err
}

const createQuizSession = `
INSERT INTO quiz_sessions (id, pin, quiz_id, teacher_id, is_team_mode, teams, questions)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, pin, quiz_id, teacher_id, is_team_mode, teams, questions, created_at, ended_at
`

type CreateQuizSessionParams struct {
	ID         pgtype.UUID `json:"id"`
	Pin        string      `json:"pin"`
	QuizID     string      `json:"quiz_id"`
	TeacherID  string      `json:"teacher_id"`
	IsTeamMode bool        `json:"is_team_mode"`
	Teams      []byte      `json:"teams"`
	Questions  []byte      `json:"questions"`
}

func (q *Queries) CreateQuizSession(ctx context.Context, arg CreateQuizSessionParams) (QuizSession, error) {
	row := q.db.QueryRow(ctx, createQuizSession,
		arg.ID,
		arg.Pin,
		arg.QuizID,
		arg.TeacherID,
		arg.IsTeamMode,
		arg.Teams,
		arg.Questions,
	)
	var i QuizSession
	err := row.Scan(
		&i.ID,
		&i.Pin,
		&i.QuizID,
		&i.TeacherID,
		&i.IsTeamMode,
		&i.Teams,
		&i.Questions,
		&i.CreatedAt,
		&i.EndedAt,
	)
	return i, err
}

const getQuizSession = `
SELECT id, pin, quiz_id, teacher_id, is_team_mode, teams, questions, created_at, ended_at
FROM quiz_sessions
WHERE id = $1
`

func (q *Queries) GetQuizSession(ctx context.Context, id pgtype.UUID) (QuizSession, error) {
	row := q.db.QueryRow(ctx, getQuizSession, id)
	var i QuizSession
	err := row.Scan(
		&i.ID,
		&i.Pin,
		&i.QuizID,
		&i.TeacherID,
		&i.IsTeamMode,
		&i.Teams,
		&i.Questions,
		&i.CreatedAt,
		&i.EndedAt,
	)
	return i, err
}

const markQuizSessionEnded = `
UPDATE quiz_sessions
SET ended_at = COALESCE(ended_at, now())
WHERE id = $1
`

func (q *Queries) MarkQuizSessionEnded(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, markQuizSessionEnded, id)
	return err
}

const upsertQuizResult = `
INSERT INTO quiz_results (
    student_id, session_id, quiz_id, student_name, character,
    score, correct_count, total_questions, responses
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (student_id, session_id) DO UPDATE SET
    student_name    = EXCLUDED.student_name,
    character       = EXCLUDED.character,
    score           = EXCLUDED.score,
    correct_count   = EXCLUDED.correct_count,
    total_questions = EXCLUDED.total_questions,
    responses       = EXCLUDED.responses,
    updated_at      = now()
`

type UpsertQuizResultParams struct {
	StudentID      string      `json:"student_id"`
	SessionID      pgtype.UUID `json:"session_id"`
	QuizID         string      `json:"quiz_id"`
	StudentName    string      `json:"student_name"`
	Character      pgtype.Int4 `json:"character"`
	Score          int32       `json:"score"`
	CorrectCount   int32       `json:"correct_count"`
	TotalQuestions int32       `json:"total_questions"`
	Responses      []byte      `json:"responses"`
}

func (q *Queries) UpsertQuizResult(ctx context.Context, arg UpsertQuizResultParams) error {
	_, err := q.db.Exec(ctx, upsertQuizResult,
		arg.StudentID,
		arg.SessionID,
		arg.QuizID,
		arg.StudentName,
		arg.Character,
		arg.Score,
		arg.CorrectCount,
		arg.TotalQuestions,
		arg.Responses,
	)
	return err
}

const listQuizResultsBySession = `
SELECT student_id, session_id, quiz_id, student_name, character,
       score, correct_count, total_questions, responses, created_at, updated_at
FROM quiz_results
WHERE session_id = $1
ORDER BY score DESC, student_name ASC
`

func (q *Queries) ListQuizResultsBySession(ctx context.Context, sessionID pgtype.UUID) ([]QuizResult, error) {
	rows, err := q.db.Query(ctx, listQuizResultsBySession, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QuizResult
	for rows.Next() {
		var i QuizResult
		if err := rows.Scan(
			&i.StudentID,
			&i.SessionID,
			&i.QuizID,
			&i.StudentName,
			&i.Character,
			&i.Score,
			&i.CorrectCount,
			&i.TotalQuestions,
			&i.Responses,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
