package queries

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Quiz struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Questions []byte             `json:"questions"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type QuizSession struct {
	ID         pgtype.UUID        `json:"id"`
	Pin        string             `json:"pin"`
	QuizID     string             `json:"quiz_id"`
	TeacherID  string             `json:"teacher_id"`
	IsTeamMode bool               `json:"is_team_mode"`
	Teams      []byte             `json:"teams"`
	Questions  []byte             `json:"questions"`
	CreatedAt  pgtype.Timestamptz `json:"created_at"`
	EndedAt    pgtype.Timestamptz `json:"ended_at"`
}

type QuizResult struct {
	StudentID      string             `json:"student_id"`
	SessionID      pgtype.UUID        `json:"session_id"`
	QuizID         string             `json:"quiz_id"`
	StudentName    string             `json:"student_name"`
	Character      pgtype.Int4        `json:"character"`
	Score          int32              `json:"score"`
	CorrectCount   int32              `json:"correct_count"`
	TotalQuestions int32              `json:"total_questions"`
	Responses      []byte             `json:"responses"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}
