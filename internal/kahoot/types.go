package kahoot

import (
	"encoding/json"
	"fmt"

	ws "github.com/gokatarajesh/live-quiz/pkg/http/ws"
)

// schemaVersion tags every record written to the state store.
const schemaVersion = 1

// Participant statuses.
const (
	StatusParticipating = "connected_participating"
	StatusWaiting       = "connected_waiting"
	StatusDisconnected  = "disconnected"
)

// Session phases reported to teachers.
const (
	PhaseAwaitingStart  = "awaitingStart"
	PhaseQuestionActive = "questionActive"
	PhaseFinalizing     = "finalizing"
	PhaseCompleted      = "completed"
	PhaseEnded          = "ended"
)

// Team is a named group whose score aggregates its members' points.
type Team struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Score   int      `json:"score"`
}

// Session is the live record of one PIN.
type Session struct {
	V                    int    `json:"v"`
	PIN                  string `json:"pin"`
	SessionID            string `json:"sessionId"`
	QuizID               string `json:"quizId"`
	TeacherID            string `json:"teacherId"`
	// TeacherConnID names the teacher socket that connected last. Only that
	// socket's disconnect releases the session.
	TeacherConnID        string `json:"teacherConnId,omitempty"`
	IsTeamMode           bool   `json:"isTeamMode"`
	Teams                []Team `json:"teams,omitempty"`
	AvailableCharacters  []int  `json:"availableCharacters"`
	TotalQuestions       int    `json:"totalQuestions"`
	CurrentQuestionIndex int    `json:"currentQuestionIndex"`
	CurrentQuestionID    string `json:"currentQuestionId"`
	// IsQuestionActive is true exactly while the current question accepts
	// answers. Flipping it to false is the finalization barrier.
	IsQuestionActive   bool  `json:"isQuestionActive"`
	QuizStarted        bool  `json:"quizStarted"`
	QuizEndedByTeacher bool  `json:"quizEndedByTeacher"`
	QuestionStartTime  int64 `json:"questionStartTime"` // epoch ms, 0 until emitted
	CreatedAt          int64 `json:"createdAt"`
}

// Phase derives the state-machine phase from the record's flags.
func (s *Session) Phase() string {
	switch {
	case s.QuizEndedByTeacher:
		return PhaseEnded
	case !s.QuizStarted:
		return PhaseAwaitingStart
	case s.IsQuestionActive:
		return PhaseQuestionActive
	case s.CurrentQuestionIndex >= s.TotalQuestions-1:
		return PhaseCompleted
	default:
		return PhaseFinalizing
	}
}

// Presented reports whether the current question has been shown to students.
func (s *Session) Presented() bool {
	return s.QuizStarted && s.QuestionStartTime != 0
}

// IsLastQuestion reports whether the current index is the final one.
func (s *Session) IsLastQuestion() bool {
	return s.CurrentQuestionIndex >= s.TotalQuestions-1
}

// HasCharacter reports whether idx is offered in this session.
func (s *Session) HasCharacter(idx int) bool {
	for _, c := range s.AvailableCharacters {
		if c == idx {
			return true
		}
	}
	return false
}

// TeamOf returns the index of the team containing studentID, or -1.
func (s *Session) TeamOf(studentID string) int {
	if !s.IsTeamMode {
		return -1
	}
	for i, t := range s.Teams {
		for _, m := range t.Members {
			if m == studentID {
				return i
			}
		}
	}
	return -1
}

// TeamScores returns the team aggregates in wire form.
func (s *Session) TeamScores() []ws.TeamScore {
	if !s.IsTeamMode {
		return nil
	}
	out := make([]ws.TeamScore, 0, len(s.Teams))
	for _, t := range s.Teams {
		out = append(out, ws.TeamScore{Name: t.Name, Score: t.Score})
	}
	return out
}

// Response records one answer, or a missing one when AnswerIndex is nil.
type Response struct {
	QuestionID     string `json:"questionId"`
	AnswerIndex    *int   `json:"answerIndex"`
	Correct        bool   `json:"correct"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Points         int    `json:"points"`
}

// Participant is one student's record within a session.
type Participant struct {
	V            int        `json:"v"`
	StudentID    string     `json:"studentId"`
	Name         string     `json:"name"`
	Character    *int       `json:"character,omitempty"`
	Score        int        `json:"score"`
	Responses    []Response `json:"responses"`
	HasSubmitted bool       `json:"hasSubmitted"`
	Status       string     `json:"status"`
	JoinedAt     int64      `json:"joinedAt"`
}

// ResponseFor returns the response recorded for questionID, if any.
func (p *Participant) ResponseFor(questionID string) (Response, bool) {
	for _, r := range p.Responses {
		if r.QuestionID == questionID {
			return r, true
		}
	}
	return Response{}, false
}

// CorrectCount counts correct responses.
func (p *Participant) CorrectCount() int {
	n := 0
	for _, r := range p.Responses {
		if r.Correct {
			n++
		}
	}
	return n
}

// Active reports whether the participant counts toward completion checks.
func (p *Participant) Active() bool {
	return p.Status == StatusParticipating
}

func (p *Participant) view() ws.StudentView {
	return ws.StudentView{
		StudentID:    p.StudentID,
		Name:         p.Name,
		Character:    p.Character,
		Status:       p.Status,
		Score:        p.Score,
		HasSubmitted: p.HasSubmitted,
	}
}

func decodeSession(raw []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.V != schemaVersion {
		return nil, fmt.Errorf("decode session: unsupported version %d", s.V)
	}
	return &s, nil
}

func decodeParticipant(raw []byte) (*Participant, error) {
	var p Participant
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode participant: %w", err)
	}
	if p.V != schemaVersion {
		return nil, fmt.Errorf("decode participant: unsupported version %d", p.V)
	}
	return &p, nil
}
