package quiz

import "errors"

// ErrNotFound is returned when a quiz id does not exist.
var ErrNotFound = errors.New("quiz not found")

// Quiz is authored content as stored in the quizzes table.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Question is a single multiple-choice question. TimeLimit is in seconds.
type Question struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	TimeLimit    int      `json:"timeLimit"`
	ImageURL     string   `json:"imageUrl,omitempty"`
	MediaURL     string   `json:"mediaUrl,omitempty"`
}

const defaultTimeLimit = 30

// Normalize fills defaults the authoring tool may leave empty.
func (q *Quiz) Normalize() {
	for i := range q.Questions {
		if q.Questions[i].TimeLimit <= 0 {
			q.Questions[i].TimeLimit = defaultTimeLimit
		}
	}
}
