package ws

import "encoding/json"

// MessageType constants for the live quiz WebSocket protocol.
const (
	// Student -> Server
	TypeCharacterSelected  = "characterSelected"
	TypeReady              = "ready"
	TypeSubmitAnswer       = "submitAnswer"
	TypeGetTakenCharacters = "getTakenCharacters"

	// Teacher -> Server
	TypeStartQuiz           = "startQuiz"
	TypeNextQuestion        = "nextQuestion"
	TypeTimeUp              = "timeUp"
	TypeEndQuiz             = "endQuiz"
	TypeViewDetailedResults = "viewDetailedResults"

	// Server -> Client
	TypeCharacterData             = "characterData"
	TypeCharacterAcknowledged     = "characterAcknowledged"
	TypeQuizStartingSoon          = "quizStartingSoon"
	TypeQuizStarted               = "quizStarted"
	TypeNewQuestion               = "newQuestion"
	TypeNewQuestionOptions        = "newQuestionOptions"
	TypeAnswerSubmitted           = "answerSubmitted"
	TypeFeedback                  = "feedback"
	TypeAllStudentsSubmitted      = "allStudentsSubmitted"
	TypeTimeLeft                  = "timeLeft"
	TypePreparingNextQuestion     = "preparingNextQuestion"
	TypeQuizCompleted             = "quizCompleted"
	TypeSessionEnded              = "sessionEnded"
	TypeDetailedResults           = "detailedResults"
	TypeSessionState              = "sessionState"
	TypeStudentJoined             = "studentJoined"
	TypeStudentReady              = "studentReady"
	TypeStudentSubmitted          = "studentSubmitted"
	TypeStudentDisconnected       = "studentDisconnected"
	TypeActiveStudentCountUpdated = "activeStudentCountUpdated"
	TypeError                     = "error"
)

// Message wraps all WebSocket payloads with type and optional request ID.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewMessage encodes payload into a Message. A nil payload is omitted.
func NewMessage(msgType string, payload any) (Message, error) {
	msg := Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = raw
	return msg, nil
}

// Client Messages (incoming)

type CharacterSelectedPayload struct {
	Character int `json:"character"`
}

type SubmitAnswerPayload struct {
	QuestionID   string `json:"questionId"`
	AnswerIndex  *int   `json:"answerIndex"`
	ResponseTime *int64 `json:"responseTime,omitempty"` // ms since the question opened
}

// Server Messages (outgoing)

type CharacterDataPayload struct {
	Available []int `json:"available"`
	Taken     []int `json:"taken"`
}

type CharacterAcknowledgedPayload struct {
	Character int    `json:"character"`
	Status    string `json:"status"`
}

type QuizStartingSoonPayload struct {
	DelayMs        int64 `json:"delayMs"`
	TotalQuestions int   `json:"totalQuestions"`
}

// QuestionView is a question as shown to clients; the correct answer is omitted.
type QuestionView struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

type NewQuestionPayload struct {
	Question       QuestionView `json:"question"`
	QuestionNumber int          `json:"questionNumber"`
	TotalQuestions int          `json:"totalQuestions"`
	EndTime        int64        `json:"endTime"`
}

type NewQuestionOptionsPayload struct {
	QuestionID string   `json:"questionId"`
	Options    []string `json:"options"`
	TimeLimit  int      `json:"timeLimit"`
}

type AnswerSubmittedPayload struct {
	QuestionID string `json:"questionId"`
}

type FeedbackPayload struct {
	QuestionID   string `json:"questionId"`
	Correct      bool   `json:"correct"`
	Answered     bool   `json:"answered"`
	Points       int    `json:"points"`
	Score        int    `json:"score"`
	CorrectIndex int    `json:"correctIndex"`
	Team         string `json:"team,omitempty"`
	TeamScore    *int   `json:"teamScore,omitempty"`
}

type RankedResult struct {
	Rank      int    `json:"rank"`
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Character *int   `json:"character,omitempty"`
	Score     int    `json:"score"`
	Points    int    `json:"points"`
	Correct   bool   `json:"correct"`
	Answered  bool   `json:"answered"`
}

type TeamScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type AllStudentsSubmittedPayload struct {
	QuestionID     string         `json:"questionId"`
	QuestionNumber int            `json:"questionNumber"`
	IsLastQuestion bool           `json:"isLastQuestion"`
	CorrectIndex   int            `json:"correctIndex"`
	Results        []RankedResult `json:"results"`
	Teams          []TeamScore    `json:"teams,omitempty"`
}

type TimeLeftPayload struct {
	Seconds int `json:"seconds"`
}

type PreparingNextQuestionPayload struct {
	QuestionNumber int   `json:"questionNumber"`
	IsLastQuestion bool  `json:"isLastQuestion"`
	DelayMs        int64 `json:"delayMs"`
}

type QuizCompletedPayload struct {
	Results []RankedResult `json:"results"`
	Teams   []TeamScore    `json:"teams,omitempty"`
}

type SessionEndedPayload struct {
	Reason string `json:"reason"`
}

type StudentView struct {
	StudentID    string `json:"studentId"`
	Name         string `json:"name"`
	Character    *int   `json:"character,omitempty"`
	Status       string `json:"status"`
	Score        int    `json:"score"`
	HasSubmitted bool   `json:"hasSubmitted"`
}

type SessionStatePayload struct {
	PIN                  string        `json:"pin"`
	SessionID            string        `json:"sessionId"`
	Phase                string        `json:"phase"`
	QuizStarted          bool          `json:"quizStarted"`
	IsQuestionActive     bool          `json:"isQuestionActive"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	TotalQuestions       int           `json:"totalQuestions"`
	IsTeamMode           bool          `json:"isTeamMode"`
	Teams                []TeamScore   `json:"teams,omitempty"`
	Students             []StudentView `json:"students"`
}

type StudentEventPayload struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name,omitempty"`
	Character *int   `json:"character,omitempty"`
	Status    string `json:"status,omitempty"`
}

type StudentSubmittedPayload struct {
	StudentID      string `json:"studentId"`
	Name           string `json:"name"`
	SubmittedCount int    `json:"submittedCount"`
	ActiveCount    int    `json:"activeCount"`
}

type ActiveStudentCountPayload struct {
	Count int `json:"count"`
}

type DetailedQuestion struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	TimeLimit    int      `json:"timeLimit"`
}

type DetailedResponse struct {
	QuestionID     string `json:"questionId"`
	AnswerIndex    *int   `json:"answerIndex"`
	Correct        bool   `json:"correct"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Points         int    `json:"points"`
}

type DetailedStudent struct {
	StudentID      string             `json:"studentId"`
	Name           string             `json:"name"`
	Character      *int               `json:"character,omitempty"`
	Score          int                `json:"score"`
	CorrectCount   int                `json:"correctCount"`
	TotalQuestions int                `json:"totalQuestions"`
	Responses      []DetailedResponse `json:"responses"`
}

type DetailedResultsPayload struct {
	SessionID string             `json:"sessionId"`
	QuizID    string             `json:"quizId"`
	Questions []DetailedQuestion `json:"questions"`
	Students  []DetailedStudent  `json:"students"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}
