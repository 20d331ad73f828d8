package kahoot

import (
	"errors"

	httperrors "github.com/gokatarajesh/live-quiz/pkg/http/errors"
)

var (
	// ErrSessionNotFound means the live session record is missing or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuestionsNotFound means the question snapshot is missing or expired.
	ErrQuestionsNotFound = errors.New("question snapshot not found")
	// ErrSessionEnded means the teacher already ended the session.
	ErrSessionEnded = errors.New("session ended")
	// ErrLockBusy means a lock could not be taken within the retry budget.
	ErrLockBusy = errors.New("operation in progress")
	// ErrWrongTeacher means the caller does not own the session.
	ErrWrongTeacher = errors.New("session belongs to another teacher")
	// ErrEmptyQuiz means the quiz has no questions to run.
	ErrEmptyQuiz = errors.New("quiz has no questions")
	// ErrPINExhausted means no free PIN was found within the attempt budget.
	ErrPINExhausted = errors.New("no free pin available")

	errStale = errors.New("state superseded")
)

// RejectError is a client-caused rejection. The socket stays open.
type RejectError struct {
	Code    string
	Message string
}

func (e *RejectError) Error() string {
	return e.Code + ": " + e.Message
}

func reject(code, message string) error {
	return &RejectError{Code: code, Message: message}
}

var (
	errQuizAlreadyStarted = reject(httperrors.ErrCodeQuizAlreadyStarted, "Quiz already started")
	errQuizNotStarted     = reject(httperrors.ErrCodeQuizNotStarted, "Quiz has not started")
	errQuestionActive     = reject(httperrors.ErrCodeQuestionActive, "Current question is still open")
	errNoMoreQuestions    = reject(httperrors.ErrCodeNoMoreQuestions, "No more questions, call endQuiz")
	errQuestionNotActive  = reject(httperrors.ErrCodeQuestionNotActive, "No question is accepting answers")
	errInvalidQuestion    = reject(httperrors.ErrCodeInvalidQuestion, "Question is not the current question")
	errInvalidAnswer      = reject(httperrors.ErrCodeInvalidAnswer, "Answer index out of range")
	errAlreadySubmitted   = reject(httperrors.ErrCodeAlreadySubmitted, "Answer already submitted")
	errNotParticipating   = reject(httperrors.ErrCodeNotParticipating, "Not participating in this question")
	errCharacterTaken     = reject(httperrors.ErrCodeCharacterTaken, "Character already taken")
	errInvalidCharacter   = reject(httperrors.ErrCodeInvalidCharacter, "Character not offered in this session")
	errResultsUnavailable = reject(httperrors.ErrCodeResultsUnavailable, "Results are available after the quiz ends")
)
