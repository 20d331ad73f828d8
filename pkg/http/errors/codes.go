package errors

// Error codes for standardized error responses
const (
	// Authentication errors
	ErrCodeUnauthorized           = "unauthorized"
	ErrCodeForbidden              = "forbidden"
	ErrCodeInvalidToken           = "invalid_token"
	ErrCodeTokenExpired           = "token_expired"
	ErrCodeAuthenticationRequired = "authentication_required"

	// Validation errors
	ErrCodeInvalidRequest   = "invalid_request"
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeMissingField     = "missing_field"

	// Resource errors
	ErrCodeNotFound      = "not_found"
	ErrCodeAlreadyExists = "already_exists"
	ErrCodeConflict      = "conflict"

	// Session errors
	ErrCodeSessionCreationFailed = "session_creation_failed"
	ErrCodeSessionNotFound       = "session_not_found"
	ErrCodeSessionEnded          = "session_ended"
	ErrCodeQuestionsNotFound     = "questions_not_found"
	ErrCodeQuizNotFound          = "quiz_not_found"
	ErrCodePINExhausted          = "pin_exhausted"
	ErrCodeWrongTeacher          = "wrong_teacher"
	ErrCodeOperationInProgress   = "operation_in_progress"

	// Quiz flow rejections
	ErrCodeQuizAlreadyStarted = "quiz_already_started"
	ErrCodeQuizNotStarted     = "quiz_not_started"
	ErrCodeNoMoreQuestions    = "no_more_questions"
	ErrCodeQuestionActive     = "question_active"
	ErrCodeQuestionNotActive  = "question_not_active"
	ErrCodeInvalidQuestion    = "invalid_question"
	ErrCodeInvalidAnswer      = "invalid_answer"
	ErrCodeAlreadySubmitted   = "already_submitted"
	ErrCodeNotParticipating   = "not_participating"
	ErrCodeCharacterTaken     = "character_taken"
	ErrCodeInvalidCharacter   = "invalid_character"
	ErrCodeResultsUnavailable = "results_unavailable"

	// WebSocket errors
	ErrCodeInvalidPayload     = "invalid_payload"
	ErrCodeUnknownMessageType = "unknown_message_type"
	ErrCodeConnectionError    = "connection_error"

	// Server errors
	ErrCodeInternalError      = "internal_error"
	ErrCodeServiceUnavailable = "service_unavailable"
)
