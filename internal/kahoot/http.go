package kahoot

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/live-quiz/internal/auth"
	"github.com/gokatarajesh/live-quiz/internal/quiz"
	httperrors "github.com/gokatarajesh/live-quiz/pkg/http/errors"
)

const maxCharacterCount = 100

// HTTPHandlers provides REST endpoints for live sessions.
type HTTPHandlers struct {
	service *Service
	logger  zerolog.Logger
}

// NewHTTPHandlers creates HTTP handlers for session endpoints.
func NewHTTPHandlers(service *Service, logger zerolog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		service: service,
		logger:  logger.With().Str("component", "kahoot_http").Logger(),
	}
}

// CreateSessionBody is the JSON body of POST /v1/sessions.
type CreateSessionBody struct {
	QuizID         string     `json:"quizId"`
	IsTeamMode     bool       `json:"isTeamMode"`
	Teams          []TeamSpec `json:"teams"`
	CharacterCount int        `json:"characterCount"`
}

// ValidationError reports an invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// CreateSession handles POST /v1/sessions
func (h *HTTPHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Claims are set by the auth middleware; RequireRole already checked the role.
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}

	var body CreateSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}
	if err := validateCreateSession(&body); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			httperrors.RespondValidationError(w, httperrors.ErrCodeValidationFailed, verr.Message, verr.Field)
			return
		}
		httperrors.RespondBadRequest(w, httperrors.ErrCodeValidationFailed, err.Error())
		return
	}

	res, err := h.service.CreateSession(r.Context(), CreateSessionRequest{
		TeacherID:      claims.UserID,
		QuizID:         body.QuizID,
		IsTeamMode:     body.IsTeamMode,
		Teams:          body.Teams,
		CharacterCount: body.CharacterCount,
	})
	switch {
	case errors.Is(err, quiz.ErrNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeQuizNotFound, "Quiz not found")
		return
	case errors.Is(err, ErrEmptyQuiz):
		httperrors.RespondError(w, http.StatusUnprocessableEntity, httperrors.ErrCodeValidationFailed, "Quiz has no questions")
		return
	case errors.Is(err, ErrPINExhausted):
		httperrors.RespondRetryable(w, httperrors.ErrCodePINExhausted, "No session PIN available, retry")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("teacher_id", claims.UserID).Str("quiz_id", body.QuizID).Msg("failed to create session")
		httperrors.RespondInternalError(w, "Failed to create session")
		return
	}

	h.respondJSON(w, http.StatusCreated, res)
}

func validateCreateSession(body *CreateSessionBody) error {
	body.QuizID = strings.TrimSpace(body.QuizID)
	if body.QuizID == "" {
		return &ValidationError{Field: "quizId", Message: "quizId is required"}
	}
	if body.CharacterCount < 0 || body.CharacterCount > maxCharacterCount {
		return &ValidationError{Field: "characterCount", Message: "characterCount must be between 0 and 100"}
	}
	if body.IsTeamMode {
		if len(body.Teams) < 2 {
			return &ValidationError{Field: "teams", Message: "team mode needs at least two teams"}
		}
		seen := make(map[string]bool, len(body.Teams))
		for _, t := range body.Teams {
			name := strings.TrimSpace(t.Name)
			if name == "" {
				return &ValidationError{Field: "teams", Message: "team name is required"}
			}
			if seen[name] {
				return &ValidationError{Field: "teams", Message: "team names must be unique"}
			}
			seen[name] = true
		}
	}
	return nil
}

func (h *HTTPHandlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	if err := httperrors.RespondJSON(w, status, data); err != nil {
		h.logger.Warn().Err(err).Msg("encode response")
	}
}
