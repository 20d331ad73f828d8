package kahoot

import (
	"net/http"

	"github.com/gokatarajesh/live-quiz/internal/auth/jwt"
	"github.com/gokatarajesh/live-quiz/internal/server"
	httperrors "github.com/gokatarajesh/live-quiz/pkg/http/errors"
)

// HandleWebSocket authenticates the token and PIN, then upgrades the request.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Extract and validate token from query parameter
	token := r.URL.Query().Get("token")
	if token == "" {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Missing token")
		return
	}

	claims, err := h.validator.ValidateAccessToken(token)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket token validation failed")
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Invalid token")
		return
	}

	pin := r.URL.Query().Get("pin")
	if pin == "" {
		pin = claims.PIN
	}
	if pin == "" {
		httperrors.RespondValidationError(w, httperrors.ErrCodeMissingField, "pin is required", "pin")
		return
	}
	if claims.PIN != "" && claims.PIN != pin {
		httperrors.RespondForbidden(w, httperrors.ErrCodeForbidden, "Token is not valid for this session")
		return
	}

	name := claims.DisplayName
	if name == "" {
		name = r.URL.Query().Get("name")
	}

	conn, err := server.WSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	role := claims.Role
	if role != jwt.RoleTeacher {
		role = jwt.RoleStudent
	}
	h.HandleConnection(conn, &Client{
		Role:   role,
		UserID: claims.UserID,
		Name:   name,
		PIN:    pin,
	})
}
