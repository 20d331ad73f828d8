package kahoot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/live-quiz/internal/auth"
	"github.com/gokatarajesh/live-quiz/internal/logging"
	httperrors "github.com/gokatarajesh/live-quiz/pkg/http/errors"
	ws "github.com/gokatarajesh/live-quiz/pkg/http/ws"
)

// Handler manages live-session WebSocket connections and routes their messages.
type Handler struct {
	service   *Service
	registry  *ws.Registry
	validator auth.TokenValidator
	connOpts  ws.ConnOptions
	logger    zerolog.Logger
}

// NewHandler creates a live-session WebSocket handler.
func NewHandler(service *Service, registry *ws.Registry, validator auth.TokenValidator, connOpts ws.ConnOptions, logger zerolog.Logger) *Handler {
	return &Handler{
		service:   service,
		registry:  registry,
		validator: validator,
		connOpts:  connOpts,
		logger:    logger.With().Str("component", "kahoot_ws").Logger(),
	}
}

// HandleConnection serves one authenticated socket until it closes.
func (h *Handler) HandleConnection(conn *websocket.Conn, client *Client) {
	logger := logging.ForConnection(h.logger, client.PIN, client.Role, client.UserID)
	wsConn := ws.NewConnection(conn, h.connOpts, *logger)
	client.Peer = wsConn
	ctx := logging.IntoContext(context.Background(), *logger)

	// Start write pump
	go wsConn.WritePump()

	if err := h.register(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("register connection")
		h.sendError(client, httperrors.ErrCodeServiceUnavailable, "Could not join session", true)
		wsConn.Close()
		return
	}

	if err := h.handleError(ctx, client, h.connect(ctx, client)); err != nil {
		h.unregister(ctx, client)
		wsConn.Close()
		return
	}

	// Handle incoming messages
	wsConn.ReadPump(func(msg ws.Message) error {
		return h.handleError(ctx, client, h.handleMessage(ctx, client, msg))
	})

	// Cleanup on disconnect
	if h.unregister(ctx, client) {
		h.disconnect(ctx, client)
	}
	wsConn.Close()
}

func (h *Handler) register(ctx context.Context, c *Client) error {
	if c.Role == ws.RoleTeacher {
		return h.registry.RegisterTeacher(ctx, c.PIN, c.UserID, c.Peer)
	}
	return h.registry.RegisterStudent(ctx, c.PIN, c.UserID, c.Peer)
}

// unregister reports whether c was still the registered socket for its role.
func (h *Handler) unregister(ctx context.Context, c *Client) bool {
	if c.Role == ws.RoleTeacher {
		return h.registry.UnregisterTeacher(ctx, c.PIN, c.Peer)
	}
	return h.registry.UnregisterStudent(ctx, c.PIN, c.UserID, c.Peer)
}

func (h *Handler) connect(ctx context.Context, c *Client) error {
	if c.Role == ws.RoleTeacher {
		return h.service.ConnectTeacher(ctx, c)
	}
	return h.service.ConnectStudent(ctx, c)
}

func (h *Handler) disconnect(ctx context.Context, c *Client) {
	var err error
	if c.Role == ws.RoleTeacher {
		err = h.service.DisconnectTeacher(ctx, c)
	} else {
		err = h.service.DisconnectStudent(ctx, c)
	}
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("disconnect handling failed")
	}
}

// handleMessage routes incoming WebSocket messages.
func (h *Handler) handleMessage(ctx context.Context, c *Client, msg ws.Message) error {
	if c.Role == ws.RoleTeacher {
		switch msg.Type {
		case ws.TypeStartQuiz:
			return h.service.StartQuiz(ctx, c)
		case ws.TypeNextQuestion:
			return h.service.NextQuestion(ctx, c)
		case ws.TypeTimeUp:
			return h.service.TimeUp(ctx, c)
		case ws.TypeEndQuiz:
			return h.service.EndQuiz(ctx, c)
		case ws.TypeViewDetailedResults:
			return h.service.ViewDetailedResults(ctx, c)
		}
	} else {
		switch msg.Type {
		case ws.TypeCharacterSelected:
			var req ws.CharacterSelectedPayload
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				return reject(httperrors.ErrCodeInvalidPayload, "Invalid characterSelected payload")
			}
			return h.service.SelectCharacter(ctx, c, req.Character)
		case ws.TypeReady:
			return h.service.Ready(ctx, c)
		case ws.TypeSubmitAnswer:
			var req ws.SubmitAnswerPayload
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				return reject(httperrors.ErrCodeInvalidPayload, "Invalid submitAnswer payload")
			}
			return h.service.SubmitAnswer(ctx, c, req)
		case ws.TypeGetTakenCharacters:
			return h.service.GetTakenCharacters(ctx, c)
		}
	}
	return reject(httperrors.ErrCodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", msg.Type))
}

// handleError turns a handler error into a client error frame. It returns
// ws.ErrCloseRequested when the socket must be closed.
func (h *Handler) handleError(ctx context.Context, c *Client, err error) error {
	if err == nil {
		return nil
	}

	var rej *RejectError
	switch {
	case errors.Is(err, ErrLockBusy):
		h.sendError(c, httperrors.ErrCodeOperationInProgress, "Operation in progress, retry", true)
		return nil
	case errors.As(err, &rej):
		h.sendError(c, rej.Code, rej.Message, false)
		return nil
	case errors.Is(err, ErrSessionNotFound):
		h.sendError(c, httperrors.ErrCodeSessionNotFound, "Session not found, rejoin with a valid PIN", false)
	case errors.Is(err, ErrQuestionsNotFound):
		h.sendError(c, httperrors.ErrCodeQuestionsNotFound, "Session questions not found, rejoin", false)
	case errors.Is(err, ErrSessionEnded):
		h.sendError(c, httperrors.ErrCodeSessionEnded, "Session has ended", false)
	case errors.Is(err, ErrWrongTeacher):
		h.sendError(c, httperrors.ErrCodeWrongTeacher, "Session belongs to another teacher", false)
	default:
		logging.FromContext(ctx).Error().Err(err).Msg("message handler failed")
		h.sendError(c, httperrors.ErrCodeInternalError, "Internal error", false)
	}
	return ws.ErrCloseRequested
}

func (h *Handler) sendError(c *Client, code, message string, retryable bool) {
	if err := c.reply(ws.TypeError, ws.ErrorPayload{Code: code, Message: message, Retryable: retryable}); err != nil {
		h.logger.Debug().Err(err).Str("code", code).Msg("send error frame")
	}
}
