package handlers

import (
	"net/http"

	"github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/conversation"
	"github.com/teilomillet/econochat/server/middleware"
	"github.com/teilomillet/econochat/server/session"
	"github.com/teilomillet/econochat/server/validation"
	"go.uber.org/zap"
)

// ChatResponse is the body of a successful POST /api/chat.
type ChatResponse struct {
	Reply   string              `json:"reply"`
	History []conversation.Turn `json:"history"`
}

// HistoryResponse is the body of GET /api/chat/history.
type HistoryResponse struct {
	History []conversation.Turn `json:"history"`
}

// ChatHandler serves the conversational assistant. The session is
// identified by the signed cookie managed by codec.
type ChatHandler struct {
	engine    *conversation.Engine
	codec     *session.Codec
	validator *validation.Validator
	logger    *zap.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(engine *conversation.Engine, codec *session.Codec, v *validation.Validator, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		engine:    engine,
		codec:     codec,
		validator: v,
		logger:    logger,
	}
}

// History returns the stored turns of the caller's session. Callers without
// a session get an empty history and no cookie.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	history := []conversation.Turn{}
	if id, ok := h.codec.Peek(r); ok {
		var err error
		history, err = h.engine.History(r.Context(), id)
		if err != nil {
			writeFailure(w, r, h.logger, err)
			return
		}
	}
	writeJSON(w, h.logger, http.StatusOK, HistoryResponse{History: history})
}

// Send runs one exchange. On any failure the stored history is unchanged.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req validation.ChatRequest
	if err := validation.DecodeJSON(r, maxJSONBody, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeFailure(w, r, h.logger, validationFailure(requestID, conversation.MessageEmpty, err))
		return
	}

	sessionID := h.codec.Identify(w, r)
	exchange, err := h.engine.Converse(r.Context(), sessionID, req.Message.String())
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, ChatResponse{
		Reply:   exchange.Reply,
		History: exchange.History,
	})
}

// Reset clears the caller's history.
func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.codec.Peek(r); ok {
		if err := h.engine.Reset(r.Context(), id); err != nil {
			writeFailure(w, r, h.logger, err)
			return
		}
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]bool{"ok": true})
}

// validationFailure maps a validator error to the user facing message of
// the endpoint, keeping the failed rules as details.
func validationFailure(requestID, message string, err error) *errors.AppError {
	var details map[string]interface{}
	var verr *validation.Error
	if errors.As(err, &verr) {
		details = verr.Details()
	}
	return errors.NewValidationError(requestID, message, details)
}
