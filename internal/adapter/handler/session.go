package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/echonote/echonote/errors"
	dto "github.com/echonote/echonote/internal/adapter/dto/session"
	"github.com/echonote/echonote/internal/domain/entities"
	sessionUsecase "github.com/echonote/echonote/internal/usecase/session"
)

const audioURLExpiry = time.Hour

// SessionReader is the read side of the session service
type SessionReader interface {
	GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*entities.Session, error)
	GetTranscript(ctx context.Context, userID, sessionID uuid.UUID) (*sessionUsecase.TranscriptView, error)
	ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*sessionUsecase.SessionView, error)
	ListAudio(ctx context.Context, userID, sessionID uuid.UUID, expiry time.Duration) (*sessionUsecase.AudioList, error)
	OpenMergedAudio(ctx context.Context, userID, sessionID uuid.UUID) ([]byte, string, error)
}

// Session handles session history requests
type Session struct {
	sessions SessionReader
	logger   *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions SessionReader, logger *zap.Logger) *Session {
	return &Session{
		sessions: sessions,
		logger:   logger,
	}
}

// ListRecent handles GET /v1/sessions/recent
// @Summary      List recent sessions
// @Description  Returns the latest sessions of the current user with their merged text
// @Tags         Sessions
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query     int  false  "Maximum number of sessions (1-100)"  default(10)
// @Success      200    {object}  map[string]interface{}  "Recent sessions"
// @Failure      400    {object}  map[string]interface{}  "Invalid limit"
// @Failure      401    {object}  map[string]interface{}  "User not authenticated"
// @Router       /v1/sessions/recent [get]
func (h *Session) ListRecent(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return HandleError(h.logger, c, err)
	}

	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		return HandleError(h.logger, c, err)
	}
	req := dto.ListRecentRequest{Limit: limit}
	if err := c.Validate(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument(err.Error()))
	}

	views, err := h.sessions.ListRecent(c.Request().Context(), userID, req.Limit)
	if err != nil {
		return HandleError(h.logger, c, err)
	}
	return HandleSuccess(h.logger, c, views)
}

// GetSession handles GET /v1/sessions/:id
// @Summary      Get session
// @Tags         Sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  session.SessionResponse
// @Failure      403  {object}  map[string]interface{}  "Session owned by another user"
// @Failure      404  {object}  map[string]interface{}  "Session not found"
// @Router       /v1/sessions/{id} [get]
func (h *Session) GetSession(c echo.Context) error {
	userID, sessionID, err := h.scope(c)
	if err != nil {
		return HandleError(h.logger, c, err)
	}

	sess, err := h.sessions.GetSession(c.Request().Context(), userID, sessionID)
	if err != nil {
		return HandleError(h.logger, c, err)
	}
	return HandleSuccess(h.logger, c, dto.ToSessionResponse(sess))
}

// GetTranscript handles GET /v1/sessions/:id/transcript
// @Summary      Get session transcript
// @Description  Returns the merged transcript; before close the chunks are merged on the fly
// @Tags         Sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "No transcript for session"
// @Router       /v1/sessions/{id}/transcript [get]
func (h *Session) GetTranscript(c echo.Context) error {
	userID, sessionID, err := h.scope(c)
	if err != nil {
		return HandleError(h.logger, c, err)
	}

	view, err := h.sessions.GetTranscript(c.Request().Context(), userID, sessionID)
	if err != nil {
		return HandleError(h.logger, c, err)
	}
	return HandleSuccess(h.logger, c, view)
}

// ListAudio handles GET /v1/sessions/:id/audios
// @Summary      List session audio
// @Description  Returns presigned download URLs valid for one hour
// @Tags         Sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "No audio for session"
// @Router       /v1/sessions/{id}/audios [get]
func (h *Session) ListAudio(c echo.Context) error {
	userID, sessionID, err := h.scope(c)
	if err != nil {
		return HandleError(h.logger, c, err)
	}

	list, err := h.sessions.ListAudio(c.Request().Context(), userID, sessionID, audioURLExpiry)
	if err != nil {
		return HandleError(h.logger, c, err)
	}
	return HandleSuccess(h.logger, c, list)
}

// StreamAudio handles GET /v1/sessions/:id/audio/stream
// @Summary      Stream merged audio
// @Tags         Sessions
// @Produce      octet-stream
// @Security     BearerAuth
// @Param        id   path  string  true  "Session ID"
// @Success      200  {file}    binary
// @Failure      404  {object}  map[string]interface{}  "Session not finalized or audio missing"
// @Router       /v1/sessions/{id}/audio/stream [get]
func (h *Session) StreamAudio(c echo.Context) error {
	userID, sessionID, err := h.scope(c)
	if err != nil {
		return HandleError(h.logger, c, err)
	}

	data, contentType, err := h.sessions.OpenMergedAudio(c.Request().Context(), userID, sessionID)
	if err != nil {
		return HandleError(h.logger, c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "inline; filename=\""+sessionID.String()+"\"")
	return c.Blob(http.StatusOK, contentType, data)
}

func (h *Session) scope(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	userID, err := currentUser(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, sessionID, nil
}
