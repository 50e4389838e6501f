package handler

import (
	"context"
	stdErrors "errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/echonote/echonote/errors"
	dto "github.com/echonote/echonote/internal/adapter/dto/session"
	"github.com/echonote/echonote/internal/infrastructure/connection"
	sessionUsecase "github.com/echonote/echonote/internal/usecase/session"
	"github.com/echonote/echonote/internal/usecase/stream"
)

const (
	stopCommand   = "stop"
	maxChunkBytes = 16 << 20
	writeWait     = 10 * time.Second
)

// SessionOpener starts live sessions
type SessionOpener interface {
	Open(ctx context.Context, input sessionUsecase.OpenInput) (*sessionUsecase.LiveSession, error)
}

// Stream handles the live audio websocket
type Stream struct {
	sessions SessionOpener
	registry *connection.Registry
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler creates a new live audio handler. An empty allowedOrigins
// accepts any origin.
func NewStreamHandler(sessions SessionOpener, registry *connection.Registry, allowedOrigins []string, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		sessions: sessions,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// Handle handles GET /ws/:client_id
// @Summary      Live transcription socket
// @Description  Binary frames carry audio chunks; a text frame "stop" ends the stream.
// @Description  Each chunk yields {chunk_index, original_text, translated_text}; the
// @Description  session summary is sent before the close frame.
// @Tags         Stream
// @Security     BearerAuth
// @Param        client_id  path   string  true  "Client connection id"
// @Param        source     query  string  true  "Source language code"  example(fr)
// @Param        target     query  string  true  "Target language code"  example(en)
// @Success      101  "Switching protocols"
// @Failure      400  {object}  map[string]interface{}  "Invalid language or client id"
// @Failure      401  {object}  map[string]interface{}  "User not authenticated"
// @Router       /ws/{client_id} [get]
func (h *Stream) Handle(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return HandleError(h.logger, c, err)
	}

	var req dto.StreamRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument(err.Error()))
	}
	if err := c.Validate(&req); err != nil {
		return HandleError(h.logger, c, errors.ErrInvalidArgument(err.Error()))
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already replied
		h.logger.Warn("websocket upgrade failed", zap.String("client_id", req.ClientID), zap.Error(err))
		return nil
	}
	ws.SetReadLimit(maxChunkBytes)

	conn := &socket{ws: ws}
	h.registry.Add(req.ClientID, ws)
	defer func() {
		h.registry.Remove(req.ClientID, ws)
		_ = ws.Close()
	}()

	log := h.logger.With(zap.String("client_id", req.ClientID))
	ctx := c.Request().Context()

	live, err := h.sessions.Open(ctx, sessionUsecase.OpenInput{
		UserID:         userID,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		DeviceInfo: map[string]interface{}{
			"client_id":  req.ClientID,
			"user_agent": c.Request().UserAgent(),
			"remote_ip":  c.RealIP(),
		},
	})
	if err != nil {
		log.Error("failed to open session", zap.Error(err))
		_ = conn.writeJSON(dto.ErrorMessage{Error: errors.CodeOf(err).String(), Message: err.Error()})
		conn.close(websocket.CloseInternalServerErr, "session unavailable")
		return nil
	}
	log = log.With(zap.String("session_id", live.ID().String()))

	send := func(_ context.Context, msg sessionUsecase.ChunkMessage) error {
		return conn.writeJSON(msg)
	}
	if err := live.Stream(ctx, conn.source(log), send); err != nil {
		log.Warn("stream ended with error", zap.Error(err))
	}

	summary, err := live.Close(ctx)
	if err != nil {
		log.Error("failed to close session", zap.Error(err))
		_ = conn.writeJSON(dto.ErrorMessage{Error: errors.CodeOf(err).String(), Message: err.Error()})
		conn.close(websocket.CloseInternalServerErr, "finalization failed")
		return nil
	}

	if err := conn.writeJSON(summary); err != nil {
		log.Debug("summary not delivered, client gone", zap.Error(err))
	}
	conn.close(websocket.CloseNormalClosure, "")
	return nil
}

// socket serializes writes on one websocket connection
type socket struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (s *socket) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteJSON(v)
}

func (s *socket) close(code int, text string) {
	_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// source reads audio chunks from binary frames. A "stop" text frame or a
// closed connection ends the stream.
func (s *socket) source(log *zap.Logger) stream.ChunkSource {
	return stream.ChunkSourceFunc(func(ctx context.Context) ([]byte, error) {
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			mt, data, err := s.ws.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if stdErrors.As(err, &closeErr) {
					return nil, io.EOF
				}
				return nil, err
			}
			switch mt {
			case websocket.BinaryMessage:
				if len(data) == 0 {
					continue
				}
				return data, nil
			case websocket.TextMessage:
				if strings.EqualFold(strings.TrimSpace(string(data)), stopCommand) {
					return nil, io.EOF
				}
				log.Debug("ignoring text frame", zap.Int("size", len(data)))
			}
		}
	})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// non-browser clients
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
