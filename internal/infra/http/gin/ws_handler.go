package ginserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"findit/internal/infra/realtime"
)

const defaultAuthTimeout = 10 * time.Second

type clientFrame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

type serverFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
}

// RealtimeHandler upgrades /ws. The first client frame must authenticate within
// AuthTimeout; the socket is then subscribed to the caller's push topic.
type RealtimeHandler struct {
	Hub            *realtime.Hub
	Verifier       TokenVerifier
	AuthTimeout    time.Duration
	AllowedOrigins []string
	Logger         *slog.Logger
}

func (h RealtimeHandler) Serve(c *gin.Context) {
	if h.Hub == nil || h.Verifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime unavailable"})
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket upgrade failed", "error", err)
		}
		return
	}
	conn := realtime.NewConnection(ws)
	ws.SetReadLimit(realtime.MaxFrameSize)

	userID, reason := h.authenticate(conn)
	if userID == "" {
		if h.Logger != nil {
			h.Logger.Info("websocket auth rejected", "reason", reason, "connection_id", conn.ID())
		}
		conn.Close(realtime.ClosePolicyViolation, reason)
		return
	}
	conn.UserID = userID
	// auth:ok is queued before subscribing and flushed after, so it is always the
	// first frame and the client is reachable once it sees it
	if err := h.reply(conn, serverFrame{Type: "auth:ok", UserID: userID}); err != nil {
		conn.Close(realtime.CloseGoingAway, "")
		return
	}
	if !h.Hub.Subscribe(userID, conn) {
		conn.Close(realtime.CloseGoingAway, "server shutting down")
		return
	}
	defer func() {
		h.Hub.Unsubscribe(conn)
		conn.Close(realtime.CloseNormal, "")
	}()
	conn.Start()
	if h.Logger != nil {
		h.Logger.Debug("websocket subscribed", "user_id", userID, "connection_id", conn.ID())
	}

	conn.KeepAlive()
	for {
		data, err := conn.Read(time.Time{})
		if err != nil {
			return
		}
		conn.ExtendRead()
		var frame clientFrame
		if json.Unmarshal(data, &frame) != nil {
			continue
		}
		if frame.Type == "ping" {
			if err := h.reply(conn, serverFrame{Type: "pong"}); err != nil {
				return
			}
		}
	}
}

// authenticate returns the user id, or an empty id and the close reason.
func (h RealtimeHandler) authenticate(conn *realtime.Connection) (string, string) {
	timeout := h.AuthTimeout
	if timeout <= 0 {
		timeout = defaultAuthTimeout
	}
	data, err := conn.Read(time.Now().Add(timeout))
	if err != nil {
		return "", "auth timeout"
	}
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "auth" {
		return "", "auth required"
	}
	identity, err := h.Verifier.Verify(strings.TrimSpace(frame.Token))
	if err != nil || identity.UserID == "" {
		return "", "invalid token"
	}
	return identity.UserID, ""
}

func (h RealtimeHandler) reply(conn *realtime.Connection, frame serverFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Send(payload)
}

func (h RealtimeHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Scheme+"://"+u.Host) {
			return true
		}
	}
	return false
}
