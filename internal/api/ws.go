package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/triggersync/internal/observe"
)

// Command is one WebSocket request frame. ID is echoed in the reply so the
// page can correlate responses.
type Command struct {
	ID      string          `json:"id,omitempty"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply answers one [Command]. Status carries the HTTP status the same
// operation would have produced.
type Reply struct {
	ID     string `json:"id,omitempty"`
	Op     string `json:"op"`
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleWS runs one connection's read loop. Commands on a connection are
// applied strictly in arrival order.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("api: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	log := observe.Logger(ctx)
	log.Debug("api: websocket connected", "remote", r.RemoteAddr)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("api: websocket closed", "remote", r.RemoteAddr)
			default:
				if !errors.Is(err, context.Canceled) {
					log.Debug("api: websocket read failed", "remote", r.RemoteAddr, "err", err)
				}
			}
			return
		}

		reply := s.exec(ctx, typ, data)
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			log.Debug("api: websocket write failed", "remote", r.RemoteAddr, "err", err)
			return
		}
	}
}

func (s *Server) exec(ctx context.Context, typ websocket.MessageType, data []byte) Reply {
	if typ != websocket.MessageText {
		return Reply{Status: http.StatusBadRequest, Error: "binary frames are not supported"}
	}
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Reply{Status: http.StatusBadRequest, Error: "invalid command frame: " + err.Error()}
	}

	reply := Reply{ID: cmd.ID, Op: cmd.Op}
	res, err := s.Apply(ctx, cmd.Op, cmd.Payload)
	if err != nil {
		reply.Status = statusFor(err)
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	reply.Status = http.StatusOK
	reply.Result = res
	return reply
}

// originPatterns converts configured browser origins into the host patterns
// the WebSocket handshake checks. Empty admits every origin.
func originPatterns(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o == "*" || !strings.Contains(o, "://") {
			out = append(out, o)
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
