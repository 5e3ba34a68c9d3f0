package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/internal"
)

// Client to server frame. Method names match the web client's hub invocations.
type rpcRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     int64       `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *rpcError   `json:"error,omitempty"`
}

type startParams struct {
	CollaborationID string `json:"collaborationId"`
	ChangePayload
}

// Handler is the net/http entry point for hub connections: it authenticates
// the upgrade request, registers the connection with its meeting group, and
// then serves JSON RPC frames until the peer goes away.
type Handler struct {
	Hub      *Hub
	Conns    *ConnMap
	auth     *Authenticator
	upgrader websocket.Upgrader
}

func NewHandler(h *Hub, conns *ConnMap, auth *Authenticator) *Handler {
	return &Handler{
		Hub:   h,
		Conns: conns,
		auth:  auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the signed connection context is the access control; the Origin
			// header is not, since native meeting clients don't send one
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	identity, err := h.auth.Authenticate(req)
	if err != nil {
		herr := &internal.HandlerError{StatusCode: http.StatusUnauthorized, Err: err}
		w.WriteHeader(herr.StatusCode)
		w.Write(herr.JSON())
		return
	}
	ws, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := NewConn(identity, ws)
	h.Conns.Add(conn)
	conn.StartWritePump()
	go h.readLoop(conn)
}

func (h *Handler) readLoop(conn *Conn) {
	defer h.Conns.Remove(conn)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn().Str("c", conn.Identity.ConnectionID).Err(err).Msg("discarding malformed frame")
			continue
		}
		// each inbound call runs on its own goroutine, detached from the
		// connection's lifetime: a disconnect mid-call must not cancel an
		// in-flight provisioning operation
		go h.dispatch(conn, req)
	}
}

func (h *Handler) dispatch(conn *Conn, req rpcRequest) {
	id := conn.Identity
	ctx := internal.ConnContext(context.Background())
	internal.SetConnContextClaims(ctx, id.UserID, id.MeetingID, id.ConnectionID)
	internal.SetConnContextMethod(ctx, req.Method)

	res := h.call(ctx, conn, req)
	frame, err := json.Marshal(res)
	if err != nil {
		internal.ReportError(ctx, err, "failed to marshal rpc response")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		logger.Warn().Str("c", id.ConnectionID).Int64("id", req.ID).Msg("dropping rpc response for slow connection")
	}
}

// methods that only make sense inside a meeting
var meetingScoped = map[string]bool{
	"CheckCollaboration":  true,
	"GetCollaboration":    true,
	"CheckRights":         true,
	"CollaborateStart":    true,
	"CollaborateChanging": true,
	"CollaborateChange":   true,
	"CollaborateEnd":      true,
}

func (h *Handler) call(ctx context.Context, conn *Conn, req rpcRequest) rpcResponse {
	id := conn.Identity
	if meetingScoped[req.Method] && id.MeetingID == "" {
		return errorResponse(ctx, req.ID, &internal.PreconditionError{Reason: "connection has no meeting claim"})
	}
	switch req.Method {
	case "CheckIfUser":
		restricted, err := h.Hub.CheckIfUser(ctx, id)
		if err != nil {
			return errorResponse(ctx, req.ID, err)
		}
		return rpcResponse{ID: req.ID, Result: restricted}

	case "CheckCollaboration":
		return rpcResponse{ID: req.ID, Result: h.Hub.CheckCollaboration(ctx, id)}

	case "GetCollaboration":
		if snap, ok := h.Hub.GetCollaboration(ctx, id); ok {
			h.Conns.SendTo(conn, EventCollaboration, snap)
		}
		return rpcResponse{ID: req.ID}

	case "CheckRights":
		return rpcResponse{ID: req.ID, Result: h.Hub.CheckRights(ctx, id)}

	case "CollaborateStart":
		var p startParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(ctx, req.ID, &internal.PreconditionError{Reason: "malformed params"})
		}
		return resultResponse(ctx, req.ID, h.Hub.CollaborateStart(ctx, id, p.CollaborationID, p.ChangePayload))

	case "CollaborateChanging":
		return resultResponse(ctx, req.ID, h.Hub.CollaborateChanging(ctx, id))

	case "CollaborateChange":
		var p ChangePayload
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(ctx, req.ID, &internal.PreconditionError{Reason: "malformed params"})
		}
		return resultResponse(ctx, req.ID, h.Hub.CollaborateChange(ctx, id, p))

	case "CollaborateEnd":
		return resultResponse(ctx, req.ID, h.Hub.CollaborateEnd(ctx, id))

	default:
		return errorResponse(ctx, req.ID, &internal.PreconditionError{Reason: "unknown method " + req.Method})
	}
}

func resultResponse(ctx context.Context, id int64, err error) rpcResponse {
	if err != nil {
		return errorResponse(ctx, id, err)
	}
	return rpcResponse{ID: id}
}

func errorResponse(ctx context.Context, id int64, err error) rpcResponse {
	var uerr *internal.UnauthorizedError
	var perr *internal.PreconditionError
	switch {
	case errors.As(err, &uerr):
		internal.DecorateLogger(ctx, logger.Warn()).Msg(uerr.Error())
		return rpcResponse{ID: id, Error: &rpcError{Code: "unauthorized", Message: uerr.Error()}}
	case errors.As(err, &perr):
		return rpcResponse{ID: id, Error: &rpcError{Code: "invalid_request", Message: perr.Error()}}
	default:
		internal.ReportError(ctx, err, "hub call failed")
		return rpcResponse{ID: id, Error: &rpcError{Code: "internal", Message: "internal error"}}
	}
}
