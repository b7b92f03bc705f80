package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"qubix-server/auth"
	"qubix-server/entities"
	"qubix-server/usecases"
	"qubix-server/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize  = 64 << 10
	anonymousPrefix = "anon:"
)

// inbound frames may carry their fields under "data" or at the top level.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type heartbeatPayload struct {
	WorkerID   string              `json:"workerId"`
	ProviderID string              `json:"providerId"`
	Metrics    entities.GPUMetrics `json:"metrics"`
}

type progressPayload struct {
	JobID    string `json:"jobId"`
	Progress int    `json:"progress"`
}

type completePayload struct {
	JobID  string          `json:"jobId"`
	Result json.RawMessage `json:"result"`
}

type failPayload struct {
	JobID string `json:"jobId"`
	Error string `json:"error"`
}

type subscribePayload struct {
	Topics []string `json:"topics"`
}

// WSHandler groups dependencies for websocket flows
type WSHandler struct {
	mgr       *ws.Manager
	providers *usecases.ProviderUseCase
	jobs      *usecases.JobUseCase
	log       *slog.Logger
}

func NewWSHandler(mgr *ws.Manager, providers *usecases.ProviderUseCase, jobs *usecases.JobUseCase, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{mgr: mgr, providers: providers, jobs: jobs, log: log}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func validRole(role string) bool {
	switch role {
	case ws.RoleConsumer, ws.RoleProvider, ws.RoleDashboard:
		return true
	}
	return false
}

// HandleWS upgrades to websocket and reads messages from the client
// GET /ws?id=<client id>&role=<consumer|provider|dashboard>[&token=<jwt>]
func (h *WSHandler) HandleWS(c *gin.Context) {
	clientID := c.Query("id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing client id"})
		return
	}
	role := c.DefaultQuery("role", ws.RoleConsumer)
	if !validRole(role) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid role"})
		return
	}
	clientID, status, msg := h.identify(c, clientID, role)
	if status != 0 {
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "client_id", clientID, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	log := h.log.With("client_id", clientID, "role", role)
	if err := h.mgr.Register(clientID, role, conn); err != nil {
		log.Warn("websocket registration refused", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	log.Info("client connected")
	defer func() {
		h.mgr.Unregister(clientID, conn)
		log.Info("client disconnected")
	}()

	_ = h.mgr.SendTo(clientID, ws.TypeConnected, gin.H{"clientId": clientID, "role": role})

	ctx := context.WithoutCancel(c.Request.Context())
	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read error", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		h.dispatch(ctx, log, clientID, message)
	}
}

// identify maps the requested id to the id the connection is registered
// under. Provider and worker ids route to the provider and need its owner's
// token when it has one. Other ids must match the token's user; without a
// token they are namespaced so they never collide with user ids.
func (h *WSHandler) identify(c *gin.Context, id, role string) (string, int, string) {
	claims, authed := auth.FromContext(c)

	if p, err := h.providers.Get(c.Request.Context(), id); err == nil {
		if role != ws.RoleProvider {
			return "", http.StatusForbidden, "id belongs to a provider"
		}
		if p.UserID != "" && (!authed || claims.UserID() != p.UserID) {
			return "", http.StatusUnauthorized, "provider owner token required"
		}
		return p.ID, 0, ""
	}

	if !authed {
		return anonymousPrefix + id, 0, ""
	}
	if claims.UserID() != id {
		return "", http.StatusForbidden, "id does not match token"
	}
	return id, 0, ""
}

func (h *WSHandler) dispatch(ctx context.Context, log *slog.Logger, clientID string, message []byte) {
	var base inbound
	if err := json.Unmarshal(message, &base); err != nil {
		log.Debug("invalid json", "error", err)
		h.reply(clientID, "invalid message")
		return
	}
	body := []byte(base.Data)
	if len(body) == 0 || string(body) == "null" {
		body = message
	}

	var err error
	switch base.Type {
	case ws.TypeHeartbeat:
		var p heartbeatPayload
		if err = json.Unmarshal(body, &p); err != nil {
			break
		}
		ref := p.ProviderID
		if ref == "" {
			ref = p.WorkerID
		}
		if ref == "" {
			ref = clientID
		}
		_, err = h.providers.Heartbeat(ctx, ref, p.Metrics)
	case ws.TypeJobProgress:
		var p progressPayload
		if err = json.Unmarshal(body, &p); err != nil {
			break
		}
		_, err = h.jobs.UpdateProgress(ctx, p.JobID, p.Progress)
	case ws.TypeJobComplete:
		var p completePayload
		if err = json.Unmarshal(body, &p); err != nil {
			break
		}
		_, err = h.jobs.Complete(ctx, p.JobID, string(p.Result))
	case ws.TypeJobFail:
		var p failPayload
		if err = json.Unmarshal(body, &p); err != nil {
			break
		}
		_, err = h.jobs.Fail(ctx, p.JobID, p.Error)
	case ws.TypeSubscribe:
		var p subscribePayload
		_ = json.Unmarshal(body, &p)
		_ = h.mgr.SendTo(clientID, ws.TypeSubscribed, gin.H{"topics": p.Topics})
	case ws.TypePing:
		_ = h.mgr.SendTo(clientID, ws.TypePong, nil)
	default:
		log.Warn("unknown message type", "type", base.Type)
		return
	}
	if err != nil {
		log.Warn("message handling failed", "type", base.Type, "error", err)
		h.reply(clientID, err.Error())
	}
}

func (h *WSHandler) reply(clientID, msg string) {
	_ = h.mgr.SendTo(clientID, ws.TypeError, gin.H{"error": msg})
}

// Connected handles GET /api/ws/connected
func (h *WSHandler) Connected(c *gin.Context) {
	clients := h.mgr.List()
	c.JSON(http.StatusOK, gin.H{"clients": clients, "count": len(clients), "byRole": h.mgr.Count()})
}
