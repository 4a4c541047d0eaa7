package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	commonlog "review_server/server/common/log"
	"review_server/server/review/domain"
)

const (
	wsWriteWait      = 5 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
	wsOutboxSize     = 64
	wsLookupTimeout  = 5 * time.Second

	wsTypeJoin  = "file.join"
	wsTypeLeave = "file.leave"
)

type wsEnvelope struct {
	Type   string `json:"type"`
	FileID string `json:"file_id"`
}

type fileLookup interface {
	GetFile(ctx context.Context, fileID string) (domain.File, error)
}

type RealtimeService struct {
	hub      *Hub
	files    fileLookup
	upgrader websocket.Upgrader
}

func NewRealtimeService(hub *Hub, files fileLookup, allowedOrigins []string) *RealtimeService {
	return &RealtimeService{
		hub:      hub,
		files:    files,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
	}
}

// originChecker allows every origin when the list is empty or contains "*".
func originChecker(allowedOrigins []string) func(*http.Request) bool {
	allowAll := len(allowedOrigins) == 0
	allowed := map[string]struct{}{}
	for _, origin := range allowedOrigins {
		origin = strings.TrimSuffix(strings.TrimSpace(origin), "/")
		if origin == "*" {
			allowAll = true
		}
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func (s *RealtimeService) HandleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		commonlog.Warnf("event=review_ws action=upgrade status=failed remote_addr=%s error=%v", c.ClientIP(), err)
		return
	}
	client := newWSClient(conn)
	if err := s.hub.Attach(client); err != nil {
		commonlog.Errorf("event=review_ws action=attach status=failed client_id=%s error=%v", client.id, err)
		_ = conn.Close()
		return
	}
	commonlog.Infof("event=review_ws action=connect status=ok client_id=%s remote_addr=%s", client.id, c.ClientIP())

	go client.writePump()
	s.readPump(client)

	_ = s.hub.Detach(client)
	client.close()
	commonlog.Infof("event=review_ws action=disconnect status=ok client_id=%s", client.id)
}

func (s *RealtimeService) readPump(client *wsClient) {
	conn := client.conn
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			client.sendEvent(domain.ErrorEvent("invalid message"))
			continue
		}
		s.handleMessage(client, env)
	}
}

func (s *RealtimeService) handleMessage(client *wsClient, env wsEnvelope) {
	switch env.Type {
	case wsTypeJoin:
		fileID := strings.TrimSpace(env.FileID)
		if fileID == "" {
			client.sendEvent(domain.ErrorEvent("file_id required"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), wsLookupTimeout)
		_, err := s.files.GetFile(ctx, fileID)
		cancel()
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				client.sendEvent(domain.ErrorEvent("file not found"))
				return
			}
			commonlog.Errorf("event=review_ws action=join status=failed client_id=%s file_id=%s error=%v", client.id, fileID, err)
			client.sendEvent(domain.ErrorEvent("failed to join file"))
			return
		}
		if err := s.hub.Join(client, fileID); err != nil {
			client.sendEvent(domain.ErrorEvent("failed to join file"))
			return
		}
		client.sendEvent(domain.Event{Type: domain.EventFileJoined, FileID: fileID})
	case wsTypeLeave:
		fileID, joined := s.hub.FileOf(client)
		if !joined {
			return
		}
		_ = s.hub.Leave(client)
		client.sendEvent(domain.Event{Type: domain.EventFileLeft, FileID: fileID})
	default:
		client.sendEvent(domain.ErrorEvent("unknown message type"))
	}
}

type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, wsOutboxSize),
		closed: make(chan struct{}),
	}
}

func (c *wsClient) ID() string {
	return c.id
}

// Deliver queues payload without blocking. A full outbox drops the event for
// this client only.
func (c *wsClient) Deliver(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *wsClient) sendEvent(event domain.Event) {
	b, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.Deliver(b)
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.closed) })
}

// writePump is the only writer on the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				commonlog.Warnf("event=review_ws action=write status=failed client_id=%s error=%v", c.id, err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
