package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/classpulse/backend/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	hub    *Hub
	coord  *session.Coordinator
	conn   *websocket.Conn
	send   chan Message
	logger *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, coord *session.Coordinator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			hub:    hub,
			coord:  coord,
			conn:   conn,
			send:   make(chan Message, 256),
			logger: logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.coord.Disconnect(context.Background(), c.ID)
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		ctx := context.Background()
		switch msg.Event {
		case "teacher-join":
			c.coord.TeacherJoin(ctx, c.ID)
		case "student-join":
			_ = c.coord.StudentJoin(ctx, c.ID, decodeString(msg.Data, "name"))
		case "create-poll":
			var req session.CreatePollRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				continue
			}
			_ = c.coord.CreatePoll(ctx, c.ID, req)
		case "submit-answer":
			_ = c.coord.SubmitAnswer(ctx, c.ID, decodeString(msg.Data, "answer"))
		case "kick-student":
			_ = c.coord.KickStudent(ctx, c.ID, decodeString(msg.Data, "connectionId"))
		case "send-message":
			_ = c.coord.SendMessage(ctx, c.ID, decodeString(msg.Data, "text"))
		case "get-participants":
			c.coord.Participants(ctx, c.ID)
		case "rejoin-student":
			c.coord.RejoinStudent(ctx, c.ID, decodeString(msg.Data, "name"))
		default:
			// ignore
		}
	}
}

// decodeString accepts either a bare JSON string or an object holding the
// value under key; socket clients send both shapes.
func decodeString(data json.RawMessage, key string) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	if raw, ok := obj[key]; ok {
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return ""
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
