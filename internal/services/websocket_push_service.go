package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"autopay-backend/internal/events"
	"autopay-backend/internal/metrics"
	"autopay-backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 512
	wsSendBuffer = 256
)

// Connection information
type Connection struct {
	ID       string          `json:"id"`
	UserID   int64           `json:"user_id"`
	Conn     *websocket.Conn `json:"-"`
	Send     chan []byte     `json:"-"`
	LastPing time.Time       `json:"last_ping"`
}

// Push message base structure
type PushMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id"`
	UserID    int64       `json:"user_id"`
	Data      interface{} `json:"data"`
}

// IntentUpdateData is the payload of intent_status_update messages
type IntentUpdateData struct {
	OrderID      string               `json:"order_id"`
	IntentID     uint64               `json:"intent_id"`
	Method       models.PaymentMethod `json:"method"`
	OldStatus    models.IntentStatus  `json:"old_status,omitempty"`
	NewStatus    models.IntentStatus  `json:"new_status"`
	UniqueAmount decimal.Decimal      `json:"unique_amount"`
	Credits      *decimal.Decimal     `json:"credits,omitempty"`
	UserMessage  string               `json:"user_message"`
}

var intentStatusMessages = map[models.IntentStatus]string{
	models.IntentStatusPending:   "⏳ Waiting for your payment",
	models.IntentStatusMatched:   "🔍 Payment found, adding credits...",
	models.IntentStatusCompleted: "🎊 Payment confirmed, credits added",
	models.IntentStatusExpired:   "⌛ Payment request expired",
	models.IntentStatusCancelled: "❌ Payment request cancelled",
}

// WebSocketPushService pushes intent status changes to the owning user's connections
type WebSocketPushService struct {
	upgrader    websocket.Upgrader
	connections map[string]*Connection
	userConns   map[int64][]*Connection
	hub         chan PushMessage
	register    chan *Connection
	unregister  chan *Connection
	stopCh      chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
}

// NewWebSocketPushService creates the push hub; allowedOrigins empty or "*" accepts any origin
func NewWebSocketPushService(allowedOrigins []string) *WebSocketPushService {
	service := &WebSocketPushService{
		connections: make(map[string]*Connection),
		userConns:   make(map[int64][]*Connection),
		hub:         make(chan PushMessage, wsSendBuffer),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stopCh:      make(chan struct{}),
	}
	service.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}

	go service.run()
	return service
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set[strings.TrimRight(origin, "/")]
	}
}

func (s *WebSocketPushService) run() {
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)
		case conn := <-s.unregister:
			s.handleUnregister(conn)
		case message := <-s.hub:
			s.handleBroadcast(message)
		case <-s.stopCh:
			s.closeAll()
			return
		}
	}
}

// Stop closes every connection and ends the hub loop
func (s *WebSocketPushService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		log.Printf("🛑 WebSocket push service stopped")
	})
}

// RegisterConnection registers a connection with the push service
func (s *WebSocketPushService) RegisterConnection(conn *Connection) {
	select {
	case s.register <- conn:
	case <-s.stopCh:
	}
}

// UnregisterConnection unregisters a connection from the push service
func (s *WebSocketPushService) UnregisterConnection(conn *Connection) {
	select {
	case s.unregister <- conn:
	case <-s.stopCh:
	}
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.connections[conn.ID] = conn
	s.userConns[conn.UserID] = append(s.userConns[conn.UserID], conn)
	metrics.WebSocketConnections.Inc()

	log.Printf("📱 WebSocket connection registered: user=%d, connID=%s", conn.UserID, conn.ID)

	if conn.Send != nil {
		s.sendToConnection(conn, PushMessage{
			Type:      "connection_established",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			MessageID: generateMessageID(),
			UserID:    conn.UserID,
			Data: map[string]interface{}{
				"user_id":       conn.UserID,
				"connection_id": conn.ID,
				"message":       "Real-time payment status connection established",
			},
		})
	}
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.connections[conn.ID]; !ok {
		return
	}
	delete(s.connections, conn.ID)
	s.removeUserConn(conn)
	metrics.WebSocketConnections.Dec()

	if conn.Send != nil {
		close(conn.Send)
	}
	if conn.Conn != nil {
		conn.Conn.Close()
	}
	log.Printf("📱 WebSocket connection unregistered: user=%d, connID=%s", conn.UserID, conn.ID)
}

func (s *WebSocketPushService) removeUserConn(conn *Connection) {
	userConns := s.userConns[conn.UserID]
	for i, c := range userConns {
		if c.ID == conn.ID {
			s.userConns[conn.UserID] = append(userConns[:i], userConns[i+1:]...)
			break
		}
	}
	if len(s.userConns[conn.UserID]) == 0 {
		delete(s.userConns, conn.UserID)
	}
}

func (s *WebSocketPushService) closeAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for id, conn := range s.connections {
		if conn.Send != nil {
			close(conn.Send)
		}
		if conn.Conn != nil {
			conn.Conn.Close()
		}
		delete(s.connections, id)
		metrics.WebSocketConnections.Dec()
	}
	s.userConns = make(map[int64][]*Connection)
}

func (s *WebSocketPushService) handleBroadcast(message PushMessage) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	userConns, exists := s.userConns[message.UserID]
	if !exists {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ Failed to marshal message: %v", err)
		return
	}

	failed := 0
	for _, conn := range userConns {
		select {
		case conn.Send <- data:
		default:
			failed++
			log.Printf("⚠️ [WebSocketPush] Failed to send to connection: %s (channel full or closed)", conn.ID)
		}
	}
	log.Printf("📤 [WebSocketPush] %s delivered to %d/%d connections of user %d",
		message.Type, len(userConns)-failed, len(userConns), message.UserID)
}

func (s *WebSocketPushService) sendToConnection(conn *Connection, message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ Failed to marshal message: %v", err)
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Printf("⚠️ Failed to send to connection: %s", conn.ID)
	}
}

// HandleWebSocket upgrades the request and serves pushes for userID until the client leaves
func (s *WebSocketPushService) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ WebSocket upgrade failed: %v", err)
		return
	}

	connection := &Connection{
		ID:       generateConnectionID(),
		UserID:   userID,
		Conn:     conn,
		Send:     make(chan []byte, wsSendBuffer),
		LastPing: time.Now(),
	}
	s.RegisterConnection(connection)

	go s.handleConnectionWrite(connection)
	go s.handleConnectionRead(connection)
}

func (s *WebSocketPushService) handleConnectionWrite(conn *Connection) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ Write message failed: %v", err)
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketPushService) handleConnectionRead(conn *Connection) {
	defer s.UnregisterConnection(conn)

	conn.Conn.SetReadLimit(wsReadLimit)
	conn.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.LastPing = time.Now()
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ WebSocket read error: %v", err)
			}
			return
		}
	}
}

// Name implements events.Sink
func (s *WebSocketPushService) Name() string { return "websocket" }

// Deliver implements events.Sink by queueing an intent_status_update for the intent's owner
func (s *WebSocketPushService) Deliver(ctx context.Context, event *events.PaymentEvent) error {
	message := PushMessage{
		Type:      "intent_status_update",
		Timestamp: event.OccurredAt.UTC().Format(time.RFC3339),
		MessageID: generateMessageID(),
		UserID:    event.UserID,
		Data: IntentUpdateData{
			OrderID:      event.OrderID,
			IntentID:     event.IntentID,
			Method:       event.Method,
			OldStatus:    event.PreviousStatus,
			NewStatus:    event.Status,
			UniqueAmount: event.UniqueAmount,
			Credits:      event.Credits,
			UserMessage:  intentStatusMessages[event.Status],
		},
	}
	select {
	case <-s.stopCh:
		return errors.New("push service stopped")
	default:
	}
	select {
	case s.hub <- message:
		return nil
	default:
		return errors.New("push queue full")
	}
}

// GetActiveConnections returns the number of open connections
func (s *WebSocketPushService) GetActiveConnections() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}

// GetUserConnections returns the number of open connections of one user
func (s *WebSocketPushService) GetUserConnections(userID int64) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.userConns[userID])
}

func generateConnectionID() string {
	return "conn_" + uuid.New().String()
}

func generateMessageID() string {
	return "msg_" + uuid.New().String()
}

var _ events.Sink = (*WebSocketPushService)(nil)
