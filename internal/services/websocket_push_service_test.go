package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"autopay-backend/internal/events"
	"autopay-backend/internal/models"

	"github.com/gorilla/websocket"
)

func readPush(t *testing.T, ch <-chan []byte) PushMessage {
	t.Helper()
	select {
	case raw := <-ch:
		var msg PushMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode push: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no push received")
	}
	return PushMessage{}
}

func statusEvent(userID int64, status models.IntentStatus) *events.PaymentEvent {
	return events.NewIntentEvent(&models.PaymentIntent{
		ID:           1,
		OrderID:      "AP-20240101-0000AAAA",
		UserID:       userID,
		Method:       models.PaymentMethodEVMToken,
		Status:       status,
		UniqueAmount: dec("10.37"),
	}, models.IntentStatusPending)
}

func TestPushDeliversToOwner(t *testing.T) {
	push := NewWebSocketPushService(nil)
	defer push.Stop()

	owner := &Connection{ID: "owner", UserID: 5, Send: make(chan []byte, 8)}
	other := &Connection{ID: "other", UserID: 6, Send: make(chan []byte, 8)}
	push.RegisterConnection(owner)
	push.RegisterConnection(other)

	if msg := readPush(t, owner.Send); msg.Type != "connection_established" {
		t.Fatalf("first message = %s", msg.Type)
	}
	readPush(t, other.Send)
	if push.GetActiveConnections() != 2 || push.GetUserConnections(5) != 1 {
		t.Fatalf("connections = %d", push.GetActiveConnections())
	}

	if err := push.Deliver(context.Background(), statusEvent(5, models.IntentStatusMatched)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	msg := readPush(t, owner.Send)
	if msg.Type != "intent_status_update" || msg.UserID != 5 {
		t.Fatalf("message = %+v", msg)
	}
	data, _ := json.Marshal(msg.Data)
	var update IntentUpdateData
	if err := json.Unmarshal(data, &update); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if update.NewStatus != models.IntentStatusMatched || update.OldStatus != models.IntentStatusPending || update.UserMessage == "" {
		t.Fatalf("update = %+v", update)
	}

	select {
	case raw := <-other.Send:
		t.Fatalf("other user got %s", raw)
	case <-time.After(100 * time.Millisecond):
	}

	push.UnregisterConnection(owner)
	push.UnregisterConnection(owner)
	deadline := time.Now().Add(2 * time.Second)
	for push.GetUserConnections(5) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("owner still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if push.GetUserConnections(6) != 1 {
		t.Fatalf("other user lost its connection")
	}
}

func TestPushDeliverAfterStop(t *testing.T) {
	push := NewWebSocketPushService(nil)
	push.Stop()
	push.Stop()
	if err := push.Deliver(context.Background(), statusEvent(1, models.IntentStatusCompleted)); err == nil {
		t.Fatalf("Deliver after Stop succeeded")
	}
}

func TestPushOverWebSocket(t *testing.T) {
	push := NewWebSocketPushService([]string{"https://app.example"})
	defer push.Stop()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		push.HandleWebSocket(w, r, 9)
	}))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	if _, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}}); err == nil {
		t.Fatalf("foreign origin accepted")
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var hello PushMessage
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "connection_established" {
		t.Fatalf("hello = %+v, %v", hello, err)
	}

	if err := push.Deliver(context.Background(), statusEvent(9, models.IntentStatusCompleted)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	var update PushMessage
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if update.Type != "intent_status_update" {
		t.Fatalf("update = %+v", update)
	}
}
