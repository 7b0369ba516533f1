package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"focustown/backend/internal/engine"
	"focustown/backend/internal/model"
)

func TestCommanderDropsWithoutClient(t *testing.T) {
	hub := NewHub(nil)
	hub.Commander("nobody").Send(engine.StartSession())
	if hub.Connected("nobody") {
		t.Fatal("expected no connection")
	}
}

func TestRegisterReplacesPreviousConnection(t *testing.T) {
	hub := NewHub(nil)
	first := &Connection{UserID: "u1", Send: make(chan []byte, 1)}
	second := &Connection{UserID: "u1", Send: make(chan []byte, 1)}

	hub.Register(first)
	hub.Register(second)
	if _, ok := <-first.Send; ok {
		t.Fatal("expected first connection closed")
	}

	hub.Unregister(first)
	if !hub.Connected("u1") {
		t.Fatal("stale unregister must not drop the new connection")
	}

	hub.Commander("u1").Send(engine.ChangeScene("town"))
	select {
	case raw := <-second.Send:
		var msg engine.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != string(engine.CmdChangeScene) {
			t.Fatalf("expected change_scene, got %s", msg.Type)
		}
	default:
		t.Fatal("expected command delivered")
	}
}

func TestServeRoundTrip(t *testing.T) {
	events := make(chan engine.Event, 4)
	hub := NewHub(func(userID string, ev engine.Event) {
		if userID == "u1" {
			events <- ev
		}
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Serve(w, r, "u1"); err != nil {
			t.Errorf("serve: %v", err)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"not_an_event"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	seatedMsg := `{"type":"player_seated","payload":{"buildingId":"library","spotId":"desk-4"}}`
	if err := client.WriteMessage(websocket.TextMessage, []byte(seatedMsg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != engine.EventPlayerSeated || ev.Spot == nil || ev.Spot.SpotID != "desk-4" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !hub.Connected("u1") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Commander("u1").Send(engine.SpawnRemotePlayer("bob", model.ParticipantState{
		DisplayName: "Bob",
		State:       model.ParticipantSeated,
		SpotID:      "desk-5",
	}))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg engine.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != string(engine.CmdSpawnRemotePlayer) {
		t.Fatalf("expected spawn_remote_player, got %s", msg.Type)
	}
	var payload map[string]any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["playerId"] != "bob" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}
