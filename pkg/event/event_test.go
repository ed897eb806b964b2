package event

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter()

	var first, second, wildcard int
	stopFirst := e.On(PluginUpdated, func(Event) { first++ })
	e.On(PluginUpdated, func(Event) { second++ })
	stopAny := e.OnAny(func(Event) { wildcard++ })

	e.Emit(PluginUpdatedEvent{PluginID: "p1", Version: 2})
	stopFirst()
	stopAny()
	e.Emit(PluginUpdatedEvent{PluginID: "p1", Version: 3})
	e.Emit(PluginCreatedEvent{PluginID: "p2"})

	if first != 1 || second != 2 || wildcard != 1 {
		t.Fatalf("unexpected deliveries first=%d second=%d wildcard=%d", first, second, wildcard)
	}
}

func TestWSHandler_FiltersByOwnerAndName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	emitter := NewEmitter()
	h := NewWSHandler(emitter)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set(IdentityKey, "alice")
		h.Handle(c)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?events=" + PluginUpdated + "," + PluginCompileFailed
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the subscription to be registered.
	deadline := time.Now().Add(2 * time.Second)
	for {
		emitter.mu.RLock()
		n := len(emitter.allListeners)
		emitter.mu.RUnlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscription not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	emitter.Emit(PluginUpdatedEvent{PluginID: "bob-plugin", Version: 2, UserID: "bob"})
	emitter.Emit(PluginCreatedEvent{PluginID: "alice-new", UserID: "alice"})
	emitter.Emit(PluginCompileFailedEvent{ChatbotID: "c1", PluginID: "broken", Message: "syntax_error"})
	emitter.Emit(PluginUpdatedEvent{PluginID: "alice-plugin", Version: 3, UserID: "alice"})

	want := []string{"broken", "alice-plugin"}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, id := range want {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Data["pluginId"] != id {
			t.Fatalf("expected event for %s, got %s %v", id, msg.Event, msg.Data)
		}
	}
}
