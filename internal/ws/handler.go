package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"keepalive_engine/internal/config"
	"keepalive_engine/internal/logbus"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Handler streams bus messages to websocket clients: the retained snapshot first,
// then live messages. ?types=log,status limits the stream to those message types.
type Handler struct {
	bus      *logbus.Bus
	cors     config.CorsConfig
	upgrader websocket.Upgrader
}

func NewHandler(bus *logbus.Bus, cors config.CorsConfig) *Handler {
	h := &Handler{
		bus:  bus,
		cors: cors,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accept := parseTypes(r.URL.Query().Get("types"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	snap, ch, cancel := h.bus.SubscribeWithSnapshot(256)
	defer cancel()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	for _, msg := range snap {
		if !accept(msg.Type) {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !accept(msg.Type) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func parseTypes(raw string) func(string) bool {
	set := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = true
		}
	}
	if len(set) == 0 {
		return func(string) bool { return true }
	}
	return func(t string) bool { return set[t] }
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	_, ok := h.cors.Match(r.Header.Get("Origin"))
	return ok
}
