package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	// the API binds to loopback; any local page may listen
	CheckOrigin: func(r *http.Request) bool { return true },
}

// events streams bus events to a websocket, starting with the current state.
func (a *api) events(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	sub, cancel := a.mesh.Bus.Subscribe(64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	initial := []app.Event{
		{Type: app.EventConnectivity, Data: a.mesh.Registry.Connectivity()},
		{Type: app.EventCallState, Data: a.mesh.Orch.Snapshot()},
	}
	write := func(e app.Event) bool {
		b, err := json.Marshal(e)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("event marshal")
			return true
		}
		_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return ws.WriteMessage(websocket.TextMessage, b) == nil
	}

	defer func() {
		cancel()
		_ = ws.Close()
	}()
	for _, e := range initial {
		if !write(e) {
			return
		}
	}
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-done:
			return
		case e, ok := <-sub:
			if !ok || !write(e) {
				return
			}
		}
	}
}
