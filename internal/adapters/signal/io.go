package signal

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (s *Server) writePump(c *WsSignalConn) {
	ping := time.NewTicker(s.opts.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("peer", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("peer", string(c.id)).Msg("writePump write error")
				c.Close()
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (s *Server) readPump(c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(c.id)).Msg("peer left")
		s.unregister(c)
		c.Close()
	}()

	idle := 3 * s.opts.PingPeriod
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Str("module", "signal").Str("peer", string(c.id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		s.handleSignal(c, data)
	}
}

func (s *Server) handleSignal(c *WsSignalConn, data []byte) {
	if !c.limiter.Allow() {
		s.sendJSON(c, protocol.Signal{Type: protocol.SignalError, Error: protocol.ErrCodeRateLimited})
		return
	}
	var sig protocol.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(c.id)).Msg("bad json")
		s.metrics.ProtocolError()
		s.sendJSON(c, protocol.Signal{Type: protocol.SignalError, Error: protocol.ErrCodeInvalid})
		return
	}

	switch {
	case sig.Type == protocol.SignalPing:
		s.handlePing(c)
	case sig.Relayed():
		s.relay(c, sig)
	default:
		log.Warn().Str("module", "signal").Str("type", string(sig.Type)).Msg("unknown signal")
		s.metrics.ProtocolError()
		s.sendJSON(c, protocol.Signal{Type: protocol.SignalError, Error: protocol.ErrCodeInvalid})
	}
}

// relay forwards sig to its destination with the sender stamped as Src.
// A missing destination is reported back to the sender.
func (s *Server) relay(from *WsSignalConn, sig protocol.Signal) {
	dst := domain.PeerID(sig.Dst)
	if err := dst.Validate(); err != nil {
		s.sendJSON(from, protocol.Signal{Type: protocol.SignalError, Error: protocol.ErrCodeInvalid, ConnectionID: sig.ConnectionID})
		return
	}
	sig.Src = string(from.id)

	to, ok := s.lookup(dst)
	if !ok {
		// a leave to a gone peer needs no answer
		if sig.Type != protocol.SignalLeave {
			s.metrics.PeerUnavailable()
			s.sendJSON(from, protocol.Signal{
				Type:         protocol.SignalError,
				Src:          string(dst),
				ConnectionID: sig.ConnectionID,
				Kind:         sig.Kind,
				Error:        protocol.ErrCodePeerUnavailable,
			})
		}
		return
	}
	s.metrics.SignalRelayed(string(sig.Type))
	s.sendJSON(to, sig)
}

func (s *Server) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(c.id)).Msg("drop frame")
	}
}
