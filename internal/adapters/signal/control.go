package signal

import "github.com/dkeye/Mesh/internal/protocol"

func (s *Server) handlePing(c *WsSignalConn) {
	s.sendJSON(c, protocol.Signal{Type: protocol.SignalPong})
}
