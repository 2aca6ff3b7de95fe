package signal

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/metrics"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrBackpressure = errors.New("backpressure")

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	RatePerSec float64
	Burst      int
	SendQueue  int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 15 * time.Second
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 50
	}
	if o.Burst <= 0 {
		o.Burst = 100
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	return o
}

// Server is the rendezvous service: peers register by id and it relays
// offer/answer/candidate/leave frames between them. It never sees media.
type Server struct {
	opts    Options
	limits  *rateLimiterStore
	metrics *metrics.Collector

	mu      sync.RWMutex
	clients map[domain.PeerID]*WsSignalConn
}

func NewServer(opts Options, m *metrics.Collector) *Server {
	opts = opts.withDefaults()
	return &Server{
		opts:    opts,
		limits:  newRateLimiterStore(rate.Limit(opts.RatePerSec), opts.Burst),
		metrics: m,
		clients: make(map[domain.PeerID]*WsSignalConn),
	}
}

type WsSignalConn struct {
	id      domain.PeerID
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) Routes(r gin.IRouter) {
	r.GET("/ws", s.HandleSignal)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.Len()})
	})
}

// HandleSignal upgrades the request and registers the peer named by ?id=.
func (s *Server) HandleSignal(c *gin.Context) {
	id := domain.PeerID(c.Query("id"))
	if err := id.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(s.opts.ReadLimit)

	conn := &WsSignalConn{
		id:      id,
		conn:    ws,
		send:    make(chan []byte, s.opts.SendQueue),
		limiter: s.limits.getLimiter(string(id)),
	}
	if !s.register(conn) {
		log.Warn().Str("module", "signal").Str("peer", string(id)).Msg("id already taken")
		s.refuse(ws, protocol.Signal{Type: protocol.SignalError, Error: protocol.ErrCodeIDTaken})
		return
	}
	log.Info().Str("module", "signal").Str("peer", string(id)).Msg("peer registered")

	go s.writePump(conn)
	s.sendJSON(conn, protocol.Signal{Type: protocol.SignalOpen, Dst: string(id)})
	go s.readPump(conn)
}

func (s *Server) refuse(ws *websocket.Conn, sig protocol.Signal) {
	_ = ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = ws.WriteJSON(sig)
	_ = ws.Close()
}

func (s *Server) register(c *WsSignalConn) bool {
	s.mu.Lock()
	if _, taken := s.clients[c.id]; taken {
		s.mu.Unlock()
		return false
	}
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()
	s.metrics.SetRendezvousClients(n)
	return true
}

func (s *Server) unregister(c *WsSignalConn) {
	s.mu.Lock()
	if cur, ok := s.clients[c.id]; ok && cur == c {
		delete(s.clients, c.id)
	}
	n := len(s.clients)
	s.mu.Unlock()
	s.metrics.SetRendezvousClients(n)
}

func (s *Server) lookup(id domain.PeerID) (*WsSignalConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close drops every client.
func (s *Server) Close() {
	s.mu.Lock()
	all := make([]*WsSignalConn, 0, len(s.clients))
	for _, c := range s.clients {
		all = append(all, c)
	}
	s.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
}
