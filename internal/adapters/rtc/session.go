package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrIDTaken       = errors.New("peer id already registered")
	ErrNotRegistered = errors.New("rendezvous did not confirm registration")
)

type Config struct {
	// URL of the rendezvous websocket endpoint, e.g. ws://host:9000/ws.
	URL         string
	ICEServers  []string
	PingPeriod  time.Duration
	MaxBuffered uint64
	SendQueue   int
}

func (c Config) withDefaults() Config {
	if c.PingPeriod <= 0 {
		c.PingPeriod = 5 * time.Second
	}
	if c.MaxBuffered == 0 {
		c.MaxBuffered = 1 << 20
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	return c
}

type endpoint struct {
	conn *peerConn
	fail func(error)
}

// Session is the rendezvous client. It implements core.Signaler.
type Session struct {
	self   domain.PeerID
	cfg    Config
	api    *webrtc.API
	rtcCfg webrtc.Configuration
	ws     *websocket.Conn
	send   chan []byte
	logger zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	writeDone chan struct{}
	readDone  chan struct{}

	mu     sync.RWMutex
	conns  map[string]endpoint
	onConn []func(core.DataChannel)
	onCall []func(core.MediaCall)
	onErr  []func(core.SignalError)

	closeOnce sync.Once
}

var _ core.Signaler = (*Session)(nil)

// Dial registers self with the rendezvous server and starts the pumps.
func Dial(ctx context.Context, cfg Config, self domain.PeerID, api *webrtc.API) (*Session, error) {
	cfg = cfg.withDefaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rendezvous url: %w", err)
	}
	q := u.Query()
	q.Set("id", string(self))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, core.SignalError{Kind: core.SignalNetwork, Err: err}
	}
	if err := awaitOpen(ctx, ws); err != nil {
		_ = ws.Close()
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		self:      self,
		cfg:       cfg,
		api:       api,
		rtcCfg:    WebRTCConfig(cfg.ICEServers),
		ws:        ws,
		send:      make(chan []byte, cfg.SendQueue),
		logger:    log.With().Str("module", "rtc").Str("self", string(self)).Logger(),
		ctx:       sctx,
		cancel:    cancel,
		writeDone: make(chan struct{}),
		readDone:  make(chan struct{}),
		conns:     make(map[string]endpoint),
	}
	go s.writePump()
	go s.readPump()
	s.logger.Info().Str("url", cfg.URL).Msg("registered with rendezvous")
	return s, nil
}

func awaitOpen(ctx context.Context, ws *websocket.Conn) error {
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})

	var sig protocol.Signal
	if err := ws.ReadJSON(&sig); err != nil {
		return core.SignalError{Kind: core.SignalNetwork, Err: err}
	}
	switch {
	case sig.Type == protocol.SignalOpen:
		return nil
	case sig.Type == protocol.SignalError && sig.Error == protocol.ErrCodeIDTaken:
		return ErrIDTaken
	case sig.Type == protocol.SignalError:
		return core.SignalError{Kind: core.SignalServer, Err: errors.New(sig.Error)}
	}
	return ErrNotRegistered
}

func (s *Session) ID() domain.PeerID { return s.self }

func (s *Session) OnConnection(fn func(core.DataChannel)) {
	s.mu.Lock()
	s.onConn = append(s.onConn, fn)
	s.mu.Unlock()
}

func (s *Session) OnCall(fn func(core.MediaCall)) {
	s.mu.Lock()
	s.onCall = append(s.onCall, fn)
	s.mu.Unlock()
}

func (s *Session) OnError(fn func(core.SignalError)) {
	s.mu.Lock()
	s.onErr = append(s.onErr, fn)
	s.mu.Unlock()
}

func (s *Session) emitError(e core.SignalError) {
	s.mu.RLock()
	hooks := slices.Clone(s.onErr)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(e)
	}
}

func (s *Session) Connect(ctx context.Context, peer domain.PeerID) (core.DataChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := s.newConn("dc_"+uuid.NewString(), peer, protocol.KindData)
	if err != nil {
		return nil, err
	}
	raw, err := conn.pc.CreateDataChannel(dataLabel, nil)
	if err != nil {
		conn.close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	dc := newDataChannel(conn, raw, s.cfg.MaxBuffered)
	s.track(conn, dc.fail)
	if err := s.offer(conn); err != nil {
		conn.close()
		return nil, err
	}
	return dc, nil
}

func (s *Session) Call(ctx context.Context, peer domain.PeerID, stream *core.Stream) (core.MediaCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := s.newConn("mc_"+uuid.NewString(), peer, protocol.KindMedia)
	if err != nil {
		return nil, err
	}
	call := newMediaCall(s, conn, true, "")
	s.track(conn, call.fail)
	if err := call.attach(stream); err != nil {
		conn.close()
		return nil, err
	}
	if err := call.receiveAll(); err != nil {
		conn.close()
		return nil, err
	}
	if err := s.offer(conn); err != nil {
		conn.close()
		return nil, err
	}
	return call, nil
}

func (s *Session) newConn(id string, peer domain.PeerID, kind protocol.ConnKind) (*peerConn, error) {
	conn, err := newPeerConn(s.api, s.rtcCfg, id, peer, kind)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	conn.onICE(func(ci webrtc.ICECandidateInit) {
		_ = s.sendSignal(protocol.Signal{
			Type:          protocol.SignalCandidate,
			Dst:           string(peer),
			ConnectionID:  id,
			Kind:          kind,
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})
	return conn, nil
}

// track indexes conn by id until it closes. A locally closed
// connection tells the other side with a leave frame.
func (s *Session) track(conn *peerConn, fail func(error)) {
	s.mu.Lock()
	s.conns[conn.id] = endpoint{conn: conn, fail: fail}
	s.mu.Unlock()
	conn.onClose(func() {
		s.mu.Lock()
		delete(s.conns, conn.id)
		s.mu.Unlock()
		if !conn.quiet() {
			_ = s.sendSignal(protocol.Signal{
				Type:         protocol.SignalLeave,
				Dst:          string(conn.peer),
				ConnectionID: conn.id,
				Kind:         conn.kind,
			})
		}
	})
}

func (s *Session) rebind(id string, fail func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ep, ok := s.conns[id]; ok {
		ep.fail = fail
		s.conns[id] = ep
	}
}

func (s *Session) lookup(id string) (endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.conns[id]
	return ep, ok
}

func (s *Session) offer(conn *peerConn) error {
	sdp, err := conn.createOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	return s.sendSignal(protocol.Signal{
		Type:         protocol.SignalOffer,
		Dst:          string(conn.peer),
		ConnectionID: conn.id,
		Kind:         conn.kind,
		SDP:          sdp,
	})
}

func (s *Session) answer(conn *peerConn, sdp string) error {
	return s.sendSignal(protocol.Signal{
		Type:         protocol.SignalAnswer,
		Dst:          string(conn.peer),
		ConnectionID: conn.id,
		Kind:         conn.kind,
		SDP:          sdp,
	})
}

func (s *Session) sendSignal(sig protocol.Signal) error {
	b, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	select {
	case <-s.ctx.Done():
		return core.ErrChannelClosed
	default:
	}
	select {
	case s.send <- b:
		return nil
	default:
		s.logger.Warn().Str("type", string(sig.Type)).Msg("signal queue full, dropping")
		return core.ErrBackpressure
	}
}

func (s *Session) writePump() {
	defer close(s.writeDone)
	ping := time.NewTicker(s.cfg.PingPeriod)
	defer ping.Stop()
	pingFrame, _ := json.Marshal(protocol.Signal{Type: protocol.SignalPing})

	write := func(data []byte) bool {
		if err := s.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return false
		}
		if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Error().Err(err).Msg("writePump write error")
			return false
		}
		return true
	}
	for {
		select {
		case <-s.ctx.Done():
			for drained := false; !drained; {
				select {
				case data := <-s.send:
					if !write(data) {
						return
					}
				default:
					drained = true
				}
			}
			_ = s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case data := <-s.send:
			if !write(data) {
				return
			}
		case <-ping.C:
			if !write(pingFrame) {
				return
			}
		}
	}
}

func (s *Session) readPump() {
	defer close(s.readDone)
	for {
		var sig protocol.Signal
		if err := s.ws.ReadJSON(&sig); err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("rendezvous connection lost")
				s.emitError(core.SignalError{Kind: core.SignalNetwork, Err: err})
			}
			return
		}
		s.handle(sig)
	}
}

func (s *Session) handle(sig protocol.Signal) {
	peer := domain.PeerID(sig.Src)
	logger := s.logger.With().Str("type", string(sig.Type)).Str("peer", sig.Src).Str("conn", sig.ConnectionID).Logger()

	switch sig.Type {
	case protocol.SignalOffer:
		if err := peer.Validate(); err != nil || sig.ConnectionID == "" {
			logger.Warn().Msg("offer without source or connection id")
			return
		}
		if sig.Kind == protocol.KindMedia {
			s.inboundCall(peer, sig)
		} else {
			s.inboundData(peer, sig)
		}
	case protocol.SignalAnswer:
		ep, ok := s.lookup(sig.ConnectionID)
		if !ok {
			logger.Debug().Msg("answer for unknown connection")
			return
		}
		if err := ep.conn.applyAnswer(sig.SDP); err != nil {
			logger.Error().Err(err).Msg("apply answer")
			ep.fail(err)
		}
	case protocol.SignalCandidate:
		ep, ok := s.lookup(sig.ConnectionID)
		if !ok {
			return
		}
		ci := webrtc.ICECandidateInit{Candidate: sig.Candidate, SDPMid: sig.SDPMid, SDPMLineIndex: sig.SDPMLineIndex}
		if err := ep.conn.addCandidate(ci); err != nil {
			logger.Warn().Err(err).Msg("add ICE candidate")
		}
	case protocol.SignalLeave:
		if ep, ok := s.lookup(sig.ConnectionID); ok {
			ep.conn.silence()
			ep.conn.close()
		}
	case protocol.SignalError:
		kind := core.SignalServer
		if sig.Error == protocol.ErrCodePeerUnavailable {
			kind = core.SignalPeerUnavailable
		}
		serr := core.SignalError{Kind: kind, Peer: peer, Err: errors.New(sig.Error)}
		logger.Warn().Str("error", sig.Error).Msg("rendezvous error")
		if ep, ok := s.lookup(sig.ConnectionID); ok {
			ep.conn.silence()
			ep.fail(serr)
		}
		s.emitError(serr)
	case protocol.SignalPong, protocol.SignalOpen:
	default:
		logger.Warn().Msg("unknown signal")
	}
}

func (s *Session) inboundData(peer domain.PeerID, sig protocol.Signal) {
	conn, err := s.newConn(sig.ConnectionID, peer, protocol.KindData)
	if err != nil {
		s.logger.Error().Err(err).Msg("inbound data connection")
		return
	}
	s.track(conn, func(error) { conn.close() })
	conn.pc.OnDataChannel(func(raw *webrtc.DataChannel) {
		dc := newDataChannel(conn, raw, s.cfg.MaxBuffered)
		s.rebind(conn.id, dc.fail)
		s.mu.RLock()
		hooks := slices.Clone(s.onConn)
		s.mu.RUnlock()
		for _, fn := range hooks {
			fn(dc)
		}
	})
	sdp, err := conn.applyOfferAndCreateAnswer(sig.SDP)
	if err != nil {
		s.logger.Error().Err(err).Str("peer", string(peer)).Msg("answer data offer")
		conn.close()
		return
	}
	if err := s.answer(conn, sdp); err != nil {
		conn.close()
	}
}

func (s *Session) inboundCall(peer domain.PeerID, sig protocol.Signal) {
	conn, err := s.newConn(sig.ConnectionID, peer, protocol.KindMedia)
	if err != nil {
		s.logger.Error().Err(err).Msg("inbound media connection")
		return
	}
	call := newMediaCall(s, conn, false, sig.SDP)
	s.track(conn, call.fail)
	s.mu.RLock()
	hooks := slices.Clone(s.onCall)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(call)
	}
}

// Close hangs up every connection and leaves the rendezvous server.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.RLock()
		eps := make([]endpoint, 0, len(s.conns))
		for _, ep := range s.conns {
			eps = append(eps, ep)
		}
		s.mu.RUnlock()
		for _, ep := range eps {
			ep.conn.close()
		}
		s.cancel()
		<-s.writeDone
		_ = s.ws.Close()
		<-s.readDone
		s.logger.Info().Msg("session closed")
	})
	return nil
}
