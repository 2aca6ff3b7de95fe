package rtc

import (
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CodecRegistrar fills a media engine with the codecs local capture produces.
type CodecRegistrar interface {
	Populate(*webrtc.MediaEngine)
}

// NewAPI builds the pion API shared by every peer connection of a session.
// loopback also gathers 127.0.0.1 candidates, for peers on one host.
func NewAPI(codecs CodecRegistrar, loopback bool) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if codecs != nil {
		codecs.Populate(me)
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(10*time.Second, 30*time.Second, 2*time.Second)
	se.SetIncludeLoopbackCandidate(loopback)
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

func WebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// peerConn is one PeerConnection carrying either a data channel or a call.
type peerConn struct {
	id   string
	peer domain.PeerID
	kind protocol.ConnKind
	pc   *webrtc.PeerConnection

	logger zerolog.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closed    bool
	hushed    bool
	onClosed  []func()
	onLink    []func(up bool)
}

func newPeerConn(api *webrtc.API, cfg webrtc.Configuration, id string, peer domain.PeerID, kind protocol.ConnKind) (*peerConn, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &peerConn{
		id:   id,
		peer: peer,
		kind: kind,
		pc:   pc,
		logger: log.With().
			Str("module", "rtc").
			Str("peer", string(peer)).
			Str("conn", id).
			Logger(),
	}
	pc.OnICEConnectionStateChange(c.iceStateChanged)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.close()
		}
	})
	return c, nil
}

// onICE trickles local candidates out as they are gathered.
func (c *peerConn) onICE(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (c *peerConn) createOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *peerConn) applyOfferAndCreateAnswer(sdp string) (string, error) {
	if err := c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *peerConn) applyAnswer(sdp string) error {
	return c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// setRemote applies the description and flushes candidates that came early.
func (c *peerConn) setRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			c.logger.Warn().Err(err).Msg("add queued ICE candidate")
		}
	}
	return nil
}

func (c *peerConn) addCandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

// onClose hooks run once, after the PeerConnection is gone.
func (c *peerConn) onClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClosed = append(c.onClosed, fn)
	c.mu.Unlock()
}

// onLinkChange fires with false when the ICE path drops and with true
// when it is usable again.
func (c *peerConn) onLinkChange(fn func(up bool)) {
	c.mu.Lock()
	c.onLink = append(c.onLink, fn)
	c.mu.Unlock()
}

func (c *peerConn) iceStateChanged(s webrtc.ICEConnectionState) {
	c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	var up bool
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		up = true
	case webrtc.ICEConnectionStateDisconnected:
	default:
		return
	}
	c.mu.Lock()
	hooks := slices.Clone(c.onLink)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(up)
	}
}

// silence suppresses the leave frame; the remote side already knows.
func (c *peerConn) silence() {
	c.mu.Lock()
	c.hushed = true
	c.mu.Unlock()
}

func (c *peerConn) quiet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hushed
}

func (c *peerConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *peerConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	hooks := c.onClosed
	c.onClosed = nil
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
	for _, fn := range hooks {
		fn()
	}
}
