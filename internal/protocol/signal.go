package protocol

// SignalType tags rendezvous frames.
type SignalType string

const (
	SignalOpen      SignalType = "open"
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
	SignalLeave     SignalType = "leave"
	SignalError     SignalType = "error"
	SignalPing      SignalType = "ping"
	SignalPong      SignalType = "pong"
)

type ConnKind string

const (
	KindData  ConnKind = "data"
	KindMedia ConnKind = "media"
)

// Error codes carried in Signal.Error.
const (
	ErrCodePeerUnavailable = "peer-unavailable"
	ErrCodeInvalid         = "invalid-message"
	ErrCodeRateLimited     = "rate-limited"
	ErrCodeIDTaken         = "unavailable-id"
)

// Signal is one rendezvous frame. The server fills Src; clients set Dst.
type Signal struct {
	Type          SignalType `json:"type"`
	Src           string     `json:"src,omitempty"`
	Dst           string     `json:"dst,omitempty"`
	ConnectionID  string     `json:"connection_id,omitempty"`
	Kind          ConnKind   `json:"kind,omitempty"`
	SDP           string     `json:"sdp,omitempty"`
	Candidate     string     `json:"candidate,omitempty"`
	SDPMid        *string    `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16    `json:"sdp_mline_index,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Relayed reports whether the server forwards this frame to Dst.
func (s Signal) Relayed() bool {
	switch s.Type {
	case SignalOffer, SignalAnswer, SignalCandidate, SignalLeave:
		return true
	}
	return false
}
