package signaling

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pkg/errors"
)

// Global debug function for signaling package
var debugMsgFunc func(string, string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// SampleSource delivers encoded VP8 frames to named subscribers. The ffmpeg
// encoder implements it.
type SampleSource interface {
	Subscribe(id string, fn func(payload []byte, duration time.Duration))
	Unsubscribe(id string)
}

// Offer is the browser's session description as posted to /offer. Model is
// the client's preferred detection model; the server decides whether to
// honor it.
type Offer struct {
	SDP   string `json:"sdp"`
	Type  string `json:"type"`
	Model string `json:"model,omitempty"`
}

// Answer is the server's session description returned from /offer
type Answer struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// Manager owns all WebRTC peer connections. Each negotiated peer gets its own
// video track fed from the shared sample source; a dead connection cleans
// itself up via the connection state callback.
type Manager struct {
	api    *webrtc.API
	config webrtc.Configuration
	source SampleSource

	mu    sync.Mutex
	peers map[string]*webrtc.PeerConnection
}

// NewManager creates a manager feeding peers from source
func NewManager(source SampleSource) *Manager {
	return &Manager{
		api: webrtc.NewAPI(),
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
		source: source,
		peers:  make(map[string]*webrtc.PeerConnection),
	}
}

// HandleOffer negotiates one peer connection from a browser offer and returns
// the answer with ICE gathering already complete, so the response carries all
// candidates and no trickle signaling channel is needed.
func (m *Manager) HandleOffer(offer Offer) (*Answer, error) {
	if offer.SDP == "" {
		return nil, errors.New("offer SDP must not be empty")
	}
	if offer.Type != "offer" {
		return nil, errors.Errorf("unexpected session description type %q", offer.Type)
	}

	pc, err := m.api.NewPeerConnection(m.config)
	if err != nil {
		return nil, errors.Wrap(err, "could not create peer connection")
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "gatecam",
	)
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "could not create video track")
	}

	rtpSender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "could not add video track")
	}

	// Drain RTCP so the interceptors keep running.
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()

	peerID := uuid.NewString()

	m.mu.Lock()
	m.peers[peerID] = pc
	count := len(m.peers)
	m.mu.Unlock()
	debugMsg("WEBRTC", fmt.Sprintf("Peer %s negotiating (%d total)", peerID, count))

	m.source.Subscribe(peerID, func(payload []byte, duration time.Duration) {
		// WriteSample fails while the connection is still negotiating; those
		// frames are simply lost, which is fine for live video.
		track.WriteSample(media.Sample{Data: payload, Duration: duration})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		debugMsg("WEBRTC", fmt.Sprintf("Peer %s state: %s", peerID, state))
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			m.removePeer(peerID)
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		m.removePeer(peerID)
		return nil, errors.Wrap(err, "could not apply remote description")
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		m.removePeer(peerID)
		return nil, errors.Wrap(err, "could not create answer")
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		m.removePeer(peerID)
		return nil, errors.Wrap(err, "could not apply local description")
	}
	<-gatherComplete

	local := pc.LocalDescription()
	return &Answer{SDP: local.SDP, Type: local.Type.String()}, nil
}

// removePeer tears down one peer connection and its sample subscription.
// Idempotent; the state callback and error paths may both reach it.
func (m *Manager) removePeer(peerID string) {
	m.mu.Lock()
	pc, ok := m.peers[peerID]
	if ok {
		delete(m.peers, peerID)
	}
	count := len(m.peers)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.source.Unsubscribe(peerID)
	pc.Close()
	debugMsg("WEBRTC", fmt.Sprintf("Peer %s closed (%d left)", peerID, count))
}

// PeerCount returns the number of live peer connections
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// CloseAll tears down every peer connection
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.removePeer(id)
	}
}
