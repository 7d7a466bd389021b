package signaling

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource records subscribe/unsubscribe calls
type fakeSource struct {
	mu   sync.Mutex
	subs map[string]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[string]bool)}
}

func (f *fakeSource) Subscribe(id string, fn func(payload []byte, duration time.Duration)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[id] = true
}

func (f *fakeSource) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func TestHandleOfferRejectsEmptySDP(t *testing.T) {
	m := NewManager(newFakeSource())

	_, err := m.HandleOffer(Offer{SDP: "", Type: "offer"})
	assert.Error(t, err)
	assert.Equal(t, 0, m.PeerCount())
}

func TestHandleOfferRejectsWrongType(t *testing.T) {
	m := NewManager(newFakeSource())

	_, err := m.HandleOffer(Offer{SDP: "v=0", Type: "answer"})
	assert.Error(t, err)
	assert.Equal(t, 0, m.PeerCount())
}

func TestGarbageSDPFailsAndLeavesNoPeer(t *testing.T) {
	src := newFakeSource()
	m := NewManager(src)

	_, err := m.HandleOffer(Offer{SDP: "not an sdp", Type: "offer"})
	require.Error(t, err)

	// The failed negotiation must not leak a peer or a subscription.
	assert.Equal(t, 0, m.PeerCount())
	assert.Equal(t, 0, src.count())
}

func TestCloseAllOnEmptyManager(t *testing.T) {
	m := NewManager(newFakeSource())
	m.CloseAll()
	assert.Equal(t, 0, m.PeerCount())
}
