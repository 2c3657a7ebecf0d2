package reader_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/werkstattwaedi/machine-auth-sub000/keyprovider"
	"github.com/werkstattwaedi/machine-auth-sub000/ntag424"
	"github.com/werkstattwaedi/machine-auth-sub000/pn532"
	"github.com/werkstattwaedi/machine-auth-sub000/reader"
)

// fakePCD is a scripted stand-in for the PN532 driver: enough of the PCD
// interface to drive the reader's tag-presence state machine without real
// hardware. Its SendDataExchangeContext always fails, which is sufficient
// for the state-machine-shape assertions below; the ntag424 package's own
// tests already cover the secure-messaging bytes themselves.
type fakePCD struct {
	mu sync.Mutex

	present      bool
	uid          []byte
	supportsISO4 bool

	releaseCalls int
}

func (p *fakePCD) DetectTagContext(ctx context.Context) (*pn532.DetectedTag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.present {
		return nil, pn532.ErrNoTagDetected
	}
	sak := byte(0x00)
	if p.supportsISO4 {
		sak = 0x20
	}
	return &pn532.DetectedTag{
		UIDBytes:     p.uid,
		SAK:          sak,
		TargetNumber: 1,
	}, nil
}

func (p *fakePCD) SendDataExchangeContext(ctx context.Context, data []byte) ([]byte, error) {
	return nil, pn532.ErrTimeout
}

func (p *fakePCD) InReleaseContext(ctx context.Context, targetNumber byte) error {
	p.mu.Lock()
	p.releaseCalls++
	p.mu.Unlock()
	return nil
}

func (p *fakePCD) setPresent(present bool) {
	p.mu.Lock()
	p.present = present
	p.mu.Unlock()
}

func TestWaitingForTagTransitionsOnDetect(t *testing.T) {
	pcd := &fakePCD{present: false}
	r := reader.New(pcd, func() ntag424.KeyProvider {
		var zero [16]byte
		return keyprovider.NewLocal(zero, keyprovider.KeyApplication)
	}, nil)

	assert.False(t, r.HasTag())
	_, ok := r.CurrentTag()
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	pcd.setPresent(true)
	assert.Eventually(t, r.HasTag, time.Second, 5*time.Millisecond)
}

func TestUnsupportedTagIsNotISO14443_4(t *testing.T) {
	require.IsType(t, reader.WaitingForTag{}, reader.State(reader.WaitingForTag{}))

	pcd := &fakePCD{present: true, uid: []byte{1, 2, 3, 4}, supportsISO4: false}
	r := reader.New(pcd, func() ntag424.KeyProvider {
		var zero [16]byte
		return keyprovider.NewLocal(zero, keyprovider.KeyApplication)
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	assert.Eventually(t, func() bool {
		_, ok := r.CurrentState().(reader.UnsupportedTag)
		return ok
	}, time.Second, 5*time.Millisecond)
}

// TestOnlyAuthenticatedExposesRealUID is a type-level check of the
// invariant that no State variant other than Ntag424Authenticated carries
// a 7-byte "real" UID field — WaitingForTag, TagPresent, UnsupportedTag and
// Ntag424Unauthenticated only ever expose the randomized anti-collision
// UID (spec §3).
func TestOnlyAuthenticatedExposesRealUID(t *testing.T) {
	tag := reader.AppTag{AntiCollisionUID: []byte{1, 2, 3, 4}}

	var states = []reader.State{
		reader.WaitingForTag{},
		reader.TagPresent{Tag: tag},
		reader.UnsupportedTag{Tag: tag},
		reader.Ntag424Unauthenticated{Tag: tag, AntiCollisionUID: tag.AntiCollisionUID},
	}
	for _, s := range states {
		_, isAuthenticated := s.(reader.Ntag424Authenticated)
		assert.False(t, isAuthenticated, "%T must not be the authenticated variant", s)
	}

	authenticated := reader.Ntag424Authenticated{Tag: tag, RealUID: [7]byte{1, 2, 3, 4, 5, 6, 7}}
	assert.Len(t, authenticated.RealUID, 7)
}

func TestEnteredAndExitedHelpers(t *testing.T) {
	tag := reader.AppTag{}

	entered, ok := reader.Entered[reader.TagPresent](reader.WaitingForTag{}, reader.TagPresent{Tag: tag})
	assert.True(t, ok)
	assert.Equal(t, tag, entered.Tag)

	_, ok = reader.Entered[reader.TagPresent](reader.TagPresent{Tag: tag}, reader.TagPresent{Tag: tag})
	assert.False(t, ok, "Entered must not fire again while remaining in the same state")

	exited, ok := reader.Exited[reader.TagPresent](reader.TagPresent{Tag: tag}, reader.WaitingForTag{})
	assert.True(t, ok)
	assert.Equal(t, tag, exited.Tag)

	_, ok = reader.Exited[reader.TagPresent](reader.WaitingForTag{}, reader.TagPresent{Tag: tag})
	assert.False(t, ok)
}

func TestQueueActionRejectedOutsideAuthenticated(t *testing.T) {
	pcd := &fakePCD{present: false}
	r := reader.New(pcd, func() ntag424.KeyProvider {
		var zero [16]byte
		return keyprovider.NewLocal(zero, keyprovider.KeyApplication)
	}, nil)

	err := r.QueueAction(nil)
	require.Error(t, err)
}

// TestRequestTransceiveFailsWithoutATag confirms that a caller of
// RequestTransceive on a reader that is not in Ntag424Authenticated gets an
// error rather than hanging: QueueAction rejects the transceive action with
// NoTag before anything is queued.
func TestRequestTransceiveFailsWithoutATag(t *testing.T) {
	pcd := &fakePCD{present: false}
	r := reader.New(pcd, func() ntag424.KeyProvider {
		var zero [16]byte
		return keyprovider.NewLocal(zero, keyprovider.KeyApplication)
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := r.RequestTransceive(ctx, []byte{0x00}, 50*time.Millisecond)
	require.Error(t, err)
}
