package usage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"github.com/werkstattwaedi/machine-auth-sub000/relay"
	"github.com/werkstattwaedi/machine-auth-sub000/session"
	"github.com/werkstattwaedi/machine-auth-sub000/sysclock"
	"github.com/werkstattwaedi/machine-auth-sub000/usage"
)

// fakePin is a minimal gpio.PinIO, mirroring relay_test's own fakePin
// (unexported there, so usage's tests carry a matching copy).
type fakePin struct {
	level    gpio.Level
	isOutput bool
}

func (p *fakePin) String() string         { return "fakePin" }
func (p *fakePin) Name() string           { return "fakePin" }
func (p *fakePin) Number() int            { return 0 }
func (p *fakePin) Function() string       { return "" }
func (p *fakePin) Halt() error            { return nil }
func (p *fakePin) Pull() gpio.Pull        { return gpio.PullNoChange }
func (p *fakePin) DefaultPull() gpio.Pull { return gpio.PullNoChange }

func (p *fakePin) In(gpio.Pull, gpio.Edge) error {
	p.isOutput = false
	return nil
}

func (p *fakePin) Out(l gpio.Level) error {
	p.isOutput = true
	p.level = l
	return nil
}

func (p *fakePin) Read() gpio.Level { return p.level }

func (p *fakePin) WaitForEdge(time.Duration) bool { return false }

type fakeSleeper struct{}

func (fakeSleeper) Sleep(time.Duration) {}

type fakeUploader struct {
	calls int
	err   error
	last  []byte
}

func (u *fakeUploader) UploadUsage(_ context.Context, batch []byte) error {
	u.calls++
	u.last = batch
	return u.err
}

func newMachineUsage(t *testing.T, clock *sysclock.Fake, uploader usage.Uploader, requiredPermissions []string) (*usage.MachineUsage, *fakeFileSystem) {
	t.Helper()
	r, err := relay.NewWithSleeper(&fakePin{}, fakeSleeper{})
	require.NoError(t, err)
	fs := newFakeFileSystem()
	store := usage.NewStore(fs, "drill-press-1")
	return usage.New(r, store, uploader, clock, requiredPermissions, usage.ClearOnSubmit), fs
}

func newSession(t *testing.T, permissions []string) *session.TokenSession {
	t.Helper()
	return session.NewTokenSession("auth-1", [7]byte{1}, time.Now().Add(time.Hour), "user-1", "Ada", permissions)
}

func TestCheckInTransitionsToActiveAndPersists(t *testing.T) {
	clock := sysclock.NewFake(time.Unix(1_000, 0))
	m, _ := newMachineUsage(t, clock, &fakeUploader{}, nil)
	s := newSession(t, nil)

	require.NoError(t, m.CheckIn(s))

	active, ok := m.State().(usage.Active)
	require.True(t, ok)
	assert.Same(t, s, active.Session)
	require.Len(t, m.History().Records, 1)
	assert.Equal(t, int64(1_000), m.History().Records[0].CheckIn)
	assert.Equal(t, int64(0), m.History().Records[0].CheckOut)
}

// TestCheckInDeniedForMissingPermission exercises Scenario D: a session
// missing a required permission is denied, not errored.
func TestCheckInDeniedForMissingPermission(t *testing.T) {
	clock := sysclock.NewFake(time.Unix(1_000, 0))
	m, _ := newMachineUsage(t, clock, &fakeUploader{}, []string{"laser_cutter"})
	s := newSession(t, []string{"drill_press"})

	err := m.CheckIn(s)
	require.NoError(t, err, "a denial is a successful business outcome, not an error")

	denied, ok := m.State().(usage.Denied)
	require.True(t, ok)
	assert.Equal(t, "Keine Berechtigung", denied.Message)
	assert.Empty(t, m.History().Records, "a denied check-in must not create a usage record")
}

func TestCheckInFailsWhenNotIdle(t *testing.T) {
	clock := sysclock.NewFake(time.Unix(1_000, 0))
	m, _ := newMachineUsage(t, clock, &fakeUploader{}, nil)
	require.NoError(t, m.CheckIn(newSession(t, nil)))

	err := m.CheckIn(newSession(t, nil))
	require.Error(t, err)
}

func TestCheckOutClosesRecordAndUploads(t *testing.T) {
	clock := sysclock.NewFake(time.Unix(1_000, 0))
	uploader := &fakeUploader{}
	m, _ := newMachineUsage(t, clock, uploader, nil)
	require.NoError(t, m.CheckIn(newSession(t, nil)))

	clock.Advance(30 * time.Minute)
	require.NoError(t, m.CheckOut(usage.ReasonUI))

	assert.IsType(t, usage.Idle{}, m.State())
	assert.Equal(t, 1, uploader.calls)
	uploaded, err := usage.Unmarshal(uploader.last)
	require.NoError(t, err)
	require.Len(t, uploaded.Records, 1)
	assert.Equal(t, int64(2_800), uploaded.Records[0].CheckOut)
	assert.Equal(t, usage.ReasonUI, uploaded.Records[0].Reason)
	assert.Empty(t, m.History().Records, "ClearOnSubmit must clear local records once the upload call succeeds")
}

// TestClearOnAckKeepsRecordsUntilAcknowledged exercises the ClearPolicy
// seam from the UploadHistory open question: the safer policy is a
// one-line change, not a structural one.
func TestClearOnAckKeepsRecordsUntilAcknowledged(t *testing.T) {
	clock := sysclock.NewFake(time.Unix(1_000, 0))
	uploader := &fakeUploader{}
	r, err := relay.NewWithSleeper(&fakePin{}, fakeSleeper{})
	require.NoError(t, err)
	fs := newFakeFileSystem()
	store := usage.NewStore(fs, "drill-press-1")
	m := usage.New(r, store, uploader, clock, nil, usage.ClearOnAck)

	require.NoError(t, m.CheckIn(newSession(t, nil)))
	require.NoError(t, m.CheckOut(usage.ReasonUI))

	assert.Equal(t, 1, uploader.calls)
	assert.Len(t, m.History().Records, 1, "ClearOnAck must not clear until a separate acknowledgement arrives")
}

// TestAbsoluteTimeoutForcesCheckout exercises the 8h absolute timeout.
func TestAbsoluteTimeoutForcesCheckout(t *testing.T) {
	clock := sysclock.NewFake(time.Unix(0, 0))
	uploader := &fakeUploader{}
	m, _ := newMachineUsage(t, clock, uploader, nil)
	require.NoError(t, m.CheckIn(newSession(t, nil)))

	clock.Advance(8*time.Hour + time.Second)
	m.Loop(session.Idle{})

	assert.IsType(t, usage.Idle{}, m.State())
	require.Len(t, m.History().Records, 0, "the timed-out record is uploaded and cleared under ClearOnSubmit")
	assert.Equal(t, 1, uploader.calls)
}

func TestDeniedReturnsToIdleAfterDisplay(t *testing.T) {
	clock := sysclock.NewFake(time.Unix(1_000, 0))
	m, _ := newMachineUsage(t, clock, &fakeUploader{}, []string{"laser_cutter"})
	require.NoError(t, m.CheckIn(newSession(t, []string{"drill_press"})))
	require.IsType(t, usage.Denied{}, m.State())

	clock.Advance(6 * time.Second)
	m.Loop(session.Idle{})

	assert.IsType(t, usage.Idle{}, m.State())
}

// TestLoopChecksInOnSessionActive exercises the Coordinator -> MachineUsage
// event mapping (spec §4.5): entering SessionActive while Idle checks in.
func TestLoopChecksInOnSessionActive(t *testing.T) {
	clock := sysclock.NewFake(time.Unix(1_000, 0))
	m, _ := newMachineUsage(t, clock, &fakeUploader{}, nil)
	s := newSession(t, nil)

	m.Loop(session.Idle{})
	m.Loop(session.SessionActive{TagUID: s.TokenID, Session: s})

	active, ok := m.State().(usage.Active)
	require.True(t, ok)
	assert.Same(t, s, active.Session)
}

// TestLoopChecksOutOnSessionEnd exercises the reverse mapping: leaving
// SessionActive while Active checks out.
func TestLoopChecksOutOnSessionEnd(t *testing.T) {
	clock := sysclock.NewFake(time.Unix(1_000, 0))
	uploader := &fakeUploader{}
	m, _ := newMachineUsage(t, clock, uploader, nil)
	s := newSession(t, nil)

	m.Loop(session.Idle{})
	m.Loop(session.SessionActive{TagUID: s.TokenID, Session: s})
	m.Loop(session.Idle{})

	assert.IsType(t, usage.Idle{}, m.State())
	assert.Equal(t, 1, uploader.calls)
}
