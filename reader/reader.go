package reader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
	"github.com/werkstattwaedi/machine-auth-sub000/ntag424"
	"github.com/werkstattwaedi/machine-auth-sub000/pn532"
	"github.com/werkstattwaedi/machine-auth-sub000/watchdog"
)

var log = logrus.WithField("component", "nfc_reader")

const (
	tickInterval            = 10 * time.Millisecond
	waitingForTagPollWindow = 1 * time.Second
	unsupportedRecheckDelay = 100 * time.Millisecond
	presencePingWindow      = 200 * time.Millisecond
	maxTagErrorReleases     = 3
)

var errNoTag = errors.New("reader: tag no longer present")

// PCD is the slice of the PN532 driver the reader needs: detect a target,
// exchange a raw APDU with the currently selected one, and release it.
// *pn532.Device satisfies this directly.
type PCD interface {
	DetectTagContext(ctx context.Context) (*pn532.DetectedTag, error)
	SendDataExchangeContext(ctx context.Context, data []byte) ([]byte, error)
	InReleaseContext(ctx context.Context, targetNumber byte) error
}

// rawTransceiver is the unsynchronized ntag424.Transceiver used by the
// worker's own tick logic and by dequeued actions — by construction only
// ever invoked from the single worker goroutine, so it needs no locking of
// its own.
type rawTransceiver struct{ pcd PCD }

func (t rawTransceiver) Transceive(ctx context.Context, apdu []byte) ([]byte, error) {
	resp, err := t.pcd.SendDataExchangeContext(ctx, apdu)
	if err != nil {
		return nil, classifyIOError(err)
	}
	return resp, nil
}

// classifyIOError maps a PCD-level error to an errs.Kind value so higher
// layers can branch with errs.Is: errs.NoTag for no tag, a PCD timeout or a
// context deadline, errs.Unspecified for anything else. Framing or buffer
// errors are not told apart as a separate desync kind; they come back as
// errs.Unspecified and trigger no PCD reset.
func classifyIOError(err error) error {
	switch {
	case errors.Is(err, pn532.ErrNoTagDetected), errors.Is(err, pn532.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return errs.New(errs.NoTag, err)
	default:
		return errs.New(errs.Unspecified, err)
	}
}

// Reader drives the PN532 front-end on its own worker goroutine (spec §5
// "NFC worker"), ticking the tag-presence state machine roughly every 10ms
// and pinging a Watchdog once per tick.
type Reader struct {
	pcd                 PCD
	terminalKeyProvider func() ntag424.KeyProvider
	watchdog            watchdog.Pinger

	mu          sync.Mutex
	state       State
	actions     []NtagAction
	subscribers []chan Event

	started bool
	cancel  context.CancelFunc
}

// New constructs a Reader. terminalKeyProvider is called once per tag
// arrival to build a fresh local key provider for the terminal-key
// AuthenticateEV2First (spec §4.1 TagPresent row); it is a factory rather
// than a shared instance because KeyProvider retains per-handshake RndA
// state that must not leak across tags.
func New(pcd PCD, terminalKeyProvider func() ntag424.KeyProvider, wd watchdog.Pinger) *Reader {
	if wd == nil {
		wd = watchdog.Noop{}
	}
	return &Reader{
		pcd:                 pcd,
		terminalKeyProvider: terminalKeyProvider,
		watchdog:            wd,
		state:               WaitingForTag{},
	}
}

// Start begins the reader's worker loop. A second call while already
// started fails with WrongState.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errs.Newf(errs.WrongState, "reader: already started")
	}
	workerCtx, cancel := context.WithCancel(ctx)
	r.started = true
	r.cancel = cancel
	r.mu.Unlock()

	go r.run(workerCtx)
	return nil
}

// Stop cancels the worker loop. Safe to call even if Start was never
// called.
func (r *Reader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	r.started = false
}

func (r *Reader) run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.watchdog.Ping()
			r.tick(ctx)
		}
	}
}

func (r *Reader) snapshotState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reader) tick(ctx context.Context) {
	switch s := r.snapshotState().(type) {
	case WaitingForTag:
		r.tickWaitingForTag(ctx)
	case TagPresent:
		r.tickTagPresent(ctx, s)
	case UnsupportedTag:
		r.tickUnsupportedTag(ctx, s)
	case Ntag424Unauthenticated:
		r.tickUnauthenticated(ctx, s)
	case Ntag424Authenticated:
		r.tickAuthenticated(ctx, s)
	case TagError:
		r.tickTagError(ctx, s)
	}
}

func (r *Reader) tickWaitingForTag(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, waitingForTagPollWindow)
	defer cancel()

	tag, err := r.pcd.DetectTagContext(pollCtx)
	if err != nil {
		return
	}
	r.transition(TagPresent{Tag: toAppTag(tag)})
}

func (r *Reader) tickTagPresent(ctx context.Context, s TagPresent) {
	if !s.Tag.SupportsISO14443_4 {
		r.transition(UnsupportedTag{Tag: s.Tag})
		return
	}

	raw := rawTransceiver{pcd: r.pcd}
	if err := ntag424.SelectApplication(ctx, raw); err != nil {
		log.WithError(err).Debug("ISO-Select NTAG 424 AID failed")
		r.transition(UnsupportedTag{Tag: s.Tag})
		return
	}

	session, err := ntag424.Authenticate(ctx, raw, r.terminalKeyProvider())
	if err != nil {
		log.WithError(err).Info("terminal-key authentication failed")
		r.transition(Ntag424Unauthenticated{Tag: s.Tag, AntiCollisionUID: s.Tag.AntiCollisionUID})
		return
	}

	uid, err := ntag424.GetCardUID(ctx, raw, session)
	session.Close() // the terminal-key session's only job was the real UID
	if err != nil {
		log.WithError(err).Warn("GetCardUID failed after successful authentication")
		r.transition(Ntag424Unauthenticated{Tag: s.Tag, AntiCollisionUID: s.Tag.AntiCollisionUID})
		return
	}

	var realUID [7]byte
	copy(realUID[:], uid)
	r.transition(Ntag424Authenticated{Tag: s.Tag, RealUID: realUID})
}

func (r *Reader) tickUnsupportedTag(ctx context.Context, s UnsupportedTag) {
	_ = r.pcd.InReleaseContext(ctx, s.Tag.TargetNumber)

	pollCtx, cancel := context.WithTimeout(ctx, unsupportedRecheckDelay)
	defer cancel()
	if _, err := r.pcd.DetectTagContext(pollCtx); err != nil {
		r.transition(WaitingForTag{})
	}
	// else: still present, stay in UnsupportedTag
}

func (r *Reader) tickUnauthenticated(ctx context.Context, s Ntag424Unauthenticated) {
	if !r.presencePing(ctx, s.Tag) {
		r.transition(WaitingForTag{})
	}
}

func (r *Reader) tickAuthenticated(ctx context.Context, s Ntag424Authenticated) {
	if !r.presencePing(ctx, s.Tag) {
		r.abortActions(errs.New(errs.NoTag, errNoTag))
		r.transition(WaitingForTag{})
		return
	}

	action := r.peekAction()
	if action == nil {
		return
	}

	raw := rawTransceiver{pcd: r.pcd}
	if action.Loop(ctx, raw) == ActionDone {
		r.dequeueAction()
	}
}

func (r *Reader) tickTagError(ctx context.Context, s TagError) {
	if s.RetryCount >= maxTagErrorReleases {
		// PCD-level reset: releasing a target that may no longer exist is
		// harmless, and either way we fall back to WaitingForTag.
		_ = r.pcd.InReleaseContext(ctx, s.Tag.TargetNumber)
		r.transition(WaitingForTag{})
		return
	}
	if err := r.pcd.InReleaseContext(ctx, s.Tag.TargetNumber); err != nil {
		r.transition(TagError{Tag: s.Tag, RetryCount: s.RetryCount + 1})
		return
	}
	r.transition(WaitingForTag{})
}

// presencePing reports whether the tag from the last detection round is
// still in the field, using a short re-detect bounded by presencePingWindow
// (spec §5 "PN532 presence ping ... to bound loop latency").
func (r *Reader) presencePing(ctx context.Context, _ AppTag) bool {
	pingCtx, cancel := context.WithTimeout(ctx, presencePingWindow)
	defer cancel()
	_, err := r.pcd.DetectTagContext(pingCtx)
	return err == nil
}

func toAppTag(tag *pn532.DetectedTag) AppTag {
	return AppTag{
		AntiCollisionUID:   tag.UIDBytes,
		SAK:                tag.SAK,
		TargetNumber:       tag.TargetNumber,
		SupportsISO14443_4: tag.SAK&0x20 != 0,
	}
}

// transition swaps the owned state. Entering TagPresent (tag arrived) or
// WaitingForTag (tag departed) emits that NfcEvent to every current
// subscriber exactly once; other transitions emit nothing. It does not touch
// the action queue: tickAuthenticated aborts pending actions before it
// leaves Ntag424Authenticated.
func (r *Reader) transition(next State) {
	var ev Event
	switch next.(type) {
	case TagPresent:
		ev = Event{Type: EventArrived, State: next}
	case WaitingForTag:
		ev = Event{Type: EventDeparted, State: next}
	default:
		r.mu.Lock()
		r.state = next
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.state = next
	subs := r.subscribers
	r.subscribers = nil
	r.mu.Unlock()

	for _, ch := range subs {
		ch <- ev
		close(ch)
	}
}

// SubscribeEvent returns a channel that resolves with the next TagArrived
// or TagDeparted event. It is a one-shot future: the subscriber must
// re-subscribe after each event, and events emitted while nobody is
// subscribed are dropped (spec §4.1).
func (r *Reader) SubscribeEvent() <-chan Event {
	ch := make(chan Event, 1)
	r.mu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.mu.Unlock()
	return ch
}

// HasTag is a synchronous snapshot for the UI.
func (r *Reader) HasTag() bool {
	switch r.snapshotState().(type) {
	case WaitingForTag:
		return false
	default:
		return true
	}
}

// CurrentTag is a synchronous snapshot for the UI; returns (_, false) in
// WaitingForTag.
func (r *Reader) CurrentTag() (AppTag, bool) {
	switch s := r.snapshotState().(type) {
	case TagPresent:
		return s.Tag, true
	case UnsupportedTag:
		return s.Tag, true
	case Ntag424Unauthenticated:
		return s.Tag, true
	case Ntag424Authenticated:
		return s.Tag, true
	case TagError:
		return s.Tag, true
	default:
		return AppTag{}, false
	}
}

// CurrentState returns the current NfcState snapshot.
func (r *Reader) CurrentState() State {
	return r.snapshotState()
}

// QueueAction enqueues an NtagAction onto the FIFO action queue serviced
// one Loop call per tick while the tag is Ntag424Authenticated. It fails
// with NoTag if the reader is not currently in that state.
func (r *Reader) QueueAction(action NtagAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.(Ntag424Authenticated); !ok {
		return errs.New(errs.NoTag, errNoTag)
	}
	r.actions = append(r.actions, action)
	return nil
}

func (r *Reader) peekAction() NtagAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.actions) == 0 {
		return nil
	}
	return r.actions[0]
}

func (r *Reader) dequeueAction() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.actions) > 0 {
		r.actions = r.actions[1:]
	}
}

func (r *Reader) abortActions(err error) {
	r.mu.Lock()
	pending := r.actions
	r.actions = nil
	r.mu.Unlock()
	for _, a := range pending {
		a.OnAbort(err)
	}
}

// RequestTransceive exchanges one APDU with the currently selected tag,
// valid only while Ntag424Authenticated. It is implemented as a
// transceiveAction sharing the same FIFO queue as StartSession-style
// actions, so it never runs out of order with them (spec §4.1).
func (r *Reader) RequestTransceive(ctx context.Context, apdu []byte, timeout time.Duration) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	respCh := make(chan transceiveResult, 1)
	action := &transceiveAction{apdu: apdu, respCh: respCh}
	if err := r.QueueAction(action); err != nil {
		return nil, err
	}

	select {
	case res := <-respCh:
		return res.data, res.err
	case <-callCtx.Done():
		return nil, errs.New(errs.Timeout, callCtx.Err())
	}
}

// Transceive implements ntag424.Transceiver by delegating to
// RequestTransceive with a generous default timeout, so the NTAG protocol
// layer (and key providers that need a Transceiver boundary) can use a
// Reader directly.
func (r *Reader) Transceive(ctx context.Context, apdu []byte) ([]byte, error) {
	return r.RequestTransceive(ctx, apdu, 2*time.Second)
}

var _ ntag424.Transceiver = (*Reader)(nil)
