package session

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
	"github.com/werkstattwaedi/machine-auth-sub000/firebaseclient"
	"github.com/werkstattwaedi/machine-auth-sub000/keyprovider"
	"github.com/werkstattwaedi/machine-auth-sub000/ntag424"
	"github.com/werkstattwaedi/machine-auth-sub000/reader"
)

var log = logrus.WithField("component", "session")

// DefaultExpiry is how long a freshly-authorized TokenSession is valid.
// Neither /api/terminalCheckin nor /api/completeTagAuth carries an expiry
// (spec §4.7's table), so the terminal applies this local default rather
// than leaving Expiry unset — see DESIGN.md.
const DefaultExpiry = 12 * time.Hour

// CloudTransport is the slice of the Firebase facade StartSessionAction
// needs: the checkin lookup plus the two legs keyprovider.Cloud forwards
// through during AuthenticateEV2First.
type CloudTransport interface {
	TerminalCheckin(ctx context.Context, tagUID string) (firebaseclient.CheckinResult, error)
	keyprovider.CloudTransport
}

type actionStage int

const (
	stageBegin actionStage = iota
	stageAwaitCheckin
	stageSucceeded
	stageRejected
	stageFailed
)

type checkinResult struct {
	res firebaseclient.CheckinResult
	err error
}

// StartSessionAction is the Session Coordinator's queued NFC action (spec
// §4.4, supplemented feature C.1): Begin -> AwaitStartSession ->
// (AuthRequired) cloud Authenticate -> { Succeeded | Rejected | Failed }.
// It implements reader.NtagAction so it runs serialized with other PN532
// I/O on the NFC worker.
type StartSessionAction struct {
	tagUID              [7]byte
	transport           CloudTransport
	sessions            *Sessions
	requiredPermissions []string

	mu      sync.Mutex
	stage   actionStage
	message string
	err     error

	checkinCh  chan checkinResult
	checkinSet bool

	result *TokenSession
}

var _ reader.NtagAction = (*StartSessionAction)(nil)

// NewStartSessionAction constructs the action for one tag encounter.
// requiredPermissions seeds the resulting TokenSession's permission set
// (see DefaultExpiry's comment: the cloud endpoints in scope don't return
// a permission list of their own).
func NewStartSessionAction(tagUID [7]byte, transport CloudTransport, sessions *Sessions, requiredPermissions []string) *StartSessionAction {
	return &StartSessionAction{
		tagUID:              tagUID,
		transport:           transport,
		sessions:            sessions,
		requiredPermissions: requiredPermissions,
	}
}

// Loop implements reader.NtagAction.
func (a *StartSessionAction) Loop(ctx context.Context, t ntag424.Transceiver) reader.ActionResult {
	a.mu.Lock()
	stage := a.stage
	a.mu.Unlock()

	switch stage {
	case stageBegin:
		a.begin(ctx)
		return reader.ActionContinue
	case stageAwaitCheckin:
		a.awaitCheckin(ctx, t)
		return a.resultCode()
	default:
		return reader.ActionDone
	}
}

func (a *StartSessionAction) resultCode() reader.ActionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stage == stageSucceeded || a.stage == stageRejected || a.stage == stageFailed {
		return reader.ActionDone
	}
	return reader.ActionContinue
}

func (a *StartSessionAction) begin(ctx context.Context) {
	if existing, ok := a.sessions.GetSessionForToken(a.tagUID); ok {
		a.finishSucceeded(existing)
		return
	}

	a.checkinCh = make(chan checkinResult, 1)
	a.mu.Lock()
	a.stage = stageAwaitCheckin
	a.mu.Unlock()

	tagUIDHex := hex.EncodeToString(a.tagUID[:])
	go func() {
		res, err := a.transport.TerminalCheckin(ctx, tagUIDHex)
		a.checkinCh <- checkinResult{res: res, err: err}
	}()
}

func (a *StartSessionAction) awaitCheckin(ctx context.Context, t ntag424.Transceiver) {
	if !a.checkinSet {
		select {
		case res := <-a.checkinCh:
			a.checkinSet = true
			if res.err != nil {
				a.finishFailed(res.err)
				return
			}
			a.handleCheckin(ctx, t, res.res)
		default:
			// still pending, stay in this stage
		}
	}
}

func (a *StartSessionAction) handleCheckin(ctx context.Context, t ntag424.Transceiver, res firebaseclient.CheckinResult) {
	if !res.Authorized {
		a.finishRejected(res.Message)
		return
	}

	if res.AuthID != "" {
		a.finishSucceeded(NewTokenSession(res.AuthID, a.tagUID, time.Now().Add(DefaultExpiry), res.UserID, res.UserLabel, a.requiredPermissions))
		return
	}

	// AuthRequired: re-select the application (the checkin's presence ping
	// already disturbed authentication state) and run AuthenticateEV2First
	// against the authorization key slot with the cloud key provider.
	if err := ntag424.SelectApplication(ctx, t); err != nil {
		a.finishFailed(err)
		return
	}

	tagUIDHex := hex.EncodeToString(a.tagUID[:])
	cloud := keyprovider.NewCloud(a.transport, tagUIDHex, keyprovider.KeyAuthorization)
	cloudSession, err := ntag424.Authenticate(ctx, t, cloud)
	if err != nil {
		a.finishFailed(err)
		return
	}
	cloudSession.Close()

	a.finishSucceeded(NewTokenSession(cloud.AuthID(), a.tagUID, time.Now().Add(DefaultExpiry), res.UserID, res.UserLabel, a.requiredPermissions))
}

func (a *StartSessionAction) finishSucceeded(session *TokenSession) {
	if err := a.sessions.RegisterSession(session); err != nil && errs.KindOf(err) != errs.WrongState {
		log.WithError(err).Error("unexpected error registering session")
	}
	a.mu.Lock()
	a.stage = stageSucceeded
	a.result = session
	a.mu.Unlock()
}

func (a *StartSessionAction) finishRejected(message string) {
	a.mu.Lock()
	a.stage = stageRejected
	a.message = message
	a.mu.Unlock()
}

func (a *StartSessionAction) finishFailed(err error) {
	log.WithError(err).Warn("start session action failed")
	a.mu.Lock()
	a.stage = stageFailed
	a.err = err
	a.mu.Unlock()
}

// OnAbort implements reader.NtagAction: tag departure fails the action as
// if the cloud round trip itself had failed.
func (a *StartSessionAction) OnAbort(err error) {
	a.finishFailed(err)
}

// IsComplete reports whether the action has reached a terminal sub-state.
func (a *StartSessionAction) IsComplete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stage == stageSucceeded || a.stage == stageRejected || a.stage == stageFailed
}

// Outcome reports the action's terminal sub-state: the resulting session
// on success, a user-facing rejection message, or an error.
func (a *StartSessionAction) Outcome() (session *TokenSession, rejectedMessage string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result, a.message, a.err
}
