package verifier

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/werkstattwaedi/machine-auth-sub000/firebaseclient"
	"github.com/werkstattwaedi/machine-auth-sub000/keyprovider"
	"github.com/werkstattwaedi/machine-auth-sub000/ntag424"
	"github.com/werkstattwaedi/machine-auth-sub000/reader"
)

// CloudTransport is the slice of the Firebase facade the authorizeAction
// needs: the checkin lookup plus the two legs keyprovider.Cloud forwards
// through during AuthenticateEV2First. Distinct from but structurally
// identical to session.CloudTransport (see DESIGN.md for why the Tag
// Verifier and the Session Coordinator each keep their own copy).
type CloudTransport interface {
	TerminalCheckin(ctx context.Context, tagUID string) (firebaseclient.CheckinResult, error)
	keyprovider.CloudTransport
}

type authorizeStage int

const (
	authorizeStageBegin authorizeStage = iota
	authorizeStageAwaitCheckin
	authorizeStageDone
)

type authorizeCheckinResult struct {
	res firebaseclient.CheckinResult
	err error
}

// authorizeAction is the Tag Verifier's queued NFC action: Begin -> await
// TerminalCheckin -> (AuthRequired) cloud Authenticate -> terminal outcome.
// It implements reader.NtagAction so it runs serialized with other PN532
// I/O on the NFC worker, exactly like session.StartSessionAction, but
// reports its result through Outcome rather than a *TokenSession.
type authorizeAction struct {
	tagUID    [7]byte
	transport CloudTransport

	mu      sync.Mutex
	stage   authorizeStage
	userID  string
	label   string
	authID  string
	message string
	err     error

	checkinCh  chan authorizeCheckinResult
	checkinSet bool
}

var _ reader.NtagAction = (*authorizeAction)(nil)

func newAuthorizeAction(tagUID [7]byte, transport CloudTransport) *authorizeAction {
	return &authorizeAction{tagUID: tagUID, transport: transport}
}

// Loop implements reader.NtagAction.
func (a *authorizeAction) Loop(ctx context.Context, t ntag424.Transceiver) reader.ActionResult {
	a.mu.Lock()
	stage := a.stage
	a.mu.Unlock()

	switch stage {
	case authorizeStageBegin:
		a.begin(ctx)
		return reader.ActionContinue
	case authorizeStageAwaitCheckin:
		a.awaitCheckin(ctx, t)
		return a.resultCode()
	default:
		return reader.ActionDone
	}
}

func (a *authorizeAction) resultCode() reader.ActionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stage == authorizeStageDone {
		return reader.ActionDone
	}
	return reader.ActionContinue
}

func (a *authorizeAction) begin(ctx context.Context) {
	a.checkinCh = make(chan authorizeCheckinResult, 1)
	a.mu.Lock()
	a.stage = authorizeStageAwaitCheckin
	a.mu.Unlock()

	tagUIDHex := hex.EncodeToString(a.tagUID[:])
	go func() {
		res, err := a.transport.TerminalCheckin(ctx, tagUIDHex)
		a.checkinCh <- authorizeCheckinResult{res: res, err: err}
	}()
}

func (a *authorizeAction) awaitCheckin(ctx context.Context, t ntag424.Transceiver) {
	if a.checkinSet {
		return
	}
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

func (a *authorizeAction) handleCheckin(ctx context.Context, t ntag424.Transceiver, res firebaseclient.CheckinResult) {
	if !res.Authorized {
		a.finishRejected(res.Message)
		return
	}

	if res.AuthID != "" {
		a.finishDone(res.UserID, res.UserLabel, res.AuthID, "", nil)
		return
	}

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

	a.finishDone(res.UserID, res.UserLabel, cloud.AuthID(), "", nil)
}

func (a *authorizeAction) finishDone(userID, label, authID, message string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stage = authorizeStageDone
	a.userID, a.label, a.authID, a.message, a.err = userID, label, authID, message, err
}

func (a *authorizeAction) finishRejected(message string) {
	a.finishDone("", "", "", message, nil)
}

func (a *authorizeAction) finishFailed(err error) {
	log.WithError(err).Warn("authorize action failed")
	a.finishDone("", "", "", "", err)
}

// OnAbort implements reader.NtagAction: tag departure fails the action as
// if the cloud round trip itself had failed.
func (a *authorizeAction) OnAbort(err error) {
	a.finishFailed(err)
}

// IsComplete reports whether the action has reached its terminal state.
func (a *authorizeAction) IsComplete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stage == authorizeStageDone
}

// Outcome reports the action's result: a user ID/label/auth ID triple on
// success, a rejection message, or an error — mutually exclusive.
func (a *authorizeAction) Outcome() (userID, userLabel, authID, message string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID, a.label, a.authID, a.message, a.err
}
