package session

import (
	"time"

	"github.com/werkstattwaedi/machine-auth-sub000/reader"
)

// CoordinatorState is the tagged-variant sum type for the Session
// Coordinator (spec §4.4).
type CoordinatorState interface{ isCoordinatorState() }

// Idle means no tag is authenticated at the RF layer.
type Idle struct{}

// WaitingForTag means the tag just became authenticated and the
// coordinator has not yet decided what to do; the same Loop call that
// enters it replaces it (SessionActive, AuthenticatingTag or Rejected).
type WaitingForTag struct{ TagUID [7]byte }

// AuthenticatingTag means a StartSessionAction is in flight on the NFC
// worker's action queue.
type AuthenticatingTag struct {
	TagUID [7]byte
	Action *StartSessionAction
}

// SessionActive means the tag is authorized and its TokenSession is live.
type SessionActive struct {
	TagUID  [7]byte
	Session *TokenSession
}

// Rejected displays a rejection message for a few seconds before
// returning to Idle.
type Rejected struct {
	Message    string
	RejectedAt time.Time
}

func (Idle) isCoordinatorState()             {}
func (WaitingForTag) isCoordinatorState()     {}
func (AuthenticatingTag) isCoordinatorState() {}
func (SessionActive) isCoordinatorState()     {}
func (Rejected) isCoordinatorState()          {}

// rejectedDisplay is how long a Rejected state is shown before returning
// to Idle (spec §4.4).
const rejectedDisplay = 5 * time.Second

// ActionQueue is the slice of reader.Reader the Coordinator needs to queue
// a StartSessionAction.
type ActionQueue interface {
	QueueAction(action reader.NtagAction) error
}

// Coordinator combines NFC-layer state and cloud authorization results
// into a per-tag session (spec §4.4), observing reader.Entered/Exited
// transitions on Ntag424Authenticated rather than polling.
type Coordinator struct {
	queue               ActionQueue
	transport           CloudTransport
	sessions            *Sessions
	requiredPermissions []string
	now                 func() time.Time

	state        CoordinatorState
	lastNfcState reader.State
}

// NewCoordinator constructs a Coordinator in the Idle state.
func NewCoordinator(queue ActionQueue, transport CloudTransport, sessions *Sessions, requiredPermissions []string) *Coordinator {
	return &Coordinator{
		queue:               queue,
		transport:           transport,
		sessions:            sessions,
		requiredPermissions: requiredPermissions,
		now:                 time.Now,
		state:               Idle{},
	}
}

// State returns the coordinator's current state snapshot.
func (c *Coordinator) State() CoordinatorState { return c.state }

// Loop advances the coordinator given the latest NFC state snapshot. It is
// driven by the main dispatcher, not the NFC worker.
func (c *Coordinator) Loop(nfcState reader.State) CoordinatorState {
	if c.lastNfcState != nil {
		if auth, ok := reader.Entered[reader.Ntag424Authenticated](c.lastNfcState, nfcState); ok {
			if _, isIdle := c.state.(Idle); isIdle {
				c.state = WaitingForTag{TagUID: auth.RealUID}
			}
		}
		if _, ok := reader.Exited[reader.Ntag424Authenticated](c.lastNfcState, nfcState); ok {
			if _, isIdle := c.state.(Idle); !isIdle {
				c.state = Idle{}
			}
		}
	}
	c.lastNfcState = nfcState

	switch s := c.state.(type) {
	case WaitingForTag:
		c.onWaitingForTag(s)
	case AuthenticatingTag:
		c.onAuthenticatingTag(s)
	case Rejected:
		c.onRejected(s)
	}
	return c.state
}

func (c *Coordinator) onWaitingForTag(s WaitingForTag) {
	if existing, ok := c.sessions.GetSessionForToken(s.TagUID); ok {
		c.state = SessionActive{TagUID: s.TagUID, Session: existing}
		return
	}

	action := NewStartSessionAction(s.TagUID, c.transport, c.sessions, c.requiredPermissions)
	if err := c.queue.QueueAction(action); err != nil {
		log.WithError(err).Error("failed to queue start session action")
		c.state = Rejected{Message: "Failed to start authentication", RejectedAt: c.now()}
		return
	}
	c.state = AuthenticatingTag{TagUID: s.TagUID, Action: action}
}

func (c *Coordinator) onAuthenticatingTag(s AuthenticatingTag) {
	if !s.Action.IsComplete() {
		return
	}
	session, message, err := s.Action.Outcome()
	switch {
	case session != nil:
		log.WithField("user_label", session.UserLabel).Info("session authenticated")
		c.state = SessionActive{TagUID: s.TagUID, Session: session}
	case message != "":
		log.WithField("message", message).Warn("session authentication rejected")
		c.state = Rejected{Message: message, RejectedAt: c.now()}
	default:
		log.WithError(err).Error("session authentication failed")
		c.state = Rejected{Message: "Authentication failed", RejectedAt: c.now()}
	}
}

func (c *Coordinator) onRejected(s Rejected) {
	if c.now().Sub(s.RejectedAt) > rejectedDisplay {
		c.state = Idle{}
	}
}
