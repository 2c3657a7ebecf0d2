package usage

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
	"github.com/werkstattwaedi/machine-auth-sub000/relay"
	"github.com/werkstattwaedi/machine-auth-sub000/session"
	"github.com/werkstattwaedi/machine-auth-sub000/sysclock"
)

var log = logrus.WithField("component", "usage")

// AbsoluteTimeout is the hard ceiling on a single check-in (spec §4.5
// "Active-state tick: if now - start_time > 8 h").
const AbsoluteTimeout int64 = 8 * 60 * 60

// DeniedDisplay is how long a Denied state is shown before returning to
// Idle (spec §4.5 "Denied-state tick: after 5 s return to Idle").
const DeniedDisplay int64 = 5

// ClearPolicy resolves the open question from spec §9 on UploadHistory:
// whether records are cleared as soon as the upload is submitted, or only
// once the cloud has acknowledged it. See DESIGN.md for the decision.
type ClearPolicy int

const (
	// ClearOnSubmit clears local records as soon as UploadUsage returns
	// without error — matches the firmware's current (optimistic) behavior.
	ClearOnSubmit ClearPolicy = iota
	// ClearOnAck would only clear once the cloud has separately confirmed
	// receipt; not wired to any transport in this terminal, kept as the
	// safer alternative the seam exists for.
	ClearOnAck
)

// Uploader is the Firebase facade slice MachineUsage needs to submit a
// history batch.
type Uploader interface {
	UploadUsage(ctx context.Context, batch []byte) error
}

// State is the tagged-variant sum type for the Machine Usage state machine
// (spec §4.5).
type State interface{ isUsageState() }

// Idle means the relay is OFF and no session is checked in.
type Idle struct{}

// Active means the relay is ON for Session, checked in at StartTime.
type Active struct {
	Session   *session.TokenSession
	StartTime int64 // epoch seconds
}

// Denied means the relay is OFF and Message is displayed until DeniedAt +
// DeniedDisplay.
type Denied struct {
	Message  string
	DeniedAt int64 // epoch seconds
}

func (Idle) isUsageState()   {}
func (Active) isUsageState() {}
func (Denied) isUsageState() {}

// MachineUsage drives the physical relay from Session Coordinator state,
// records usage, and enforces permissions and the absolute timeout (spec
// §4.5). Grounded on machine_state.cpp's MachineUsage.
type MachineUsage struct {
	relay               *relay.Relay
	store               *Store
	uploader            Uploader
	clock               sysclock.Wall
	requiredPermissions []string
	clearPolicy         ClearPolicy

	history *History
	state   State

	lastCoordinatorState session.CoordinatorState
}

// New constructs a MachineUsage, loading any persisted history via store.
// clearPolicy resolves the UploadHistory open question (spec §9); pass
// ClearOnSubmit to match the firmware's current behavior.
func New(r *relay.Relay, store *Store, uploader Uploader, clock sysclock.Wall, requiredPermissions []string, clearPolicy ClearPolicy) *MachineUsage {
	return &MachineUsage{
		relay:               r,
		store:               store,
		uploader:            uploader,
		clock:               clock,
		requiredPermissions: requiredPermissions,
		clearPolicy:         clearPolicy,
		history:             store.Load(),
		state:               Idle{},
	}
}

// State returns the current state snapshot.
func (m *MachineUsage) State() State { return m.state }

// History returns the in-memory usage history (owned exclusively by
// MachineUsage; callers must not mutate the returned records).
func (m *MachineUsage) History() *History { return m.history }

// Loop advances MachineUsage given the latest Session Coordinator state
// snapshot: translates SessionActive entry/exit into CheckIn/CheckOut
// (spec §4.5's event mapping), runs the Active/Denied tick logic, and
// reconciles the physical relay to the state machine's desired level.
func (m *MachineUsage) Loop(coordinatorState session.CoordinatorState) {
	m.observeCoordinator(coordinatorState)

	switch s := m.state.(type) {
	case Active:
		m.tickActive(s)
	case Denied:
		m.tickDenied(s)
	}

	m.updateRelay()
}

func (m *MachineUsage) observeCoordinator(next session.CoordinatorState) {
	prev := m.lastCoordinatorState
	m.lastCoordinatorState = next

	if prev == nil {
		return
	}

	_, prevActive := prev.(session.SessionActive)
	nextActive, isActive := next.(session.SessionActive)

	if !prevActive && isActive {
		if _, idle := m.state.(Idle); idle {
			if err := m.CheckIn(nextActive.Session); err != nil {
				log.WithError(err).Error("check-in failed")
			}
		}
		return
	}

	if prevActive && !isActive {
		if _, active := m.state.(Active); active {
			if err := m.CheckOut(ReasonUI); err != nil {
				log.WithError(err).Error("check-out failed")
			}
		}
	}
}

// CheckIn transitions Idle -> Active (or Idle -> Denied if the session is
// missing a required permission), appending and persisting a new open
// usage record on success.
func (m *MachineUsage) CheckIn(s *session.TokenSession) error {
	if _, idle := m.state.(Idle); !idle {
		return errs.Newf(errs.WrongState, "usage: CheckIn called while not Idle")
	}

	now := m.clock.NowEpochSeconds()

	if missing := s.MissingPermissions(m.requiredPermissions); len(missing) > 0 {
		log.WithField("missing", strings.Join(missing, ", ")).Warn("check-in denied: missing permissions")
		m.state = Denied{Message: "Keine Berechtigung", DeniedAt: now}
		return nil
	}

	m.state = Active{Session: s, StartTime: now}
	m.history.Records = append(m.history.Records, Record{
		SessionID: s.SessionID,
		CheckIn:   now,
	})

	if err := m.store.Persist(m.history); err != nil {
		log.WithError(err).Error("failed to persist check-in record")
	}
	return nil
}

// CheckOut closes the active record with reason, returns to Idle, and
// submits the history for upload before returning.
func (m *MachineUsage) CheckOut(reason Reason) error {
	active, isActive := m.state.(Active)
	if !isActive {
		return errs.Newf(errs.WrongState, "usage: CheckOut called while not Active")
	}

	if err := m.closeTailRecord(active.Session.SessionID, reason); err != nil {
		return err
	}

	m.state = Idle{}
	m.uploadHistory()
	return nil
}

func (m *MachineUsage) closeTailRecord(sessionID string, reason Reason) error {
	if len(m.history.Records) == 0 {
		return errs.Newf(errs.UnexpectedState, "usage: no history record to close")
	}
	tail := &m.history.Records[len(m.history.Records)-1]
	if tail.SessionID != sessionID || tail.CheckOut != 0 {
		return errs.Newf(errs.UnexpectedState, "usage: unexpected tail record in history")
	}
	tail.CheckOut = m.clock.NowEpochSeconds()
	tail.Reason = reason
	return nil
}

func (m *MachineUsage) tickActive(s Active) {
	now := m.clock.NowEpochSeconds()
	if now-s.StartTime <= AbsoluteTimeout {
		return
	}

	log.WithField("started_at", s.StartTime).Warn("session timed out")
	if err := m.closeTailRecord(s.Session.SessionID, ReasonTimeout); err != nil {
		log.WithError(err).Error("failed to close timed-out record")
	} else if err := m.store.Persist(m.history); err != nil {
		log.WithError(err).Error("failed to persist timeout record")
	}
	m.uploadHistory()
	m.state = Idle{}
}

func (m *MachineUsage) tickDenied(s Denied) {
	if m.clock.NowEpochSeconds()-s.DeniedAt > DeniedDisplay {
		m.state = Idle{}
	}
}

func (m *MachineUsage) updateRelay() {
	_, active := m.state.(Active)
	if err := m.relay.SetDesired(active); err != nil {
		log.WithError(err).Error("failed to update relay")
	}
}

// uploadHistory serializes the current records and submits them to the
// cloud. On success, local records are cleared per ClearPolicy and the
// (now smaller) file is re-persisted — matching machine_state.cpp's
// UploadHistory, which clears optimistically rather than waiting for a
// separate acknowledgement.
func (m *MachineUsage) uploadHistory() {
	if len(m.history.Records) == 0 {
		return
	}

	batch := m.history.Marshal()
	if err := m.uploader.UploadUsage(context.Background(), batch); err != nil {
		log.WithError(err).Error("failed to upload usage history")
		return
	}

	if m.clearPolicy == ClearOnSubmit {
		m.history.Records = nil
		if err := m.store.Persist(m.history); err != nil {
			log.WithError(err).Error("failed to persist history after upload")
		}
	}
}
