// Package verifier implements the Tag Verifier (spec §4.3): for each newly
// authenticated tag it obtains cloud authorization, short-circuiting
// through the Auth Cache when possible, and reports one event per state
// transition to a small set of registered observers.
package verifier

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/werkstattwaedi/machine-auth-sub000/authcache"
	"github.com/werkstattwaedi/machine-auth-sub000/errs"
	"github.com/werkstattwaedi/machine-auth-sub000/reader"
)

var log = logrus.WithField("component", "verifier")

// maxObservers bounds the observer slice at registration time (spec §9
// "Bounded capacity (≈ 4) is part of the contract").
const maxObservers = 4

// Event is the tagged-variant sum type emitted to observers, one per state
// transition (spec §4.3's "TagArrived → Verifying → TagVerified(real_uid)
// → Authorizing → { Authorized | Unauthorized }").
type Event interface{ isEvent() }

// Verifying fires once a newly-authenticated tag begins verification.
type Verifying struct{ RealUID [7]byte }

// TagVerified fires once the real UID is known (already true by the time
// the reader reaches Ntag424Authenticated, so this follows Verifying
// immediately).
type TagVerified struct{ RealUID [7]byte }

// Authorizing fires once the cloud authorization round trip begins (or is
// skipped via an Auth Cache hit).
type Authorizing struct{ RealUID [7]byte }

// Authorized is the terminal success event.
type Authorized struct {
	RealUID   [7]byte
	UserID    string
	UserLabel string
	AuthID    string
}

// Unauthorized is the terminal failure event. Cloud rejections and
// transport/protocol errors are collapsed to this single variant at the
// observer API (spec §4.3 "Cloud rejections are distinguished in the log
// but collapsed to Unauthorized at the observer API").
type Unauthorized struct{ RealUID [7]byte }

func (Verifying) isEvent()    {}
func (TagVerified) isEvent()  {}
func (Authorizing) isEvent()  {}
func (Authorized) isEvent()   {}
func (Unauthorized) isEvent() {}

// Observer receives one call per state transition, in order.
type Observer func(Event)

// ActionQueue is the slice of reader.Reader the Verifier needs to queue its
// authorization action.
type ActionQueue interface {
	QueueAction(action reader.NtagAction) error
}

// Verifier observes reader.State transitions and drives the per-tag
// authorization pipeline. It is a single-threaded, main-dispatcher-owned
// component (spec §5); neither it nor its Auth Cache needs locking
// internally, but RegisterObserver/emit use a mutex because observer
// registration can happen from any goroutine during boot wiring.
type Verifier struct {
	queue     ActionQueue
	transport CloudTransport
	cache     *authcache.Cache

	mu        sync.Mutex
	observers []Observer

	lastNfcState reader.State
	pending      *authorizeAction
	pendingUID   [7]byte
}

// New constructs a Verifier over queue (the NFC reader), transport (the
// Firebase facade), and cache (the Auth Cache, spec §4.8).
func New(queue ActionQueue, transport CloudTransport, cache *authcache.Cache) *Verifier {
	return &Verifier{queue: queue, transport: transport, cache: cache}
}

// RegisterObserver adds o to the bounded observer list. Fails with
// WrongState once maxObservers is reached.
func (v *Verifier) RegisterObserver(o Observer) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.observers) >= maxObservers {
		return errs.Newf(errs.WrongState, "verifier: observer capacity (%d) reached", maxObservers)
	}
	v.observers = append(v.observers, o)
	return nil
}

func (v *Verifier) emit(ev Event) {
	v.mu.Lock()
	observers := append([]Observer(nil), v.observers...)
	v.mu.Unlock()
	for _, o := range observers {
		o(ev)
	}
}

// Loop advances the Verifier given the latest NFC state snapshot. Driven by
// the main dispatcher, not the NFC worker.
func (v *Verifier) Loop(nfcState reader.State) {
	if v.lastNfcState != nil {
		if auth, ok := reader.Entered[reader.Ntag424Authenticated](v.lastNfcState, nfcState); ok {
			v.onTagArrived(auth.RealUID)
		}
		if _, ok := reader.Exited[reader.Ntag424Authenticated](v.lastNfcState, nfcState); ok {
			v.onTagDeparted()
		}
	}
	v.lastNfcState = nfcState

	if v.pending != nil && v.pending.IsComplete() {
		v.onPendingComplete()
	}
}

func (v *Verifier) onTagArrived(realUID [7]byte) {
	v.emit(Verifying{RealUID: realUID})
	v.emit(TagVerified{RealUID: realUID})

	if entry, ok := v.cache.Get(realUID); ok {
		log.WithField("user_label", entry.UserLabel).Debug("auth cache hit, skipping cloud round trip")
		v.emit(Authorizing{RealUID: realUID})
		v.emit(Authorized{RealUID: realUID, UserLabel: entry.UserLabel, AuthID: entry.AuthID})
		return
	}

	v.emit(Authorizing{RealUID: realUID})

	action := newAuthorizeAction(realUID, v.transport)
	if err := v.queue.QueueAction(action); err != nil {
		log.WithError(err).Error("failed to queue authorization action")
		v.emit(Unauthorized{RealUID: realUID})
		return
	}
	v.pending = action
	v.pendingUID = realUID
}

func (v *Verifier) onTagDeparted() {
	v.pending = nil
}

func (v *Verifier) onPendingComplete() {
	action := v.pending
	uid := v.pendingUID
	v.pending = nil

	userID, userLabel, authID, message, err := action.Outcome()
	if err != nil || message != "" {
		if message != "" {
			log.WithField("message", message).Info("cloud rejected tag authorization")
		} else {
			log.WithError(err).Warn("tag authorization failed")
		}
		v.emit(Unauthorized{RealUID: uid})
		return
	}

	v.cache.Put(uid, authcache.Entry{AuthID: authID, UserLabel: userLabel})
	v.emit(Authorized{RealUID: uid, UserID: userID, UserLabel: userLabel, AuthID: authID})
}
